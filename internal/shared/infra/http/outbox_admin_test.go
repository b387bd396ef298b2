package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore/sqlstoretest"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
)

type recordsBody struct {
	Data []domain.OutboxRecord `json:"data"`
}

type recordBody struct {
	Data domain.OutboxRecord `json:"data"`
}

func newAdminRouter(t *testing.T) (*gin.Engine, *sqlstore.OutboxRepo, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	db := sqlstoretest.NewSQLite(t)
	repo := sqlstore.NewOutboxRepo(db, sqlstore.SQLite)

	now := time.Now().UTC().Add(-time.Second)
	rec := domain.OutboxRecord{
		ID:            uuid.New(),
		EventID:       uuid.NewString(),
		AggregateType: "order",
		AggregateID:   "o-1",
		Type:          "OrderPlaced",
		Payload:       json.RawMessage(`{}`),
		SchemaID:      "OrderPlaced",
		SchemaVersion: 1,
		Status:        domain.OutboxPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, tx, rec))
	require.NoError(t, tx.Commit())

	_, err = repo.ClaimPending(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, rec.ID, "w1", 3, "broker down"))

	r := gin.New()
	RegisterOutboxAdminRoutes(r, NewOutboxAdminHandler(repo, zap.NewNop()))
	RegisterOpsRoutes(r, db, metrics.New("test").Handler())
	return r, repo, rec.ID
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestOutboxAdmin_ListAndRequeueDeadLetter(t *testing.T) {
	r, repo, id := newAdminRouter(t)

	w := serve(r, http.MethodGet, "/admin/outbox")
	require.Equal(t, http.StatusOK, w.Code)
	var list recordsBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, id, list.Data[0].ID)
	assert.Equal(t, "broker down", list.Data[0].LastError)

	w = serve(r, http.MethodPost, "/admin/outbox/"+id.String()+"/requeue")
	require.Equal(t, http.StatusOK, w.Code)
	var got recordBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domain.OutboxPending, got.Data.Status)
	assert.Zero(t, got.Data.AttemptCount)

	stored, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, stored.Status)

	// Ya no es un dead-letter.
	w = serve(r, http.MethodPost, "/admin/outbox/"+id.String()+"/requeue")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOutboxAdmin_RejectsBadInput(t *testing.T) {
	r, _, _ := newAdminRouter(t)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/admin/outbox?status=LOST").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/admin/outbox?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/admin/outbox/not-a-uuid/requeue").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/admin/outbox/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/admin/outbox/"+uuid.NewString()+"/requeue").Code)
}

func TestOpsRoutes_HealthAndMetrics(t *testing.T) {
	r, _, _ := newAdminRouter(t)

	w := serve(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_")
}

type downDB struct{}

func (downDB) PingContext(context.Context) error { return context.DeadlineExceeded }

func TestOpsRoutes_HealthReportsUnavailableDatabase(t *testing.T) {
	r := gin.New()
	RegisterOpsRoutes(r, downDB{}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics").Code)
}

type upDB struct{}

func (upDB) PingContext(context.Context) error { return nil }

func TestOpsRoutes_HealthReportsFailingCheck(t *testing.T) {
	stopped := errors.New("consumer for payments stopped")
	r := gin.New()
	RegisterOpsRoutes(r, upDB{}, nil,
		func(context.Context) error { return nil },
		func(context.Context) error { return stopped },
	)

	w := serve(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "consumer for payments stopped")
}
