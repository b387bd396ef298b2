package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/idempotencytest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newTestStore(t *testing.T) *IdempotencyStore {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI no definido, se omite el test de integración")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	dbName := "txmessaging_test_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	store, err := NewIdempotencyStore(ctx, client, dbName)
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func TestIdempotencyStore_Contract(t *testing.T) {
	store := newTestStore(t)
	idempotencytest.Run(t, func(*testing.T) domain.IdempotencyStore { return store })
}

func TestIDFor_NormalizesMethod(t *testing.T) {
	id := idFor(domain.IdempotencyKey{TenantID: "t", Key: "k", Method: "post", Path: "/orders"})
	assert.Equal(t, "POST", id.Method)

	rec := mongoIdempotency{ID: id, Status: "SUCCEEDED", CreatedAt: time.Unix(0, 0)}.toDomain()
	assert.Equal(t, "POST", rec.Method)
	assert.Nil(t, rec.ExpiresAt)
}
