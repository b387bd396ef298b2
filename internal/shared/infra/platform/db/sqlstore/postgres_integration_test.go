package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore/sqlstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_OutboxClaimAndInbox(t *testing.T) {
	db := sqlstoretest.NewPostgres(t)
	ctx := context.Background()
	repo := sqlstore.NewOutboxRepo(db, sqlstore.Postgres)
	inbox := sqlstore.NewInboxStore(sqlstore.Postgres)

	rec := newRecord(time.Now().Add(-time.Second), "o-pg")
	appendCommitted(t, db, repo, rec)

	claimed, err := repo.ClaimPending(ctx, "pg-1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.JSONEq(t, string(rec.Payload), string(claimed[0].Payload))

	again, err := repo.ClaimPending(ctx, "pg-2", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.MarkPublished(ctx, rec.ID, "pg-1", time.Now()))

	key := domain.InboxKey{ConsumerGroup: "order-service", EventID: rec.EventID}
	require.NoError(t, inbox.MarkProcessed(ctx, db, key, time.Now()))
	assert.ErrorIs(t, inbox.MarkProcessed(ctx, db, key, time.Now()), domain.ErrInboxAlreadyProcessed)
}
