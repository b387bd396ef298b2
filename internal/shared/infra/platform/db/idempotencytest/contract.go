// Package idempotencytest contiene la batería común que debe pasar cualquier domain.IdempotencyStore.
package idempotencytest

import (
	"context"
	"testing"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run ejecuta la batería contra el almacén que devuelve newStore.
// Las claves llevan un sufijo aleatorio para poder compartir el backend entre ejecuciones.
func Run(t *testing.T, newStore func(t *testing.T) domain.IdempotencyStore) {
	t.Run("Lifecycle", func(t *testing.T) { lifecycle(t, newStore(t)) })
	t.Run("TransitionIsCompareAndSet", func(t *testing.T) { transition(t, newStore(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { deleteExpired(t, newStore(t)) })
}

func uniqueKey(path string) domain.IdempotencyKey {
	return domain.IdempotencyKey{TenantID: "t-1", Key: "k-" + uuid.NewString(), Method: "post", Path: path}
}

func lifecycle(t *testing.T, store domain.IdempotencyStore) {
	ctx := context.Background()
	key := uniqueKey("/orders")
	now := time.Now().UTC().Truncate(time.Millisecond)
	expires := now.Add(time.Hour)

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrIdempotencyRecordNotFound)

	created, err := store.Create(ctx, domain.IdempotencyRecord{
		IdempotencyKey: key,
		RequestHash:    "h1",
		Status:         domain.IdempotencyInProgress,
		CreatedAt:      now,
		ExpiresAt:      &expires,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Create(ctx, domain.IdempotencyRecord{IdempotencyKey: key, RequestHash: "h2", Status: domain.IdempotencyInProgress, CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, store.SaveResponse(ctx, key, domain.IdempotencySucceeded, 201, []byte(`{"id":"o-1"}`)))

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, "h1", rec.RequestHash)
	assert.Equal(t, domain.IdempotencySucceeded, rec.Status)
	assert.Equal(t, 201, rec.StatusCode)
	assert.Equal(t, []byte(`{"id":"o-1"}`), rec.ResponseBody)
	require.NotNil(t, rec.ExpiresAt)
	assert.WithinDuration(t, expires, *rec.ExpiresAt, time.Millisecond)

	err = store.SaveResponse(ctx, key, domain.IdempotencyFailed, 500, nil)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func transition(t *testing.T, store domain.IdempotencyStore) {
	ctx := context.Background()
	key := uniqueKey("/orders/o-1/pay")

	_, err := store.Create(ctx, domain.IdempotencyRecord{IdempotencyKey: key, RequestHash: "h", Status: domain.IdempotencyInProgress, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, store.SaveResponse(ctx, key, domain.IdempotencyFailed, 500, []byte("boom")))

	ok, err := store.Transition(ctx, key, "other-hash", domain.IdempotencyFailed, domain.IdempotencyInProgress)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Transition(ctx, key, "h", domain.IdempotencyFailed, domain.IdempotencyInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Transition(ctx, key, "h", domain.IdempotencyFailed, domain.IdempotencyInProgress)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyInProgress, rec.Status)
	assert.Empty(t, rec.ResponseBody)
}

func deleteExpired(t *testing.T, store domain.IdempotencyStore) {
	ctx := context.Background()
	key := uniqueKey("/orders")
	now := time.Now().UTC()
	expires := now.Add(time.Minute)

	_, err := store.Create(ctx, domain.IdempotencyRecord{IdempotencyKey: key, RequestHash: "h", Status: domain.IdempotencyInProgress, CreatedAt: now, ExpiresAt: &expires})
	require.NoError(t, err)

	deleted, err := store.DeleteExpired(ctx, key, now)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.DeleteExpired(ctx, key, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrIdempotencyRecordNotFound)
}
