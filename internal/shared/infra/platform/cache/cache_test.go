package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type view struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)
	defer c.Stop()

	var got view
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "k", view{ID: "o-1", Status: "PAID"}, 0))
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "PAID", got.Status)

	Invalidate(ctx, c, "k", zap.NewNop())
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Hour)
	defer c.Stop()

	require.NoError(t, c.Set(ctx, "k", view{ID: "o-1"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got view
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGuard_AsyncSetEventuallyStores(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewMemoryCache(time.Minute, time.Minute)
	defer c.Stop()
	g := NewGuard()

	g.AsyncSet(ctx, c, "k", g.Generation("k"), view{ID: "o-1"}, time.Minute, zap.NewNop())
	cancel()

	assert.Eventually(t, func() bool {
		var got view
		hit, _ := c.Get(context.Background(), "k", &got)
		return hit && got.ID == "o-1"
	}, time.Second, 5*time.Millisecond)
}

func TestGuard_StaleWriteAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)
	defer c.Stop()
	g := NewGuard()

	gen := g.Generation("k")
	g.Invalidate(ctx, c, "k", zap.NewNop())
	g.AsyncSet(ctx, c, "k", gen, view{ID: "o-1", Status: "PENDING"}, time.Minute, zap.NewNop())

	assert.Never(t, func() bool {
		var got view
		hit, _ := c.Get(ctx, "k", &got)
		return hit
	}, 100*time.Millisecond, 5*time.Millisecond)

	// Con la generación nueva la escritura sí se aplica.
	g.AsyncSet(ctx, c, "k", g.Generation("k"), view{ID: "o-1", Status: "PAID"}, time.Minute, zap.NewNop())
	assert.Eventually(t, func() bool {
		var got view
		hit, _ := c.Get(ctx, "k", &got)
		return hit && got.Status == "PAID"
	}, time.Second, 5*time.Millisecond)
}

func TestRedisCache_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test: REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	c := NewRedisCache(client, "test:"+time.Now().Format("150405.000")+":")
	require.NoError(t, c.Set(ctx, "k", view{ID: "o-1"}, time.Minute))

	var got view
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "o-1", got.ID)

	require.NoError(t, c.Delete(ctx, "k"))
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}
