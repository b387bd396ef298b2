package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const asyncTimeout = 200 * time.Millisecond

// Invalidate borra la clave de forma síncrona y acotada. Se usa tras un commit,
// así la siguiente lectura ya no ve el estado anterior.
func Invalidate(ctx context.Context, c Cache, key string, log *zap.Logger) {
	if c == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
	defer cancel()

	if err := c.Delete(cacheCtx, key); err != nil {
		log.Warn("Cache deletion failed", zap.String("key", key), zap.Error(err))
	}
}
