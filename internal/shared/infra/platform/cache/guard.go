package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const guardStripes = 64

// Guard ordena dentro del proceso las escrituras de cache-aside frente a las invalidaciones.
// Una lectura toma la generación de la clave antes de ir al almacén; su escritura solo
// se aplica si ninguna invalidación de esa clave ocurrió entretanto.
// Las claves se reparten en franjas: una colisión solo hace que se pierda alguna escritura.
type Guard struct {
	stripes [guardStripes]guardStripe
}

type guardStripe struct {
	mu  sync.RWMutex
	gen uint64
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) stripe(key string) *guardStripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &g.stripes[h.Sum32()%guardStripes]
}

// Generation devuelve la generación actual de key.
func (g *Guard) Generation(key string) uint64 {
	s := g.stripe(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Invalidate avanza la generación y borra la clave. Espera a las escrituras en curso
// de la misma franja, así ninguna puede aterrizar después del borrado.
func (g *Guard) Invalidate(ctx context.Context, c Cache, key string, log *zap.Logger) {
	s := g.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	Invalidate(ctx, c, key, log)
}

// AsyncSet actualiza la caché en background sin bloquear la petición, solo si key
// sigue en la generación gen. Usa un contexto propio: debe completarse aunque la
// petición original se cancele.
func (g *Guard) AsyncSet(ctx context.Context, c Cache, key string, gen uint64, value any, ttl time.Duration, log *zap.Logger) {
	if c == nil {
		return
	}

	go func() {
		s := g.stripe(key)
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.gen != gen {
			log.Debug("Cache update skipped: key invalidated meanwhile", zap.String("key", key))
			return
		}

		cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
		defer cancel()
		if err := c.Set(cacheCtx, key, value, ttl); err != nil {
			log.Warn("Cache update failed", zap.String("key", key), zap.Error(err))
		}
	}()
}
