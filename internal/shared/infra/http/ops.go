package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/txmessaging/pkg/utils"
)

const healthTimeout = time.Second

// Pinger comprueba que una dependencia responde. *sql.DB lo satisface.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthCheck comprueba un componente en segundo plano (p. ej. un consumidor).
type HealthCheck func(ctx context.Context) error

// RegisterOpsRoutes registra /health y, si metrics no es nil, /metrics.
// /health responde 503 si la base de datos no responde o si falla alguno de checks.
func RegisterOpsRoutes(r gin.IRouter, db Pinger, metrics http.Handler, checks ...HealthCheck) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			utils.SendError(c, http.StatusServiceUnavailable, utils.CodeInternal, "database unavailable")
			return
		}
		for _, check := range checks {
			if err := check(ctx); err != nil {
				utils.SendError(c, http.StatusServiceUnavailable, utils.CodeInternal, err.Error())
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
}
