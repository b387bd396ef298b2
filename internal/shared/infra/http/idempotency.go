package http

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/shared/application/idempotency"
	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/pkg/utils"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderTenantID       = "X-Tenant-ID"
	HeaderReplayed       = "Idempotent-Replayed"
	HeaderRetryAfter     = "Retry-After"
)

// bodyWriter copia lo que escribe el handler para poder cachear la respuesta.
type bodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

type idempotencyOptions struct {
	required bool
}

type IdempotencyOption func(*idempotencyOptions)

// RequireKey rechaza con VALIDATION_FAILED las peticiones sin Idempotency-Key.
func RequireKey() IdempotencyOption {
	return func(o *idempotencyOptions) { o.required = true }
}

// TenantID lee el tenant de la cabecera X-Tenant-ID; vacío significa sin tenant.
func TenantID(c *gin.Context) string {
	return c.GetHeader(HeaderTenantID)
}

// Idempotency protege los comandos con la clave del cliente: ejecuta el handler una vez
// por (tenant, clave, método, ruta) y devuelve la respuesta cacheada en los reintentos.
func Idempotency(svc *idempotency.Service, log *zap.Logger, opts ...IdempotencyOption) gin.HandlerFunc {
	var o idempotencyOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		rawKey := c.GetHeader(HeaderIdempotencyKey)
		if rawKey == "" {
			if o.required {
				utils.SendBadRequest(c, "Idempotency-Key header is required")
				return
			}
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.SendBadRequest(c, "could not read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		key := domain.IdempotencyKey{
			TenantID: TenantID(c),
			Key:      rawKey,
			Method:   c.Request.Method,
			Path:     c.Request.URL.Path,
		}

		ran := false
		resp, outcome, err := svc.Execute(c.Request.Context(), key, body, func(context.Context) (idempotency.Response, error) {
			ran = true
			w := &bodyWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
			c.Writer = w
			c.Next()
			c.Writer = w.ResponseWriter
			return idempotency.Response{
				StatusCode: w.Status(),
				Body:       w.body.Bytes(),
				Retryable:  w.Header().Get(HeaderRetryAfter) != "",
			}, nil
		})

		if ran {
			// La respuesta ya salió hacia el cliente; solo queda registrar el fallo al guardarla.
			if err != nil {
				log.Warn("⚠️ No se pudo guardar la respuesta idempotente",
					zap.String("key", key.String()), zap.Error(err))
			}
			return
		}
		if err != nil {
			RespondError(c, err, svc.RetryAfter(), log)
			return
		}

		if outcome == idempotency.OutcomeReplay {
			c.Header(HeaderReplayed, "true")
			status := resp.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			c.Data(status, "application/json; charset=utf-8", resp.Body)
			c.Abort()
		}
	}
}
