package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/pkg/utils"
)

// RespondError traduce los errores de dominio al código de razón y al estado HTTP.
// retryAfter se usa en los conflictos que el cliente puede reintentar más tarde.
func RespondError(c *gin.Context, err error, retryAfter time.Duration, log *zap.Logger) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		utils.SendBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrIdempotencyKeyMismatch):
		utils.SendError(c, http.StatusUnprocessableEntity, utils.CodeIdempotencyKeyMismatch, err.Error())
	case errors.Is(err, domain.ErrStateConflict):
		utils.SendRetryableError(c, http.StatusConflict, utils.CodeStateConflict, err.Error(), retryAfter)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		utils.SendRetryableError(c, http.StatusConflict, utils.CodeConcurrencyConflict, err.Error(), retryAfter)
	case errors.Is(err, domain.ErrInvalidStateTransition):
		utils.SendError(c, http.StatusConflict, utils.CodeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrAggregateNotFound), errors.Is(err, domain.ErrOutboxRecordNotFound):
		utils.SendNotFound(c, err.Error())
	default:
		log.Error("❌ Error no controlado", zap.String("path", c.Request.URL.Path), zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
	}
}
