package utils

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Códigos de error que ve el cliente.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeIdempotencyKeyMismatch = "IDEMPOTENCY_KEY_MISMATCH"
	CodeStateConflict          = "STATE_CONFLICT"
	CodeConcurrencyConflict    = "CONCURRENCY_CONFLICT"
	CodeInvalidTransition      = "INVALID_STATE_TRANSITION"
	CodeNotFound               = "NOT_FOUND"
	CodeInternal               = "INTERNAL"
)

// ErrorResponse define la estructura estándar para las respuestas de error.
type ErrorResponse struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfterHint *int   `json:"retry_after_hint,omitempty"` // segundos
}

// SendSuccess envía una respuesta exitosa con un payload de datos.
func SendSuccess(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, gin.H{
		"data": data,
	})
}

// SendError envía una respuesta de error con un formato estandarizado.
func SendError(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error": ErrorResponse{Code: code, Message: message},
	})
}

// SendRetryableError añade Retry-After (redondeado a segundos, mínimo 1) y el hint en el cuerpo.
func SendRetryableError(c *gin.Context, statusCode int, code, message string, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error": ErrorResponse{Code: code, Message: message, RetryAfterHint: &secs},
	})
}

// --- Helpers específicos para errores comunes ---

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, CodeValidationFailed, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, CodeNotFound, message)
}

func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, CodeInternal, message)
}
