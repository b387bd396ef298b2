package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/pkg/utils"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// OutboxAdmin es lo que necesitan los endpoints de operación sobre el outbox.
type OutboxAdmin interface {
	ListByStatus(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxRecord, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (domain.OutboxRecord, error)
}

// OutboxAdminHandler expone la consulta de dead-letters y su reencolado manual.
type OutboxAdminHandler struct {
	outbox OutboxAdmin
	log    *zap.Logger
}

func NewOutboxAdminHandler(outbox OutboxAdmin, log *zap.Logger) *OutboxAdminHandler {
	return &OutboxAdminHandler{outbox: outbox, log: log}
}

// RegisterOutboxAdminRoutes registra las rutas bajo /admin/outbox.
func RegisterOutboxAdminRoutes(r gin.IRouter, h *OutboxAdminHandler) {
	admin := r.Group("/admin/outbox")
	{
		admin.GET("", h.List)
		admin.GET("/:id", h.Get)
		admin.POST("/:id/requeue", h.Requeue)
	}
}

// List endpoint GET /admin/outbox?status=FAILED&limit=50
func (h *OutboxAdminHandler) List(c *gin.Context) {
	status := domain.OutboxStatus(c.DefaultQuery("status", string(domain.OutboxFailed)))
	if !status.IsValid() {
		utils.SendBadRequest(c, "unknown outbox status "+string(status))
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			utils.SendBadRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	recs, err := h.outbox.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		RespondError(c, err, 0, h.log)
		return
	}
	utils.SendSuccess(c, http.StatusOK, recs)
}

// Get endpoint GET /admin/outbox/:id
func (h *OutboxAdminHandler) Get(c *gin.Context) {
	id, ok := parseOutboxID(c)
	if !ok {
		return
	}
	rec, err := h.outbox.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err, 0, h.log)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

// Requeue endpoint POST /admin/outbox/:id/requeue
func (h *OutboxAdminHandler) Requeue(c *gin.Context) {
	id, ok := parseOutboxID(c)
	if !ok {
		return
	}
	if err := h.outbox.Requeue(c.Request.Context(), id); err != nil {
		RespondError(c, err, 0, h.log)
		return
	}

	h.log.Info("♻️ Registro de outbox reencolado", zap.String("outbox_id", id.String()))
	rec, err := h.outbox.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err, 0, h.log)
		return
	}
	utils.SendSuccess(c, http.StatusOK, rec)
}

func parseOutboxID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid outbox id")
		return uuid.Nil, false
	}
	return id, true
}
