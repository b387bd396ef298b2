package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/order/application"
	sharedHTTP "github.com/davicafu/txmessaging/internal/shared/infra/http"
	"github.com/davicafu/txmessaging/pkg/utils"
)

// OrderHandler encapsula los endpoints HTTP de Order.
type OrderHandler struct {
	service *application.OrderService
	log     *zap.Logger
}

func NewOrderHandler(service *application.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{service: service, log: log}
}

// PlaceOrder endpoint POST /orders
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req struct {
		CustomerID  string `json:"customer_id" binding:"required"`
		AmountCents int64  `json:"amount_cents" binding:"required"`
		Currency    string `json:"currency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	view, err := h.service.PlaceOrder(c.Request.Context(), application.PlaceOrderCommand{
		TenantID:    sharedHTTP.TenantID(c),
		CustomerID:  req.CustomerID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	})
	if err != nil {
		sharedHTTP.RespondError(c, err, 0, h.log)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, view)
}

// PayOrder endpoint POST /orders/:id/pay
func (h *OrderHandler) PayOrder(c *gin.Context) {
	var req struct {
		PaymentID string `json:"payment_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	view, err := h.service.PayOrder(c.Request.Context(), sharedHTTP.TenantID(c), c.Param("id"), req.PaymentID)
	if err != nil {
		sharedHTTP.RespondError(c, err, 0, h.log)
		return
	}
	utils.SendSuccess(c, http.StatusOK, view)
}

// CancelOrder endpoint POST /orders/:id/cancel. El cuerpo es opcional.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendBadRequest(c, err.Error())
			return
		}
	}

	view, err := h.service.CancelOrder(c.Request.Context(), sharedHTTP.TenantID(c), c.Param("id"), req.Reason)
	if err != nil {
		sharedHTTP.RespondError(c, err, 0, h.log)
		return
	}
	utils.SendSuccess(c, http.StatusOK, view)
}

// GetOrder endpoint GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	view, err := h.service.GetOrder(c.Request.Context(), sharedHTTP.TenantID(c), c.Param("id"))
	if err != nil {
		sharedHTTP.RespondError(c, err, 0, h.log)
		return
	}
	utils.SendSuccess(c, http.StatusOK, view)
}
