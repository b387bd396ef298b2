package http

import "github.com/gin-gonic/gin"

// RegisterOrderRoutes registra las rutas HTTP de pedidos. idempotent protege los
// comandos; las lecturas no pasan por él.
func RegisterOrderRoutes(r gin.IRouter, handler *OrderHandler, idempotent gin.HandlerFunc) {
	orders := r.Group("/orders")
	{
		orders.POST("", idempotent, handler.PlaceOrder)
		orders.GET("/:id", handler.GetOrder)
		orders.POST("/:id/pay", idempotent, handler.PayOrder)
		orders.POST("/:id/cancel", idempotent, handler.CancelOrder)
	}
}
