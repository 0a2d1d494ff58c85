package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/reservation-service/controllers"
	"github.com/yashrajoria/reservation-service/middleware"
)

type Controllers struct {
	Stock          *controllers.StockController
	Checkout       *controllers.CheckoutController
	Settlement     *controllers.SettlementController
	Webhook        *controllers.WebhookController
	Reconciliation *controllers.ReconciliationController
}

// RegisterRoutes registers all reservation service routes
func RegisterRoutes(r *gin.Engine, ctrl Controllers) {
	// Authenticated by signature, not by gateway headers.
	r.POST("/webhooks/stripe", ctrl.Webhook.StripeWebhook)

	api := r.Group("/", middleware.Identity())

	stock := api.Group("/stock")
	{
		stock.GET("/:skuId", ctrl.Stock.GetStock)

		// Direct deduction bypasses payment and sessions; internal use only.
		admin := stock.Group("", middleware.AdminOnly())
		admin.POST("/reserve", ctrl.Stock.Reserve)
		admin.POST("", ctrl.Stock.CreateStock)
		admin.POST("/:skuId/restock", ctrl.Stock.Restock)
		admin.DELETE("/:skuId", ctrl.Stock.DeleteStock)
	}

	checkout := api.Group("/checkout")
	{
		checkout.POST("/sessions", ctrl.Checkout.CreateSession)
		checkout.POST("/sessions/validate", ctrl.Checkout.ValidateSession)
		checkout.POST("/settle", ctrl.Settlement.Settle)
	}

	api.GET("/orders/:externalOrderId", ctrl.Settlement.GetOrder)

	admin := api.Group("/admin", middleware.AdminOnly())
	admin.GET("/reconciliation", ctrl.Reconciliation.ListOpen)
	admin.POST("/reconciliation/:id/resolve", ctrl.Reconciliation.Resolve)
}
