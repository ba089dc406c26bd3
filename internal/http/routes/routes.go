package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dhoini/Billing-microservice/internal/app"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Промежуточное ПО для всех запросов
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	router.GET("/health", app.HealthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		// Вебхуки аутентифицируются подписью, а не сессией
		api.POST("/webhooks/stripe", app.WebhookHandler.HandleStripeWebhook)

		admin := api.Group("/admin", app.AdminMiddleware)
		{
			admin.POST("/recalculate-counts", app.AdminHandler.RecalculateCounts)
		}

		auth := api.Group("", app.AuthMiddleware.RequireSession())

		// Компания из тела запроса проверяется в обработчике
		stripe := auth.Group("/stripe")
		{
			stripe.POST("/checkout", app.BillingHandler.Checkout)
			stripe.POST("/portal", app.BillingHandler.Portal)
		}

		companies := auth.Group("/companies/:id", app.AuthMiddleware.RequireCompanyMember("id"))
		{
			companies.GET("/billing", app.CompanyHandler.GetBilling)

			companies.POST("/members", app.CompanyHandler.AddMember)
			companies.PATCH("/members/:mid", app.CompanyHandler.UpdateMember)
			companies.DELETE("/members/:mid", app.CompanyHandler.DeleteMember)

			companies.POST("/locations", app.CompanyHandler.CreateLocation)
			companies.DELETE("/locations/:lid", app.CompanyHandler.DeleteLocation)
		}
	}

	log.Infow("API routes successfully configured")
}
