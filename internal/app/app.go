package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dhoini/Billing-microservice/internal/config"
	"github.com/Dhoini/Billing-microservice/internal/http/handlers"
	"github.com/Dhoini/Billing-microservice/internal/middleware"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Services - сервисный слой, собранный в main
type Services struct {
	Members   *service.MemberService
	Locations *service.LocationService
	Plans     *service.PlanService
	Webhooks  *service.WebhookService
	Counters  *service.CounterService
}

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config           *config.Config
	CompanyHandler   *handlers.CompanyHandler
	BillingHandler   *handlers.BillingHandler
	WebhookHandler   *handlers.WebhookHandler
	AdminHandler     *handlers.AdminHandler
	HealthHandler    *handlers.HealthHandler
	AuthMiddleware   *middleware.AuthMiddleware
	AdminMiddleware  gin.HandlerFunc
	LoggerMiddleware gin.HandlerFunc
	Registry         *prometheus.Registry
	Logger           *logger.Logger
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(cfg *config.Config, svc Services, db handlers.Pinger, registry *prometheus.Registry, log *logger.Logger) (*App, error) {
	debug := !cfg.IsProduction()

	webhookHandler, err := handlers.NewWebhookHandler(cfg.Stripe.WebhookSecret, svc.Webhooks, log)
	if err != nil {
		return nil, err
	}

	authMiddleware := middleware.NewAuthMiddleware(
		&middleware.HMACTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)},
		cfg.Auth.CookieName,
		svc.Members,
		log,
	)

	return &App{
		Config:           cfg,
		CompanyHandler:   handlers.NewCompanyHandler(svc.Members, svc.Locations, svc.Plans, log, debug),
		BillingHandler:   handlers.NewBillingHandler(svc.Plans, authMiddleware, log, debug),
		WebhookHandler:   webhookHandler,
		AdminHandler:     handlers.NewAdminHandler(svc.Counters, log, debug),
		HealthHandler:    handlers.NewHealthHandler(db),
		AuthMiddleware:   authMiddleware,
		AdminMiddleware:  middleware.RequireAdminToken(cfg.Auth.AdminToken, log),
		LoggerMiddleware: middleware.RequestLogger(log),
		Registry:         registry,
		Logger:           log,
	}, nil
}
