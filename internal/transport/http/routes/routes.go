package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/credential-policy/internal/infra/config"
	"github.com/arklim/credential-policy/internal/transport/http/handlers"
	"github.com/arklim/credential-policy/internal/transport/http/middleware"
	"github.com/arklim/credential-policy/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth      *usecase.AuthService
	Passwords *usecase.PasswordService
	Accounts  *usecase.AccountService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Services ServiceSet
	Store    StoreChecker
	// Metrics is optional; requests are not instrumented when nil.
	Metrics *middleware.HTTPMetrics
	// Gatherer backs /metrics and defaults to the global registry.
	Gatherer prometheus.Gatherer
}

// StoreChecker exposes readiness behaviour for the credential store.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// StoreCheckerFunc adapts a ping function to StoreChecker.
type StoreCheckerFunc func(ctx context.Context) error

// Ping calls f.
func (f StoreCheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.TracingOptions{}))
	r.Use(middleware.EnrichContext())
	r.Use(deps.Metrics.Handler())
	r.Use(middleware.Logger(deps.Logger))

	healthOptions := make([]handlers.HealthOption, 0, 1)
	if deps.Store != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck(deps.Config.Store.Driver, deps.Store.Ping))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		if deps.Services.Auth != nil {
			handlers.NewAuthHandler(deps.Services.Auth).RegisterRoutes(api.Group("/auth"))
		}

		if deps.Services.Passwords != nil {
			handlers.NewPasswordHandler(deps.Services.Passwords).RegisterRoutes(api.Group("/password"))
		}

		if deps.Services.Accounts != nil {
			adminGroup := api.Group("/admin")
			adminGroup.Use(middleware.RequireAdminToken(deps.Config.App.AdminToken))
			handlers.NewAccountHandler(deps.Services.Accounts).RegisterRoutes(adminGroup.Group("/accounts"))
		}
	}

	return r
}
