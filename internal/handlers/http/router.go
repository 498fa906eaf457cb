package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/core/services"
	"peercord/internal/infrastructure/middleware"
	"peercord/internal/infrastructure/monitoring"
	"peercord/pkg/config"
	"peercord/pkg/errors"
	"peercord/pkg/logger"
)

// Dependencies is everything the broker's HTTP surface is built from.
type Dependencies struct {
	Config    *config.Config
	Identity  services.IdentityService
	Directory ports.PeerDirectory
	Health    *monitoring.HealthChecker
	Tokens    TokenMetrics
	Logger    *zap.SugaredLogger

	// Signal serves the websocket upgrade on /ws.
	Signal http.HandlerFunc
	// Metrics serves /metrics; nil uses the default prometheus registry.
	Metrics http.Handler
}

// ErrorRules maps domain and identity errors onto HTTP responses.
func ErrorRules() []errors.Rule {
	return []errors.Rule{
		{Target: domain.ErrPeerNotFound, Build: func(error) *errors.AppError {
			return errors.NewNotFoundError("peer")
		}},
		{Target: domain.ErrIdentityTaken, Build: func(err error) *errors.AppError {
			return errors.NewConflictError(err.Error())
		}},
		{Target: services.ErrExpiredToken, Build: func(err error) *errors.AppError {
			return errors.NewUnauthorizedError(err.Error())
		}},
		{Target: services.ErrInvalidToken, Build: func(err error) *errors.AppError {
			return errors.NewUnauthorizedError(err.Error())
		}},
		{Target: services.ErrIdentityMismatch, Build: func(err error) *errors.AppError {
			return errors.NewUnauthorizedError(err.Error())
		}},
	}
}

// NewRouter wires the broker's routes. API routes are rate limited; /ws is
// limited per message inside the signal server instead.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(deps.Logger.Desugar())),
		middleware.RecoveryMiddleware(deps.Logger),
		middleware.ErrorHandlerMiddleware(deps.Logger, ErrorRules()...),
	)

	if deps.Signal != nil {
		router.GET("/ws", gin.WrapF(deps.Signal))
	}

	router.GET("/health", healthHandler(deps.Health))
	router.GET("/ready", readyHandler(deps.Health))

	if deps.Config.Monitoring.PrometheusEnabled {
		metrics := deps.Metrics
		if metrics == nil {
			metrics = promhttp.Handler()
		}
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("", middleware.NewHTTPRateLimitMiddleware(deps.Config))
	NewIdentityHandler(deps.Identity, deps.Tokens).SetupRoutes(api)
	NewPeerHandler(deps.Directory).SetupRoutes(api, middleware.AuthMiddleware(deps.Identity))

	return router
}

func healthHandler(health *monitoring.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
			return
		}
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

func readyHandler(health *monitoring.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if health != nil && !health.IsReady(ctx) {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	}
}
