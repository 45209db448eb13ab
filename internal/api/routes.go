// Package api provides the HTTP API for the Cardhaven server.
package api

import (
	"github.com/cardhaven/cardhaven/internal/api/handlers"
	"github.com/cardhaven/cardhaven/internal/api/middleware"
	"github.com/cardhaven/cardhaven/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies. Imports of a few thousand codes fit
// comfortably; anything bigger is abuse.
const maxBodyBytes = 4 << 20

// Config holds configuration for the API router.
type Config struct {
	// Environment controls CORS strictness.
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// APIKey authenticates operator requests.
	APIKey string
	// RateLimit in limiter period notation, e.g. "100-M".
	RateLimit string
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// Deps bundles the services the routes are built on.
type Deps struct {
	Health    handlers.HealthChecker
	Inventory handlers.InventoryService
	Orders    handlers.OrderStore
	Allocator handlers.CodeAllocator
	// Broker may be nil when object storage is not configured; the
	// proof-access routes are then not registered.
	Broker    handlers.AccessBroker
	AuditRead handlers.AuditLogStore
	Audit     handlers.AuditRecorder
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))
	r.Engine.Use(middleware.BodyLimit(maxBodyBytes))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Public endpoints
	healthHandler := handlers.NewHealthHandler(deps.Health, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate)
	versionHandler.RegisterPublicRoutes(r.Engine)

	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Operator API (key required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.APIKeyAuth(cfg.APIKey, logger))

	handlers.NewCodesHandler(deps.Inventory, deps.Audit, logger).RegisterRoutes(apiV1)
	handlers.NewCheckoutHandler(deps.Orders, deps.Allocator, logger).RegisterRoutes(apiV1)
	// Proof access is an optional wing; without a broker its routes stay off.
	if deps.Broker != nil {
		handlers.NewProofsHandler(deps.Orders, deps.Broker, deps.Audit, logger).RegisterRoutes(apiV1)
	}
	handlers.NewAuditLogsHandler(deps.AuditRead, logger).RegisterRoutes(apiV1)

	return r, nil
}
