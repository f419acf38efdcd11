package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/handler/health"
	"github.com/jwalitptl/hospital-api/internal/handler/prometheus"
	"github.com/jwalitptl/hospital-api/internal/middleware"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/ratelimit"
)

const gzipLevel = 5

// Handler is implemented by every resource handler.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup, handler.Guards)
}

// Policies are the rate-limit policies applied per client IP.
type Policies struct {
	General   ratelimit.Policy
	Login     ratelimit.Policy
	Register  ratelimit.Policy
	Sensitive ratelimit.Policy
}

type RouterConfig struct {
	Production     bool
	AllowedOrigins []string
	TrustedProxies []string
	RequestTimeout time.Duration
	MaxBodySize    int64
	Policies       Policies
}

type Dependencies struct {
	Auth     *middleware.AuthMiddleware
	Limiter  ratelimit.Limiter
	Metrics  *metrics.Metrics
	Prom     *prometheus.Handler
	Health   *health.Handler
	Handlers []Handler
}

type Router struct {
	engine *gin.Engine
}

func NewRouter(config RouterConfig, deps Dependencies) (*Router, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}
	if err := middleware.RegisterValidators(); err != nil {
		return nil, err
	}

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodySize > 0 {
		sizeLimit.MaxBodySize = config.MaxBodySize
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
	)
	if deps.Prom != nil {
		engine.Use(deps.Prom.Middleware())
	}
	engine.Use(
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig(config.Production)),
		middleware.CORS(middleware.DefaultCORSConfig(config.AllowedOrigins)),
		middleware.SizeLimit(sizeLimit),
		middleware.Timeout(config.RequestTimeout),
	)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("route not found"))
	})

	if deps.Prom != nil {
		engine.GET("/metrics", deps.Prom.Handler())
	}

	api := engine.Group("/api/v1")
	if deps.Health != nil {
		deps.Health.RegisterRoutes(api)
	}

	limit := func(p ratelimit.Policy) gin.HandlerFunc {
		if deps.Limiter == nil || p.Limit <= 0 {
			return nil
		}
		return middleware.RateLimit(deps.Limiter, p, deps.Metrics)
	}

	limited := api.Group("", handler.Use(limit(config.Policies.General))...)
	guards := handler.Guards{
		Authenticate: deps.Auth.Authenticate(),
		Login:        limit(config.Policies.Login),
		Register:     limit(config.Policies.Register),
		Sensitive:    limit(config.Policies.Sensitive),
		Compress:     middleware.Compress(gzipLevel),
	}
	for _, h := range deps.Handlers {
		h.RegisterRoutes(limited, guards)
	}

	return &Router{engine: engine}, nil
}

// Engine returns the http.Handler to serve.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
