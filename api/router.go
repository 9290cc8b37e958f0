package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/openbooks/config"
)

// RouterOptions carries optional collaborators for NewRouter.
type RouterOptions struct {
	// Metrics records per-route request counts; nil disables them.
	Metrics *Metrics
	// MetricsHandler is served on /metrics when non-nil.
	MetricsHandler http.Handler
}

// NewRouter builds the gin engine serving h under /api/v1.
func NewRouter(h *Handler, cfg *config.ServerConfig, opts RouterOptions) *gin.Engine {
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Metrics))
	// Global so preflight requests, which match no route, still get headers.
	if cfg.CORSOrigin != "" {
		router.Use(corsMiddleware(cfg.CORSOrigin))
	}

	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	var chain []gin.HandlerFunc
	if cfg.RateLimit > 0 {
		chain = append(chain, rateLimitMiddleware(newRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)))
	}
	h.Register(router.Group("/api/v1", chain...))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})
	return router
}
