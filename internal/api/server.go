package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshbridge/internal/config"
	"meshbridge/internal/logger"
	"meshbridge/pkg/errors"
	"meshbridge/pkg/health"
	"meshbridge/pkg/ratelimit"
)

// NewRouter builds the gin engine with the management API, health
// endpoint and Prometheus scrape endpoint.
func NewRouter(cfg *config.Config, h *Handlers, checks *health.CheckerRegistry, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(requestLogger(log))
	engine.Use(recovery(log))

	engine.GET("/health", func(c *gin.Context) {
		result := checks.Check(c.Request.Context())
		status := http.StatusOK
		if result.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		rl := ratelimit.DefaultConfig()
		if cfg.RateLimit.RPS > 0 {
			rl.RPS = cfg.RateLimit.RPS
		}
		if cfg.RateLimit.Burst > 0 {
			rl.Burst = cfg.RateLimit.Burst
		}
		v1.Use(ratelimit.Middleware(rl))
	}

	v1.GET("/messages/recent", h.RecentMessages)
	v1.GET("/messages/history", h.MessageHistory)
	v1.GET("/stats", h.Stats)
	v1.GET("/links", h.Links)
	v1.POST("/send", h.Send)

	v1.GET("/rules", h.ListRules)
	v1.POST("/rules", h.AddRule)
	v1.DELETE("/rules/:name", h.RemoveRule)

	v1.GET("/filter/blocklist", h.Blocklist)
	v1.POST("/filter/blocklist", h.AddBlocked)
	v1.DELETE("/filter/blocklist/:node", h.RemoveBlocked)
	v1.GET("/filter/allowlist", h.Allowlist)
	v1.POST("/filter/allowlist", h.AddAllowed)
	v1.DELETE("/filter/allowlist/:node", h.RemoveAllowed)

	return engine
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debugw("Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

func recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := errors.RecoverPanic(recover()); err != nil {
				log.Errorw("Panic in request handler",
					"path", c.Request.URL.Path,
					"error", err,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errors.ToErrorResponse(err))
			}
		}()
		c.Next()
	}
}
