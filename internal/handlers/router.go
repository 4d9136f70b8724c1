package handlers

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/prepcli/prep/localratelimiter"
	"github.com/prepcli/prep/metrics"
)

type RouterOptions struct {
	Refine         *RefineHandler
	Health         *HealthHandler
	Metrics        *metrics.MonitoringClient
	RateLimiter    *localratelimiter.RateLimiter
	AllowedOrigins []string
	TrustedProxies []string
	Logger         *zap.Logger
}

// NewRouter wires the serve-mode routes. Only /refine is rate limited.
// Forwarding headers are ignored unless the peer is a trusted proxy, and
// CORS is off unless origins are listed.
func NewRouter(opts RouterOptions) (*gin.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	var proxies []string
	if len(opts.TrustedProxies) > 0 {
		proxies = opts.TrustedProxies
	}
	if err := router.SetTrustedProxies(proxies); err != nil {
		return nil, errors.Wrap(err, "invalid trusted proxies")
	}
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger, opts.Metrics))

	if len(opts.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Api-Key")
		if containsWildcard(opts.AllowedOrigins) {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = opts.AllowedOrigins
		}
		router.Use(cors.New(corsConfig))
	}

	if opts.Health != nil {
		router.GET("/health", opts.Health.IsHealthy)
	}
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	if opts.Refine != nil {
		refine := router.Group("/")
		if opts.RateLimiter != nil {
			refine.Use(opts.RateLimiter.RateLimiterMiddleware())
		}
		refine.POST("/refine", opts.Refine.Refine)
	}
	return router, nil
}

func requestLogger(logger *zap.Logger, metricsClient *metrics.MonitoringClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client", c.ClientIP()))

		if metricsClient != nil {
			metricsClient.RecordCounter(metrics.ServeRequestsTotal, map[string]string{
				"route":  route,
				"status": strconv.Itoa(status),
			}, 1)
		}
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
