package rest

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trainingcenter/backend/internal/health"
	"trainingcenter/backend/internal/metrics"
)

type RouterConfig struct {
	Handler      *Handler
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	ReadyChecks  []health.Check
	ReadyTimeout time.Duration
}

// NewRouter mounts the API under /api/v1 next to the liveness, readiness and
// metrics endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Metrics != nil {
		r.Use(requestMetrics(cfg.Metrics))
	}
	r.Use(requestLog(log.With(slog.String("component", "http"))))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		report := health.Evaluate(c.Request.Context(), cfg.ReadyTimeout, cfg.ReadyChecks)
		if !report.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": report})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": report})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	if cfg.Handler != nil {
		cfg.Handler.Register(r.Group("/api/v1"))
	}
	return r
}

func requestMetrics(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.InFlightGauge.Inc()
		defer m.InFlightGauge.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func requestLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug(
			"request served",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
