// Package middleware holds the echo middleware shared by TradeScout servers.
package middleware

import (
	"strconv"
	"time"

	"TradeScout/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPStats are the request collectors. A nil *HTTPStats records nothing.
type HTTPStats struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPStats registers the collectors on reg.
func NewHTTPStats(reg prometheus.Registerer) *HTTPStats {
	f := promauto.With(reg)
	return &HTTPStats{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradescout_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradescout_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30, 90},
		}, []string{"route", "method"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradescout_http_in_flight_requests",
			Help: "Requests currently being served.",
		}),
	}
}

// Observe logs and measures every request. Server errors log at error,
// client errors at warn, anything slower than slow at warn, the rest at
// debug.
func Observe(l *logger.Logger, stats *HTTPStats, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if stats != nil {
				stats.inFlight.Inc()
				defer stats.inFlight.Dec()
			}
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			took := time.Since(start)

			req := c.Request()
			route := routeOf(c)
			status := c.Response().Status
			if stats != nil {
				stats.requests.WithLabelValues(route, req.Method, strconv.Itoa(status)).Inc()
				stats.latency.WithLabelValues(route, req.Method).Observe(took.Seconds())
			}

			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", route),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", status),
				logger.Duration("latency_ms", took),
			}
			switch {
			case status >= 500:
				l.Error("http request", fields...)
			case status >= 400:
				l.Warn("http request", fields...)
			case slow > 0 && took >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

// routeOf prefers the route template so ids do not explode label cardinality.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}
