package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"TradeScout/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestObserveCountsByRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := NewHTTPStats(reg)

	e := echo.New()
	e.Use(Observe(logger.Nop(), stats, 0))
	e.GET("/api/signals/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return c.String(http.StatusOK, "ok")
	})

	assert.Equal(t, http.StatusOK, serve(e, "/api/signals/a").Code)
	assert.Equal(t, http.StatusOK, serve(e, "/api/signals/b").Code)
	assert.Equal(t, http.StatusNotFound, serve(e, "/api/signals/missing").Code)

	assert.Equal(t, 2.0, testutil.ToFloat64(stats.requests.WithLabelValues("/api/signals/:id", http.MethodGet, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.requests.WithLabelValues("/api/signals/:id", http.MethodGet, "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(stats.inFlight))
}

func TestObserveWithoutStats(t *testing.T) {
	e := echo.New()
	e.Use(Observe(logger.Nop(), nil, 0))
	e.GET("/healthz", func(c echo.Context) error { return errors.New("boom") })
	assert.Equal(t, http.StatusInternalServerError, serve(e, "/healthz").Code)
}

func TestRecover(t *testing.T) {
	e := echo.New()
	e.Use(Recover(logger.Nop()))
	e.GET("/panic", func(echo.Context) error { panic("nil map") })

	rec := serve(e, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":500,"message":"Internal Server Error"}`, rec.Body.String())
}
