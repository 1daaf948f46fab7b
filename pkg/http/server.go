package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"TradeScout/pkg/http/middleware"
	"TradeScout/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler mounts a group of routes on the server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	SlowThreshold time.Duration
	MetricsPath   string
	Registerer    prometheus.Registerer
	Logger        *logger.Logger
}

// WithPort sets the listen port. The host defaults to all interfaces.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) { c.Port = port }
}

// WithTimeouts bounds reading a request and writing its response.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
	}
}

// WithLogger sets the logger used by the server and its middleware.
func WithLogger(l *logger.Logger) ServerOption {
	return func(c *ServerConfig) { c.Logger = l }
}

// WithMetrics registers the request collectors on reg and serves reg at
// path. A nil reg turns both off.
func WithMetrics(path string, reg prometheus.Registerer) ServerOption {
	return func(c *ServerConfig) {
		c.MetricsPath = path
		c.Registerer = reg
	}
}

// Server is the echo instance plus its listen address.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *logger.Logger
}

// NewServer wires middleware, the handler's routes and the metrics route.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  2 * time.Minute,
		SlowThreshold: 5 * time.Second,
		Logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	var stats *middleware.HTTPStats
	if cfg.Registerer != nil {
		stats = middleware.NewHTTPStats(cfg.Registerer)
	}
	e.Use(middleware.Recover(cfg.Logger))
	e.Use(middleware.Observe(cfg.Logger, stats, cfg.SlowThreshold))

	if handler != nil {
		handler.RegisterRoutes(e)
	}
	if g, ok := cfg.Registerer.(prometheus.Gatherer); ok && cfg.MetricsPath != "" {
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}

	return &Server{
		echo:   e,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		logger: cfg.Logger,
	}
}

// Start listens in the background. Listen failures are logged.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("http server listening", logger.String("addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", logger.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// ServeHTTP lets tests drive the full middleware stack.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
