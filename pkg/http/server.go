package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"TeeRelay/pkg/http/middleware"
	"TeeRelay/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SlowThreshold   time.Duration
	BodyLimit       string
	CORS            bool
	CORSOrigins     []string
	Logger          *logger.Logger
}

// Server wraps Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	log    *logger.Logger
}

// NewServer builds the echo instance, installs the middleware stack and registers every
// handler plus /metrics.
func NewServer(handlers []Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		SlowThreshold:   2 * time.Second,
		BodyLimit:       "1M",
		CORS:            true,
		CORSOrigins:     []string{"*"},
	}

	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Metrics())
	e.Use(middleware.RequestLogging(log, cfg.SlowThreshold))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))

	if cfg.CORS {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
			ExposeHeaders: []string{echo.HeaderXRequestID},
		}))
	}

	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, config: cfg, log: log}
}

// Run serves until ctx is cancelled, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("http server listening", logger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// WithHost sets server host.
func WithHost(host string) ServerOption {
	return func(c *ServerConfig) {
		c.Host = host
	}
}

// WithPort sets server port.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) {
		c.Port = port
	}
}

// WithTimeouts sets read/write/shutdown timeouts; zero keeps the default.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		if read > 0 {
			c.ReadTimeout = read
		}
		if write > 0 {
			c.WriteTimeout = write
		}
		if shutdown > 0 {
			c.ShutdownTimeout = shutdown
		}
	}
}

// WithCORS enables CORS for the given origins; an empty list disables it.
func WithCORS(origins []string) ServerOption {
	return func(c *ServerConfig) {
		c.CORS = len(origins) > 0
		c.CORSOrigins = origins
	}
}

func WithLogger(l *logger.Logger) ServerOption {
	return func(c *ServerConfig) {
		c.Logger = l
	}
}

func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.SlowThreshold = d
	}
}
