package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/api/middleware"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/tracing"
)

// ErrAlreadyListening is returned by Listen on a running server
var ErrAlreadyListening = errors.New("server is already listening")

// Options configures the root HTTP server
type Options struct {
	Host            string
	Port            string
	ShutdownTimeout time.Duration
	Development     bool
	RateLimit       config.RateLimitConfig
	CORS            middleware.CORSConfig
}

// OptionsFrom builds Options from process and app config
func OptionsFrom(cfg *config.Config, app *config.AppConfig) Options {
	opts := Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Development:     cfg.Logging.Development,
		RateLimit:       cfg.RateLimit,
		CORS:            middleware.CORSConfigFrom(app),
	}
	// backend.listen.port in app-config overrides the environment
	if port := app.OptionalString("backend.listen.port", ""); port != "" {
		opts.Port = port
	}
	if host := app.OptionalString("backend.listen.host", ""); host != "" {
		opts.Host = host
	}
	return opts
}

// Server is the root HTTP router every plugin mounts onto
type Server struct {
	opts    Options
	router  *gin.Engine
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	served   chan error
	failed   chan error
}

// New creates the root router with the standard middleware stack
func New(opts Options, logger *logging.Logger, metrics *monitoring.Metrics, tracer *tracing.Tracer) *Server {
	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	if tracer != nil {
		router.Use(tracing.HTTPMiddleware(tracer))
	}
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(opts.CORS))
	if opts.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", opts.RateLimit.RequestsPerSecond),
			zap.Int("burst", opts.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: opts.RateLimit.RequestsPerSecond,
			Burst:             opts.RateLimit.Burst,
		}))
	}

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return &Server{
		opts:    opts,
		router:  router,
		logger:  logger,
		metrics: metrics,
		failed:  make(chan error, 1),
	}
}

// Router exposes the underlying engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the server as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Group returns a route group under path, e.g. /api/catalog
func (s *Server) Group(path string) *gin.RouterGroup {
	return s.router.Group("/" + strings.Trim(path, "/"))
}

// Addr returns the bound address once listening, or the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.opts.Host, s.opts.Port)
}

// Listen binds the port and serves in the background
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return ErrAlreadyListening
	}

	addr := net.JoinHostPort(s.opts.Host, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.served = make(chan error, 1)

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("HTTP server stopped serving", zap.Error(err))
			select {
			case s.failed <- err:
			default:
			}
		}
		done <- err
	}(s.http, s.served)

	return nil
}

// Served delivers the error of a server that stopped serving without
// Shutdown being called
func (s *Server) Served() <-chan error {
	return s.failed
}

// Shutdown stops accepting connections and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, served := s.http, s.served
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-served; err != nil {
		return fmt.Errorf("http server stopped with error: %w", err)
	}
	return nil
}
