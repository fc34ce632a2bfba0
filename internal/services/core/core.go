// Package core declares the core services every plugin can depend on and
// the factories that provide them.
package core

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/tracing"
)

var (
	RootConfigRef     = backend.NewServiceRef[*config.AppConfig]("core.rootConfig", backend.ScopeRoot)
	RootLoggerRef     = backend.NewServiceRef[*logging.Logger]("core.rootLogger", backend.ScopeRoot)
	LoggerRef         = backend.NewServiceRef[*logging.Logger]("core.logger", backend.ScopePlugin)
	MetricsRef        = backend.NewServiceRef[*monitoring.Metrics]("core.metrics", backend.ScopeRoot)
	TracerRef         = backend.NewServiceRef[*tracing.Tracer]("core.tracer", backend.ScopeRoot)
	RootHTTPRouterRef = backend.NewServiceRef[*server.Server]("core.rootHttpRouter", backend.ScopeRoot)
	HTTPRouterRef     = backend.NewServiceRef[*gin.RouterGroup]("core.httpRouter", backend.ScopePlugin)
)

// ConfigFactory provides an already loaded app-config
func ConfigFactory(cfg *config.AppConfig) *backend.ServiceFactory {
	return backend.NewServiceFactory(RootConfigRef, func(context.Context, *backend.Deps) (*config.AppConfig, error) {
		return cfg, nil
	})
}

// RootLoggerFactory provides the process logger and syncs it on shutdown
func RootLoggerFactory(logger *logging.Logger) *backend.ServiceFactory {
	return backend.NewServiceFactory(RootLoggerRef, func(ctx context.Context, deps *backend.Deps) (*logging.Logger, error) {
		lifecycle, err := backend.Get(ctx, deps, backend.RootLifecycleRef)
		if err != nil {
			return nil, err
		}
		lifecycle.AddShutdownHook("logger.sync", func(context.Context) error {
			// Syncing stderr fails on some platforms
			_ = logger.Sync()
			return nil
		})
		return logger, nil
	})
}

// LoggerFactory derives a plugin logger from the root logger
func LoggerFactory() *backend.ServiceFactory {
	return backend.NewServiceFactory(LoggerRef, func(ctx context.Context, deps *backend.Deps) (*logging.Logger, error) {
		root, err := backend.Get(ctx, deps, RootLoggerRef)
		if err != nil {
			return nil, err
		}
		return root.ForPlugin(deps.PluginID()), nil
	})
}

// MetricsFactory provides the shared metrics collector
func MetricsFactory(metrics *monitoring.Metrics) *backend.ServiceFactory {
	return backend.NewServiceFactory(MetricsRef, func(context.Context, *backend.Deps) (*monitoring.Metrics, error) {
		return metrics, nil
	})
}

// TracerFactory creates the request tracer and drains it on shutdown
func TracerFactory(service string) *backend.ServiceFactory {
	return backend.NewServiceFactory(TracerRef, func(ctx context.Context, deps *backend.Deps) (*tracing.Tracer, error) {
		logger, err := backend.Get(ctx, deps, RootLoggerRef)
		if err != nil {
			return nil, err
		}
		lifecycle, err := backend.Get(ctx, deps, backend.RootLifecycleRef)
		if err != nil {
			return nil, err
		}
		tracer := tracing.New(service, logger.Named("tracing"))
		lifecycle.AddShutdownHook("tracer.close", func(context.Context) error {
			tracer.Close()
			return nil
		})
		return tracer, nil
	})
}

// RootHTTPRouterFactory creates the root server. It listens once the
// backend has started and shuts down with it.
func RootHTTPRouterFactory(opts server.Options) *backend.ServiceFactory {
	return backend.NewServiceFactory(RootHTTPRouterRef, func(ctx context.Context, deps *backend.Deps) (*server.Server, error) {
		logger, err := backend.Get(ctx, deps, RootLoggerRef)
		if err != nil {
			return nil, err
		}
		metrics, err := backend.Get(ctx, deps, MetricsRef)
		if err != nil {
			return nil, err
		}
		tracer, err := backend.Get(ctx, deps, TracerRef)
		if err != nil {
			return nil, err
		}
		lifecycle, err := backend.Get(ctx, deps, backend.RootLifecycleRef)
		if err != nil {
			return nil, err
		}

		srv := server.New(opts, logger.With(zap.String("service", "rootHttpRouter")), metrics, tracer)
		stopped := make(chan struct{})
		lifecycle.AddStartupHook("http.listen", func(context.Context) error {
			if err := srv.Listen(); err != nil {
				return err
			}
			go func() {
				select {
				case err := <-srv.Served():
					lifecycle.Fail("http.serve", err)
				case <-stopped:
				}
			}()
			return nil
		})
		lifecycle.AddShutdownHook("http.shutdown", func(ctx context.Context) error {
			close(stopped)
			return srv.Shutdown(ctx)
		})
		return srv, nil
	})
}

// HTTPRouterFactory mounts each plugin under /api/<pluginId>
func HTTPRouterFactory() *backend.ServiceFactory {
	return backend.NewServiceFactory(HTTPRouterRef, func(ctx context.Context, deps *backend.Deps) (*gin.RouterGroup, error) {
		root, err := backend.Get(ctx, deps, RootHTTPRouterRef)
		if err != nil {
			return nil, err
		}
		return root.Group("/api/" + deps.PluginID()), nil
	})
}

// ErrorJSON writes the JSON error body shared by all plugin handlers
func ErrorJSON(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
