// Package defaults builds a backend with every core service installed.
package defaults

import (
	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/devportal/backend/internal/services/cache"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/database"
	"github.com/GriffinCanCode/devportal/backend/internal/services/discovery"
	"github.com/GriffinCanCode/devportal/backend/internal/services/httpauth"
	"github.com/GriffinCanCode/devportal/backend/internal/services/events"
	"github.com/GriffinCanCode/devportal/backend/internal/services/health"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

// ServiceName tags traces emitted by the backend
const ServiceName = "backstage-backend"

// Services returns the default factory set
func Services(cfg *config.Config, app *config.AppConfig, logger *logging.Logger, metrics *monitoring.Metrics) []*backend.ServiceFactory {
	return []*backend.ServiceFactory{
		core.ConfigFactory(app),
		core.RootLoggerFactory(logger),
		core.LoggerFactory(),
		core.MetricsFactory(metrics),
		core.TracerFactory(ServiceName),
		core.RootHTTPRouterFactory(server.OptionsFrom(cfg, app)),
		core.HTTPRouterFactory(),
		health.Factory(),
		database.ManagerFactory(),
		database.Factory(),
		cache.StoreFactory(),
		cache.Factory(),
		discovery.Factory(),
		httpauth.Factory(),
		scheduler.Factory(),
		urlreader.Factory(),
		events.Factory(),
	}
}

// New creates a backend whose core services are ready to be overridden or
// consumed by features
func New(cfg *config.Config, app *config.AppConfig, logger *logging.Logger, metrics *monitoring.Metrics) *backend.Backend {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return backend.New(
		backend.WithLogger(logger),
		backend.WithMetrics(metrics),
		backend.WithServices(Services(cfg, app, logger, metrics)...),
	)
}
