package techdocs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/cache"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/discovery"
)

// PluginID is the techdocs plugin id and its route prefix
const PluginID = "techdocs"

// NewPlugin creates the techdocs plugin
func NewPlugin() *backend.Plugin {
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			env.RegisterInit(initTechDocs)
		},
	})
}

func initTechDocs(ctx context.Context, deps *backend.Deps) error {
	cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
	if err != nil {
		return err
	}
	logger, err := backend.Get(ctx, deps, core.LoggerRef)
	if err != nil {
		return err
	}
	metrics, err := backend.Get(ctx, deps, core.MetricsRef)
	if err != nil {
		return err
	}
	router, err := backend.Get(ctx, deps, core.HTTPRouterRef)
	if err != nil {
		return err
	}
	disc, err := backend.Get(ctx, deps, discovery.Ref)
	if err != nil {
		return err
	}
	pages, err := backend.Get(ctx, deps, cache.Ref)
	if err != nil {
		return err
	}

	if publisher := cfg.OptionalString("techdocs.publisher.type", "local"); publisher != "local" {
		logger.Warn("Only the local publisher is supported, falling back to it", zap.String("configured", publisher))
	}

	site := NewSite(PublishDirectory(cfg))
	ttl := cfg.Duration("techdocs.cache.ttl", time.Hour)
	if ttl <= 0 {
		pages = nil
	}

	entities := catalog.NewClient(disc.BaseURL(catalog.PluginID), metrics)
	NewHandlers(site, entities, pages, ttl, logger).Register(router)
	logger.Info("TechDocs ready", zap.String("publishDirectory", site.Root()))
	return nil
}
