package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
)

// PluginID is the search plugin id and its route prefix
const PluginID = "search"

// NewPlugin creates the search plugin
func NewPlugin() *backend.Plugin {
	ext := &extensions{}
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			backend.ProvideExtensionPoint[EngineRegistry](env, EngineExtensionPoint, ext)
			backend.ProvideExtensionPoint[IndexRegistry](env, IndexRegistryExtensionPoint, ext)
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				return initSearch(ctx, deps, ext)
			})
		},
	})
}

func initSearch(ctx context.Context, deps *backend.Deps, ext *extensions) error {
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
	sched, err := backend.Get(ctx, deps, scheduler.Ref)
	if err != nil {
		return err
	}

	engine, collators := ext.seal()
	if engine == nil {
		engine = NewMemoryEngine()
	}

	if err := NewIndexer(engine, logger, metrics).Schedule(sched, collators); err != nil {
		return err
	}

	NewHandlers(engine).Register(router)
	logger.Info("Search ready",
		zap.String("engine", engine.Name()),
		zap.Int("collators", len(collators)),
	)
	return nil
}
