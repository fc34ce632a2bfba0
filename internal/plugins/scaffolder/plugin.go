package scaffolder

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/discovery"
	"github.com/GriffinCanCode/devportal/backend/internal/services/httpauth"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

// PluginID is the scaffolder plugin id and its route prefix
const PluginID = "scaffolder"

// NewPlugin creates the scaffolder plugin
func NewPlugin() *backend.Plugin {
	actions := NewActionRegistry()
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			backend.ProvideExtensionPoint[Actions](env, ActionsExtensionPoint, actions)
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				return initScaffolder(ctx, deps, actions)
			})
		},
	})
}

func initScaffolder(ctx context.Context, deps *backend.Deps, actions *ActionRegistry) error {
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
	reader, err := backend.Get(ctx, deps, urlreader.Ref)
	if err != nil {
		return err
	}
	lifecycle, err := backend.Get(ctx, deps, backend.LifecycleRef)
	if err != nil {
		return err
	}
	identity, err := backend.Get(ctx, deps, httpauth.Ref)
	if err != nil {
		return err
	}

	actions.logger = logger
	renderer := NewRenderer(cfg.Duration("scaffolder.expressionTimeout", 0))
	catalogClient := catalog.NewClient(disc.BaseURL(catalog.PluginID), metrics)
	actions.AddActions(BuiltinActions(reader, renderer, catalogClient)...)

	store := NewTaskStore()
	store.SetRetention(Retention{
		MaxAge:      cfg.Duration("scaffolder.taskRetention.maxAge", DefaultRetention.MaxAge),
		MaxFinished: cfg.Int("scaffolder.taskRetention.maxFinished", DefaultRetention.MaxFinished),
	})
	runner := NewRunner(RunnerOptions{
		Store:            store,
		Actions:          actions,
		Renderer:         renderer,
		WorkingDirectory: cfg.OptionalString("scaffolder.workingDirectory", ""),
		Concurrency:      cfg.Int("scaffolder.concurrentTasksLimit", 10),
		Logger:           logger,
		Metrics:          metrics,
	})
	lifecycle.AddShutdownHook("scaffolder.runner", runner.Stop)

	NewHandlers(runner, store, actions, catalogClient, identity, logger).Register(router)
	logger.Info("Scaffolder ready", zap.Int("actions", len(actions.List())))
	return nil
}
