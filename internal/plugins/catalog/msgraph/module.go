package msgraph

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
)

// NewModule creates the catalog msgraph module
func NewModule() *backend.Module {
	return backend.NewModule(backend.ModuleOptions{
		PluginID: catalog.PluginID,
		ModuleID: "msgraph",
		Register: func(env *backend.ModuleEnv) {
			env.RegisterInit(initModule)
		},
	})
}

func initModule(ctx context.Context, deps *backend.Deps) error {
	processing, err := backend.UseExtensionPoint(deps, catalog.ProcessingExtensionPoint)
	if err != nil {
		return err
	}
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
	sched, err := backend.Get(ctx, deps, scheduler.Ref)
	if err != nil {
		return err
	}

	configs, err := ReadProviderConfigs(cfg)
	if err != nil {
		return err
	}
	for _, pc := range configs {
		client := NewClient(ctx, pc.Client, metrics)
		processing.AddEntityProvider(NewProvider(pc, client, sched, logger.With(zap.String("provider", pc.ID))))
	}
	logger.Info("Microsoft Graph providers registered", zap.Int("providers", len(configs)))
	return nil
}
