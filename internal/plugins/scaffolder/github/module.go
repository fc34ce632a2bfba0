package github

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	integration "github.com/GriffinCanCode/devportal/backend/internal/integrations/github"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/scaffolder"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// NewModule creates the scaffolder github module
func NewModule() *backend.Module {
	return backend.NewModule(backend.ModuleOptions{
		PluginID: scaffolder.PluginID,
		ModuleID: "github",
		Register: func(env *backend.ModuleEnv) {
			env.RegisterInit(initModule)
		},
	})
}

func initModule(ctx context.Context, deps *backend.Deps) error {
	actions, err := backend.UseExtensionPoint(deps, scaffolder.ActionsExtensionPoint)
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

	integrations := integration.ReadIntegrations(cfg)
	actions.AddActions(Actions(integrations, func(in integration.Integration) *integration.Client {
		return integration.NewClient(in, metrics)
	})...)
	logger.Info("GitHub scaffolder actions registered", zap.Int("hosts", len(integrations)))
	return nil
}
