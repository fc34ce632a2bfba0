package microsoft

import (
	"context"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/auth"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/discovery"
)

// NewModule creates the auth microsoft module
func NewModule() *backend.Module {
	return backend.NewModule(backend.ModuleOptions{
		PluginID: auth.PluginID,
		ModuleID: ProviderID,
		Register: func(env *backend.ModuleEnv) {
			env.RegisterInit(initModule)
		},
	})
}

func initModule(ctx context.Context, deps *backend.Deps) error {
	providers, err := backend.UseExtensionPoint(deps, auth.ProvidersExtensionPoint)
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
	disc, err := backend.Get(ctx, deps, discovery.Ref)
	if err != nil {
		return err
	}

	callback := disc.ExternalBaseURL(auth.PluginID) + "/" + ProviderID + "/handler/frame"
	pc, ok, err := ReadConfig(cfg.Sub("auth.providers.microsoft."+auth.Environment(cfg)), callback)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("Microsoft sign-in not configured for this environment")
		return nil
	}

	providers.AddProvider(ProviderID, NewProvider(pc, metrics))
	logger.Info("Microsoft sign-in provider registered")
	return nil
}
