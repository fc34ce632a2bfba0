package github

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	integration "github.com/GriffinCanCode/devportal/backend/internal/integrations/github"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/events"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

// NewModule creates the catalog github module
func NewModule() *backend.Module {
	return backend.NewModule(backend.ModuleOptions{
		PluginID: catalog.PluginID,
		ModuleID: "github",
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
	reader, err := backend.Get(ctx, deps, urlreader.Ref)
	if err != nil {
		return err
	}
	broker, err := backend.Get(ctx, deps, events.Ref)
	if err != nil {
		return err
	}

	configs, err := ReadProviderConfigs(cfg)
	if err != nil {
		return err
	}
	integrations := integration.ReadIntegrations(cfg)

	for _, pc := range configs {
		in, ok := integration.Find(integrations, pc.Host)
		if !ok {
			return fmt.Errorf("no integrations.github entry for host %s", pc.Host)
		}
		p := NewProvider(pc, integration.NewClient(in, metrics), reader, sched,
			logger.With(zap.String("provider", pc.ID)))
		processing.AddEntityProvider(p)
		broker.Subscribe(p.ProviderName(), []string{PushTopic}, p.HandlePush)
	}

	logger.Info("GitHub entity providers registered", zap.Int("providers", len(configs)))
	return nil
}
