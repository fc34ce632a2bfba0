package kubernetes

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// PluginID is the kubernetes plugin id and its route prefix
const PluginID = "kubernetes"

// NewPlugin creates the kubernetes plugin
func NewPlugin() *backend.Plugin {
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			env.RegisterInit(initKubernetes)
		},
	})
}

func initKubernetes(ctx context.Context, deps *backend.Deps) error {
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

	clusters, err := ReadClusters(cfg)
	if err != nil {
		return err
	}
	opts := DefaultProbeOptions()
	opts.Timeout = cfg.Duration("kubernetes.probe.timeout", opts.Timeout)
	opts.Retries = cfg.Int("kubernetes.probe.retries", opts.Retries)
	opts.Breakers.Logger = logger.Logger

	prober, err := NewProber(clusters, opts, logger, metrics)
	if err != nil {
		return err
	}

	NewHandlers(prober).Register(router)
	logger.Info("Kubernetes clusters loaded", zap.Int("clusters", len(clusters)))
	return nil
}
