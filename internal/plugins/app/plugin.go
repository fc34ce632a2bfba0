package app

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// PluginID is the app plugin id
const PluginID = "app"

// NewPlugin creates the app plugin
func NewPlugin() *backend.Plugin {
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			env.RegisterInit(initApp)
		},
	})
}

func initApp(ctx context.Context, deps *backend.Deps) error {
	cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
	if err != nil {
		return err
	}
	logger, err := backend.Get(ctx, deps, core.LoggerRef)
	if err != nil {
		return err
	}
	root, err := backend.Get(ctx, deps, core.RootHTTPRouterRef)
	if err != nil {
		return err
	}

	if cfg.Bool("app.disabled", false) {
		logger.Info("App serving disabled")
		return nil
	}
	dir := cfg.OptionalString("app.distDir", "packages/app/dist")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn("App bundle not found, frontend will not be served", zap.String("dir", dir))
		return nil
	}

	Mount(root.Router(), NewHandler(dir))
	logger.Info("Serving frontend bundle", zap.String("dir", dir))
	return nil
}
