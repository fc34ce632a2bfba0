package techdocs

import (
	"context"
	"time"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/search"
	docs "github.com/GriffinCanCode/devportal/backend/internal/plugins/techdocs"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
)

// NewModule creates the search techdocs module
func NewModule() *backend.Module {
	return backend.NewModule(backend.ModuleOptions{
		PluginID: search.PluginID,
		ModuleID: "techdocs",
		Register: func(env *backend.ModuleEnv) {
			env.RegisterInit(initModule)
		},
	})
}

func initModule(ctx context.Context, deps *backend.Deps) error {
	registry, err := backend.UseExtensionPoint(deps, search.IndexRegistryExtensionPoint)
	if err != nil {
		return err
	}
	cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
	if err != nil {
		return err
	}

	schedule := scheduler.ScheduleFrom(cfg.Sub("search.collators.techdocs.schedule"), scheduler.Schedule{
		Frequency:    10 * time.Minute,
		Timeout:      15 * time.Minute,
		InitialDelay: 3 * time.Second,
	})
	registry.AddCollator(NewCollator(
		docs.PublishDirectory(cfg),
		cfg.OptionalString("search.collators.techdocs.locationTemplate", "/docs"),
	), schedule)
	return nil
}
