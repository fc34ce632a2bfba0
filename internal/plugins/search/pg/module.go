package pg

import (
	"context"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/search"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/database"
)

// NewModule creates the search pg module. Without a configured database
// it registers nothing and the default engine stays in place.
func NewModule() *backend.Module {
	return backend.NewModule(backend.ModuleOptions{
		PluginID: search.PluginID,
		ModuleID: "pg",
		Register: func(env *backend.ModuleEnv) {
			env.RegisterInit(initModule)
		},
	})
}

func initModule(ctx context.Context, deps *backend.Deps) error {
	engines, err := backend.UseExtensionPoint(deps, search.EngineExtensionPoint)
	if err != nil {
		return err
	}
	logger, err := backend.Get(ctx, deps, core.LoggerRef)
	if err != nil {
		return err
	}
	db, err := backend.Get(ctx, deps, database.Ref)
	if err != nil {
		return err
	}

	if !db.Configured() {
		logger.Info("No database configured, Postgres search engine disabled")
		return nil
	}
	gdb, err := db.DB(ctx)
	if err != nil {
		return err
	}
	engine, err := NewEngine(ctx, gdb, db.TablePrefix())
	if err != nil {
		return err
	}
	engines.SetEngine(engine)
	logger.Info("Using Postgres search engine")
	return nil
}
