// Package catalog is the software catalog plugin. It ingests entities from
// registered locations and entity providers and serves them over REST.
package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/database"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

// PluginID is the catalog plugin id and its route prefix
const PluginID = "catalog"

// NewPlugin creates the catalog plugin
func NewPlugin() *backend.Plugin {
	ext := &processing{}
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			backend.ProvideExtensionPoint[Processing](env, ProcessingExtensionPoint, ext)
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				return initCatalog(ctx, deps, ext)
			})
		},
	})
}

func initCatalog(ctx context.Context, deps *backend.Deps, ext *processing) error {
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
	db, err := backend.Get(ctx, deps, database.Ref)
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

	var store Store = NewMemoryStore()
	if db.Configured() {
		gdb, err := db.DB(ctx)
		if err != nil {
			return err
		}
		if store, err = NewGormStore(ctx, gdb, db.TablePrefix()); err != nil {
			return err
		}
		logger.Info("Using database entity store")
	}

	providers, processors := ext.seal()
	cat := New(store, reader, processors, logger, metrics)

	for _, loc := range cfg.SubList("catalog.locations") {
		target, err := loc.String("target")
		if err != nil {
			return err
		}
		if err := cat.EnsureLocation(ctx, loc.OptionalString("type", "url"), target); err != nil {
			return err
		}
	}

	if err := cat.Connect(ctx, providers); err != nil {
		return err
	}

	schedule := scheduler.ScheduleFrom(cfg.Sub("catalog.refresh"), scheduler.Schedule{
		Frequency: 100 * time.Second,
		Timeout:   time.Minute,
	})
	if err := sched.ScheduleTask(scheduler.TaskOptions{
		ID:       "catalog-refresh",
		Schedule: schedule,
		Fn:       cat.Refresh,
	}); err != nil {
		return err
	}

	NewHandlers(cat).Register(router)
	logger.Info("Catalog ready",
		zap.Int("providers", len(providers)),
		zap.Int("processors", len(processors)),
	)
	return nil
}
