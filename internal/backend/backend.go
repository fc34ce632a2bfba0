package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
)

type state int

const (
	stateIdle state = iota
	stateStarting
	stateStarted
	stateStopped
)

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the logger the backend reports progress to
func WithLogger(logger *logging.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records feature counts and init durations
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(b *Backend) { b.metrics = metrics }
}

// WithServices installs default service factories. Factories added later
// through Add replace them.
func WithServices(factories ...*ServiceFactory) Option {
	return func(b *Backend) {
		for _, f := range factories {
			b.defaults[f.id] = f
		}
	}
}

type pluginEntry struct {
	plugin  *Plugin
	env     *PluginEnv
	modules []*moduleEntry
}

type moduleEntry struct {
	module *Module
	env    *ModuleEnv
}

// Backend registers features and drives their initialization
type Backend struct {
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	defaults map[string]*ServiceFactory

	mu       sync.Mutex
	state    state
	loaders  []Loader
	features []FeatureInfo

	services *container
	plugins  []*pluginEntry
	failed   chan error
}

// New creates a backend with the core lifecycle services installed
func New(opts ...Option) *Backend {
	b := &Backend{
		logger:   logging.NewNop(),
		defaults: make(map[string]*ServiceFactory),
		failed:   make(chan error, 1),
	}
	WithServices(
		NewServiceFactory(RootLifecycleRef, func(context.Context, *Deps) (RootLifecycleService, error) {
			return newLifecycle(b.logger.With(zap.String("service", RootLifecycleRef.id)), b.failed), nil
		}),
		NewServiceFactory(LifecycleRef, func(_ context.Context, deps *Deps) (LifecycleService, error) {
			return NewLifecycle(b.logger.ForPlugin(deps.PluginID())), nil
		}),
	)(b)
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Add appends loaders in order. Adding after Start is a programming error.
func (b *Backend) Add(loaders ...Loader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateIdle {
		panic("backend: Add called after Start")
	}
	b.loaders = append(b.loaders, loaders...)
}

// Features returns the registered features in registration order
func (b *Backend) Features() []FeatureInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FeatureInfo, len(b.features))
	copy(out, b.features)
	return out
}

// Start resolves, registers and initializes every feature, then runs the
// root startup hooks. It may be called once.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateIdle {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.state = stateStarting
	loaders := b.loaders
	b.mu.Unlock()

	begin := time.Now()
	b.logger.Info("Starting backend", zap.Int("features", len(loaders)))

	features, err := b.load(ctx, loaders)
	if err != nil {
		b.setState(stateStopped)
		return err
	}

	if err := b.register(features); err != nil {
		b.setState(stateStopped)
		return err
	}

	if err := b.instantiateRootServices(ctx); err != nil {
		b.fail(ctx)
		return err
	}

	if err := b.initialize(ctx); err != nil {
		b.fail(ctx)
		return err
	}

	root, err := Get(ctx, b.rootDeps(), RootLifecycleRef)
	if err != nil {
		b.fail(ctx)
		return err
	}
	if err := root.Startup(ctx); err != nil {
		b.fail(ctx)
		return err
	}

	b.setState(stateStarted)
	b.logger.Info("Backend started",
		zap.Int("plugins", len(b.plugins)),
		zap.Duration("duration", time.Since(begin)),
	)
	return nil
}

// Failed delivers the first failure a root service reported after Start,
// such as the HTTP server no longer serving. Callers should Stop.
func (b *Backend) Failed() <-chan error {
	return b.failed
}

// Stop runs plugin shutdown hooks, then root shutdown hooks, each in
// reverse order. Calling Stop more than once is a no-op.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateStarted {
		b.mu.Unlock()
		return nil
	}
	b.state = stateStopped
	b.mu.Unlock()

	b.logger.Info("Stopping backend")
	return b.shutdown(ctx)
}

func (b *Backend) setState(s state) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// fail shuts down whatever already started after a failed Start
func (b *Backend) fail(ctx context.Context) {
	b.setState(stateStopped)
	if err := b.shutdown(context.WithoutCancel(ctx)); err != nil {
		b.logger.Error("Shutdown after failed start reported errors", zap.Error(err))
	}
}

func (b *Backend) load(ctx context.Context, loaders []Loader) ([]Feature, error) {
	features := make([]Feature, 0, len(loaders))
	for i, l := range loaders {
		f, err := l.resolve(ctx, i)
		if err != nil {
			b.logger.Error("Feature failed to load", zap.String("feature", l.Name), zap.Error(err))
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

func (b *Backend) register(features []Feature) error {
	c := newContainer()
	for id, f := range b.defaults {
		c.factories[id] = f
	}

	plugins := make([]*pluginEntry, 0)
	byID := make(map[string]*pluginEntry)
	var modules []*Module
	userServices := make(map[string]bool)
	infos := make([]FeatureInfo, 0, len(features))
	counts := make(map[FeatureKind]int)

	for _, f := range features {
		info := f.Info()
		switch feat := f.(type) {
		case *ServiceFactory:
			if userServices[feat.id] {
				return &RegistrationError{Feature: info, Err: ErrDuplicateService}
			}
			userServices[feat.id] = true
			c.factories[feat.id] = feat
		case *Plugin:
			if _, dup := byID[feat.id]; dup {
				return &RegistrationError{Feature: info, Err: ErrDuplicatePlugin}
			}
			entry := &pluginEntry{plugin: feat}
			byID[feat.id] = entry
			plugins = append(plugins, entry)
		case *Module:
			modules = append(modules, feat)
		default:
			return &RegistrationError{Feature: info, Err: fmt.Errorf("unsupported feature type %T", f)}
		}
		infos = append(infos, info)
		counts[info.Kind]++
	}

	// Plugins register first so their extension points exist for modules
	points := make(map[string]string)
	for _, entry := range plugins {
		env := &PluginEnv{pluginID: entry.plugin.id, points: make(map[string]any)}
		if entry.plugin.register != nil {
			entry.plugin.register(env)
		}
		info := entry.plugin.Info()
		if err := env.validate(); err != nil {
			return &RegistrationError{Feature: info, Err: err}
		}
		for id := range env.points {
			if owner, dup := points[id]; dup {
				return &RegistrationError{
					Feature: info,
					Err:     fmt.Errorf("%w: %s already provided by %s", ErrDuplicateExtensionPoint, id, owner),
				}
			}
			points[id] = entry.plugin.id
		}
		entry.env = env
	}

	seenModules := make(map[string]bool)
	for _, m := range modules {
		info := m.Info()
		entry, ok := byID[m.pluginID]
		if !ok {
			return &RegistrationError{Feature: info, Err: ErrPluginNotFound}
		}
		if seenModules[info.String()] {
			return &RegistrationError{Feature: info, Err: ErrDuplicateModule}
		}
		seenModules[info.String()] = true

		env := &ModuleEnv{pluginID: m.pluginID, moduleID: m.moduleID}
		if m.register != nil {
			m.register(env)
		}
		if err := env.validate(); err != nil {
			return &RegistrationError{Feature: info, Err: err}
		}
		entry.modules = append(entry.modules, &moduleEntry{module: m, env: env})
	}

	if b.metrics != nil {
		for _, kind := range []FeatureKind{KindPlugin, KindModule, KindService} {
			b.metrics.SetFeatures(string(kind), counts[kind])
		}
	}

	b.mu.Lock()
	b.services = c
	b.plugins = plugins
	b.features = infos
	b.mu.Unlock()
	return nil
}

func (b *Backend) rootDeps() *Deps {
	return &Deps{c: b.services}
}

// instantiateRootServices creates every root service up front so their
// lifecycle hooks are in place before any plugin initializes.
func (b *Backend) instantiateRootServices(ctx context.Context) error {
	ids := make([]string, 0, len(b.services.factories))
	for id, f := range b.services.factories {
		if f.scope == ScopeRoot && id != RootLifecycleRef.id {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append([]string{RootLifecycleRef.id}, ids...)

	for _, id := range ids {
		if _, err := b.services.resolve(ctx, id, ""); err != nil {
			return err
		}
	}
	return nil
}

// initialize runs plugins concurrently; within a plugin its modules run
// first, in registration order, then the plugin itself.
func (b *Backend) initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range b.plugins {
		entry := entry
		g.Go(func() error {
			return b.initPlugin(gctx, entry)
		})
	}
	return g.Wait()
}

func (b *Backend) initPlugin(ctx context.Context, entry *pluginEntry) error {
	pluginID := entry.plugin.id
	logger := b.logger.ForPlugin(pluginID)

	for _, m := range entry.modules {
		deps := &Deps{pluginID: pluginID, moduleID: m.module.moduleID, c: b.services, points: entry.env.points}
		if err := b.runInit(ctx, pluginID, m.module.moduleID, m.env.init, deps); err != nil {
			return err
		}
		b.logger.ForModule(pluginID, m.module.moduleID).Debug("Module initialized")
	}

	deps := &Deps{pluginID: pluginID, c: b.services}
	if err := b.runInit(ctx, pluginID, "", entry.env.init, deps); err != nil {
		return err
	}

	lifecycle, err := Get(ctx, deps, LifecycleRef)
	if err != nil {
		return &InitError{PluginID: pluginID, Err: err}
	}
	if starter, ok := lifecycle.(interface{ Startup(context.Context) error }); ok {
		if err := starter.Startup(ctx); err != nil {
			return &InitError{PluginID: pluginID, Err: err}
		}
	}

	logger.Info("Plugin initialized", zap.Int("modules", len(entry.modules)))
	return nil
}

func (b *Backend) runInit(ctx context.Context, pluginID, moduleID string, fn InitFunc, deps *Deps) error {
	start := time.Now()
	err := fn(ctx, deps)
	if b.metrics != nil {
		b.metrics.RecordPluginInit(pluginID, moduleID, time.Since(start), err)
	}
	if err != nil {
		var ie *InitError
		if errors.As(err, &ie) {
			return err
		}
		return &InitError{PluginID: pluginID, ModuleID: moduleID, Err: err}
	}
	return nil
}

func (b *Backend) shutdown(ctx context.Context) error {
	b.mu.Lock()
	services := b.services
	plugins := b.plugins
	b.mu.Unlock()

	if services == nil {
		return nil
	}

	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		pluginID := plugins[i].plugin.id
		deps := &Deps{pluginID: pluginID, c: services}
		lifecycle, err := Get(ctx, deps, LifecycleRef)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if stopper, ok := lifecycle.(interface{ Shutdown(context.Context) error }); ok {
			if err := stopper.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("plugin %s: %w", pluginID, err))
			}
		}
	}

	if root, err := Get(ctx, &Deps{c: services}, RootLifecycleRef); err == nil {
		if err := root.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	} else {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
