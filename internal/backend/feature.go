package backend

import (
	"context"
	"fmt"
)

// FeatureKind classifies a registered feature
type FeatureKind string

const (
	KindPlugin  FeatureKind = "plugin"
	KindModule  FeatureKind = "module"
	KindService FeatureKind = "service"
)

// FeatureInfo identifies a feature
type FeatureInfo struct {
	Kind      FeatureKind `json:"kind"`
	PluginID  string      `json:"pluginId,omitempty"`
	ModuleID  string      `json:"moduleId,omitempty"`
	ServiceID string      `json:"serviceId,omitempty"`
}

func (i FeatureInfo) String() string {
	switch i.Kind {
	case KindPlugin:
		return "plugin:" + i.PluginID
	case KindModule:
		return "module:" + i.PluginID + "." + i.ModuleID
	case KindService:
		return "service:" + i.ServiceID
	default:
		return string(i.Kind)
	}
}

// Feature is a unit the backend can register: a plugin, a module or a
// service factory.
type Feature interface {
	Info() FeatureInfo
	feature()
}

// InitFunc initializes a plugin or module. It runs once, after every
// feature is registered.
type InitFunc func(ctx context.Context, deps *Deps) error

// PluginOptions describes a plugin
type PluginOptions struct {
	ID       string
	Register func(env *PluginEnv)
}

// Plugin is a top-level unit of functionality owning a route namespace and
// zero or more extension points.
type Plugin struct {
	id       string
	register func(env *PluginEnv)
}

// NewPlugin creates a plugin feature
func NewPlugin(opts PluginOptions) *Plugin {
	return &Plugin{id: opts.ID, register: opts.Register}
}

func (p *Plugin) Info() FeatureInfo { return FeatureInfo{Kind: KindPlugin, PluginID: p.id} }
func (p *Plugin) feature()          {}

// ModuleOptions describes a module extending a plugin
type ModuleOptions struct {
	PluginID string
	ModuleID string
	Register func(env *ModuleEnv)
}

// Module extends exactly one plugin, typically through its extension points
type Module struct {
	pluginID string
	moduleID string
	register func(env *ModuleEnv)
}

// NewModule creates a module feature
func NewModule(opts ModuleOptions) *Module {
	return &Module{pluginID: opts.PluginID, moduleID: opts.ModuleID, register: opts.Register}
}

func (m *Module) Info() FeatureInfo {
	return FeatureInfo{Kind: KindModule, PluginID: m.pluginID, ModuleID: m.moduleID}
}
func (m *Module) feature() {}

// ServiceFactory creates instances of one service
type ServiceFactory struct {
	id     string
	scope  Scope
	create func(ctx context.Context, deps *Deps) (any, error)
}

// NewServiceFactory creates a factory for ref. Root scoped factories run
// once per backend, plugin scoped ones once per plugin.
func NewServiceFactory[T any](ref ServiceRef[T], create func(ctx context.Context, deps *Deps) (T, error)) *ServiceFactory {
	return &ServiceFactory{
		id:    ref.id,
		scope: ref.scope,
		create: func(ctx context.Context, deps *Deps) (any, error) {
			return create(ctx, deps)
		},
	}
}

func (f *ServiceFactory) Info() FeatureInfo { return FeatureInfo{Kind: KindService, ServiceID: f.id} }
func (f *ServiceFactory) feature()          {}

// Loader resolves one feature. Name identifies the entry in errors.
type Loader struct {
	Name string
	Load func(ctx context.Context) (Feature, error)
}

// Static wraps an already constructed feature
func Static(f Feature) Loader {
	return Loader{
		Name: f.Info().String(),
		Load: func(context.Context) (Feature, error) { return f, nil },
	}
}

func (l Loader) resolve(ctx context.Context, index int) (Feature, error) {
	name := l.Name
	if name == "" {
		name = fmt.Sprintf("#%d", index)
	}
	if l.Load == nil {
		return nil, &LoadError{Index: index, Name: name, Err: ErrNilLoader}
	}
	f, err := l.Load(ctx)
	if err != nil {
		return nil, &LoadError{Index: index, Name: name, Err: err}
	}
	if f == nil {
		return nil, &LoadError{Index: index, Name: name, Err: ErrNilFeature}
	}
	return f, nil
}
