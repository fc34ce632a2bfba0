package backend

import "fmt"

// PluginEnv is handed to a plugin's Register callback
type PluginEnv struct {
	pluginID string
	init     InitFunc
	inits    int
	points   map[string]any
	err      error
}

// PluginID returns the plugin being registered
func (e *PluginEnv) PluginID() string { return e.pluginID }

// RegisterInit sets the plugin init; it must be called exactly once
func (e *PluginEnv) RegisterInit(fn InitFunc) {
	e.inits++
	e.init = fn
}

// ProvideExtensionPoint exposes impl to the plugin's modules
func ProvideExtensionPoint[T any](env *PluginEnv, ref ExtensionPointRef[T], impl T) {
	if env.err != nil {
		return
	}
	if _, dup := env.points[ref.id]; dup {
		env.err = fmt.Errorf("%w: %s", ErrDuplicateExtensionPoint, ref.id)
		return
	}
	env.points[ref.id] = impl
}

func (e *PluginEnv) validate() error {
	if e.err != nil {
		return e.err
	}
	switch {
	case e.inits == 0 || e.init == nil:
		return ErrMissingInit
	case e.inits > 1:
		return ErrDuplicateInit
	}
	return nil
}

// ModuleEnv is handed to a module's Register callback
type ModuleEnv struct {
	pluginID string
	moduleID string
	init     InitFunc
	inits    int
}

// PluginID returns the plugin this module extends
func (e *ModuleEnv) PluginID() string { return e.pluginID }

// ModuleID returns the module being registered
func (e *ModuleEnv) ModuleID() string { return e.moduleID }

// RegisterInit sets the module init; it must be called exactly once
func (e *ModuleEnv) RegisterInit(fn InitFunc) {
	e.inits++
	e.init = fn
}

func (e *ModuleEnv) validate() error {
	switch {
	case e.inits == 0 || e.init == nil:
		return ErrMissingInit
	case e.inits > 1:
		return ErrDuplicateInit
	}
	return nil
}
