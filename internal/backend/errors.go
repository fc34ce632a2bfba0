package backend

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted          = errors.New("backend has already been started")
	ErrNilLoader               = errors.New("loader has no load function")
	ErrNilFeature              = errors.New("loader returned no feature")
	ErrDuplicatePlugin         = errors.New("plugin is registered more than once")
	ErrDuplicateModule         = errors.New("module is registered more than once")
	ErrPluginNotFound          = errors.New("module targets a plugin that is not registered")
	ErrDuplicateExtensionPoint = errors.New("extension point is provided more than once")
	ErrExtensionPointNotFound  = errors.New("extension point not found")
	ErrMissingInit             = errors.New("feature did not register an init function")
	ErrDuplicateInit           = errors.New("feature registered more than one init function")
	ErrDuplicateService        = errors.New("service factory is registered more than once")
	ErrServiceNotFound         = errors.New("no factory registered for service")
	ErrServiceScope            = errors.New("plugin scoped service requested outside a plugin")
	ErrServiceCycle            = errors.New("circular service dependency")
	ErrServiceType             = errors.New("service instance has unexpected type")
)

// LoadError reports a loader that failed to produce its feature
type LoadError struct {
	Index int
	Name  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load feature %s: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RegistrationError reports an invalid feature set
type RegistrationError struct {
	Feature FeatureInfo
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register %s: %v", e.Feature, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// InitError reports a plugin or module whose init failed. ModuleID is
// empty for plugins.
type InitError struct {
	PluginID string
	ModuleID string
	Err      error
}

func (e *InitError) Error() string {
	if e.ModuleID != "" {
		return fmt.Sprintf("module %q for plugin %q failed to initialize: %v", e.ModuleID, e.PluginID, e.Err)
	}
	return fmt.Sprintf("plugin %q failed to initialize: %v", e.PluginID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
