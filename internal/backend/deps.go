package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Deps gives an init or service factory access to services and, for
// modules, the extension points of their plugin.
type Deps struct {
	pluginID string
	moduleID string
	c        *container
	points   map[string]any
}

// PluginID returns the owning plugin; empty for root services
func (d *Deps) PluginID() string { return d.pluginID }

// ModuleID returns the module being initialized, if any
func (d *Deps) ModuleID() string { return d.moduleID }

// Get resolves a service for the caller's plugin. ctx must be the context
// handed to the init or factory so dependency cycles can be detected.
func Get[T any](ctx context.Context, deps *Deps, ref ServiceRef[T]) (T, error) {
	var zero T
	v, err := deps.c.resolve(ctx, ref.id, deps.pluginID)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrServiceType, ref.id, v)
	}
	return out, nil
}

// UseExtensionPoint returns an extension point of the module's plugin
func UseExtensionPoint[T any](deps *Deps, ref ExtensionPointRef[T]) (T, error) {
	var zero T
	v, ok := deps.points[ref.id]
	if !ok || deps.moduleID == "" {
		return zero, fmt.Errorf("%w: %s", ErrExtensionPointNotFound, ref.id)
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: extension point %s is %T", ErrServiceType, ref.id, v)
	}
	return out, nil
}

type instanceKey struct {
	service string
	plugin  string
}

func (k instanceKey) String() string {
	if k.plugin == "" {
		return k.service
	}
	return k.service + "@" + k.plugin
}

type instance struct {
	once  sync.Once
	value any
	err   error
}

// container owns service factories and the instances created from them
type container struct {
	factories map[string]*ServiceFactory

	mu        sync.Mutex
	instances map[instanceKey]*instance
}

func newContainer() *container {
	return &container{
		factories: make(map[string]*ServiceFactory),
		instances: make(map[instanceKey]*instance),
	}
}

type stackKey struct{}

func resolutionStack(ctx context.Context) []instanceKey {
	stack, _ := ctx.Value(stackKey{}).([]instanceKey)
	return stack
}

func (c *container) resolve(ctx context.Context, serviceID, pluginID string) (any, error) {
	f, ok := c.factories[serviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}

	key := instanceKey{service: serviceID}
	if f.scope == ScopePlugin {
		if pluginID == "" {
			return nil, fmt.Errorf("%w: %s", ErrServiceScope, serviceID)
		}
		key.plugin = pluginID
	}

	stack := resolutionStack(ctx)
	for i, k := range stack {
		if k == key {
			path := make([]string, 0, len(stack)-i+1)
			for _, s := range stack[i:] {
				path = append(path, s.String())
			}
			path = append(path, key.String())
			return nil, fmt.Errorf("%w: %s", ErrServiceCycle, strings.Join(path, " -> "))
		}
	}

	c.mu.Lock()
	inst, ok := c.instances[key]
	if !ok {
		inst = &instance{}
		c.instances[key] = inst
	}
	c.mu.Unlock()

	inst.once.Do(func() {
		next := make([]instanceKey, len(stack), len(stack)+1)
		copy(next, stack)
		next = append(next, key)
		fctx := context.WithValue(ctx, stackKey{}, next)
		inst.value, inst.err = f.create(fctx, &Deps{pluginID: key.plugin, c: c})
		if inst.err != nil {
			inst.err = fmt.Errorf("failed to create service %s: %w", key, inst.err)
		}
	})
	return inst.value, inst.err
}
