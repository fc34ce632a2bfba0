package backend

// Scope decides how many instances of a service exist
type Scope int

const (
	// ScopePlugin services are instantiated once per plugin
	ScopePlugin Scope = iota
	// ScopeRoot services are instantiated once per backend
	ScopeRoot
)

func (s Scope) String() string {
	if s == ScopeRoot {
		return "root"
	}
	return "plugin"
}

// ServiceRef is a typed handle to a service
type ServiceRef[T any] struct {
	id    string
	scope Scope
}

// NewServiceRef declares a service
func NewServiceRef[T any](id string, scope Scope) ServiceRef[T] {
	return ServiceRef[T]{id: id, scope: scope}
}

func (r ServiceRef[T]) ID() string    { return r.id }
func (r ServiceRef[T]) Scope() Scope  { return r.scope }
func (r ServiceRef[T]) String() string { return r.id }

// ExtensionPointRef is a typed handle to an extension point a plugin
// exposes to its modules
type ExtensionPointRef[T any] struct {
	id string
}

// NewExtensionPoint declares an extension point
func NewExtensionPoint[T any](id string) ExtensionPointRef[T] {
	return ExtensionPointRef[T]{id: id}
}

func (r ExtensionPointRef[T]) ID() string { return r.id }
