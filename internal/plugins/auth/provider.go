package auth

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
)

var (
	ErrNotSupported  = errors.New("operation not supported by provider")
	ErrInvalidState  = errors.New("invalid authorization state")
	ErrNoRefresh     = errors.New("missing refresh token")
	ErrUnknown       = errors.New("unknown auth provider")
	ErrInvalidToken  = errors.New("invalid identity token")
	ErrSignInFailure = errors.New("sign-in resolution failed")
)

// ProvidersExtensionPoint lets modules register sign-in providers
var ProvidersExtensionPoint = backend.NewExtensionPoint[Providers]("auth.providers")

// Providers is implemented by the auth plugin
type Providers interface {
	AddProvider(id string, p Provider)
}

// Profile is the user profile reported by a provider
type Profile struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Picture     string `json:"picture,omitempty"`
}

// Result is the outcome of a successful sign-in or refresh
type Result struct {
	Profile      Profile
	ProviderInfo map[string]interface{}
	// RefreshToken is kept in an http-only cookie, never sent in the body
	RefreshToken string
	// UserEntityRef and OwnershipRefs become the identity token claims
	UserEntityRef string
	OwnershipRefs []string
}

// Provider implements one sign-in method
type Provider interface {
	// Start returns the URL to redirect the browser to
	Start(c *gin.Context, state string) (string, error)
	// Handle completes the redirect flow
	Handle(c *gin.Context) (*Result, error)
	// Refresh renews a session from its refresh token
	Refresh(ctx context.Context, refreshToken, scope string) (*Result, error)
}

type registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func newRegistry() *registry {
	return &registry{providers: make(map[string]Provider)}
}

func (r *registry) AddProvider(id string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		panic("auth: provider " + id + " registered twice")
	}
	r.providers[id] = p
}

func (r *registry) get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
