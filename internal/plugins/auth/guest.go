package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
)

// DefaultGuestRef is the identity issued to guests
const DefaultGuestRef = "user:development/guest"

// GuestEnabled reports whether auth.providers.guest should be registered.
// Outside development it also needs
// auth.providers.guest.dangerouslyAllowOutsideDevelopment.
func GuestEnabled(cfg *config.AppConfig) bool {
	if !cfg.Has("auth.providers.guest") {
		return false
	}
	if Environment(cfg) == "development" {
		return true
	}
	return cfg.Bool("auth.providers.guest.dangerouslyAllowOutsideDevelopment", false)
}

// GuestProvider signs everyone in as the same user, without a redirect
type GuestProvider struct {
	userRef   string
	ownership []string
}

// NewGuestProvider creates the guest provider
func NewGuestProvider(userRef string, ownership []string) *GuestProvider {
	if userRef == "" {
		userRef = DefaultGuestRef
	}
	if len(ownership) == 0 {
		ownership = []string{userRef}
	}
	return &GuestProvider{userRef: userRef, ownership: ownership}
}

func (g *GuestProvider) Start(*gin.Context, string) (string, error) {
	return "", ErrNotSupported
}

func (g *GuestProvider) Handle(*gin.Context) (*Result, error) {
	return nil, ErrNotSupported
}

func (g *GuestProvider) Refresh(context.Context, string, string) (*Result, error) {
	return &Result{
		Profile:       Profile{DisplayName: "Guest"},
		UserEntityRef: g.userRef,
		OwnershipRefs: g.ownership,
	}, nil
}
