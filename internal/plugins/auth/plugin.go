// Package auth is the authentication plugin. It runs sign-in flows for the
// registered providers and issues identity tokens.
package auth

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/discovery"
)

// PluginID is the auth plugin id and its route prefix
const PluginID = "auth"

// Environment returns auth.environment, which selects provider config
func Environment(cfg *config.AppConfig) string {
	return cfg.OptionalString("auth.environment", "development")
}

// NewPlugin creates the auth plugin
func NewPlugin() *backend.Plugin {
	providers := newRegistry()
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			backend.ProvideExtensionPoint[Providers](env, ProvidersExtensionPoint, providers)
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				return initAuth(ctx, deps, providers)
			})
		},
	})
}

func initAuth(ctx context.Context, deps *backend.Deps, providers *registry) error {
	cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
	if err != nil {
		return err
	}
	logger, err := backend.Get(ctx, deps, core.LoggerRef)
	if err != nil {
		return err
	}
	router, err := backend.Get(ctx, deps, core.HTTPRouterRef)
	if err != nil {
		return err
	}
	disc, err := backend.Get(ctx, deps, discovery.Ref)
	if err != nil {
		return err
	}

	secret := []byte(cfg.OptionalString("auth.secret", ""))
	if len(secret) == 0 {
		if keys := cfg.SubList("backend.auth.keys"); len(keys) > 0 {
			secret = []byte(keys[0].OptionalString("secret", ""))
		}
	}
	if len(secret) == 0 {
		logger.Warn("No auth secret configured, identity tokens will not survive a restart")
		if secret, err = RandomSecret(); err != nil {
			return err
		}
	}

	externalURL := disc.ExternalBaseURL(PluginID)
	issuer, err := NewTokenIssuer(secret, externalURL, cfg.Duration("auth.tokenTtl", time.Hour))
	if err != nil {
		return err
	}

	switch {
	case GuestEnabled(cfg):
		guest := cfg.Sub("auth.providers.guest")
		providers.AddProvider("guest", NewGuestProvider(
			guest.OptionalString("userEntityRef", DefaultGuestRef),
			guest.Strings("ownershipEntityRefs"),
		))
	case cfg.Has("auth.providers.guest"):
		logger.Warn("Guest provider disabled outside development",
			zap.String("environment", Environment(cfg)))
	}

	basePath := "/api/" + PluginID
	if u, err := url.Parse(externalURL); err == nil && u.Path != "" {
		basePath = u.Path
	}
	appOrigin := appOriginFrom(cfg.OptionalString("app.baseUrl", "http://localhost:3000"))

	NewHandlers(providers, issuer, logger, appOrigin, basePath).Register(router)
	logger.Info("Auth providers ready",
		zap.Strings("providers", providers.ids()),
		zap.String("environment", Environment(cfg)),
	)
	return nil
}
