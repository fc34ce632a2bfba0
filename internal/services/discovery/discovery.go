// Package discovery resolves the base URL of each plugin's API.
package discovery

import (
	"context"
	"strings"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// Ref is the root discovery service
var Ref = backend.NewServiceRef[*Service]("core.discovery", backend.ScopeRoot)

const pluginPlaceholder = "{{pluginId}}"

type endpoint struct {
	internal string
	external string
	plugins  map[string]bool
}

// Service maps plugin ids to URLs
type Service struct {
	internal  string
	external  string
	endpoints []endpoint
}

// New reads backend.baseUrl, backend.listen and discovery.endpoints.
// Endpoint targets may contain {{pluginId}}.
func New(cfg *config.AppConfig) *Service {
	port := cfg.OptionalString("backend.listen.port", "7007")
	host := cfg.OptionalString("backend.listen.host", "localhost")
	if host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	s := &Service{
		internal: "http://" + host + ":" + port,
		external: strings.TrimRight(cfg.OptionalString("backend.baseUrl", "http://localhost:"+port), "/"),
	}

	for _, ep := range cfg.SubList("discovery.endpoints") {
		e := endpoint{plugins: make(map[string]bool)}
		if target, err := ep.String("target"); err == nil {
			e.internal, e.external = target, target
		} else {
			e.internal = ep.OptionalString("target.internal", "")
			e.external = ep.OptionalString("target.external", e.internal)
		}
		for _, p := range ep.Strings("plugins") {
			e.plugins[p] = true
		}
		s.endpoints = append(s.endpoints, e)
	}
	return s
}

func (s *Service) lookup(pluginID string, external bool) string {
	for _, e := range s.endpoints {
		if !e.plugins[pluginID] {
			continue
		}
		target := e.internal
		if external {
			target = e.external
		}
		if target != "" {
			return strings.ReplaceAll(strings.TrimRight(target, "/"), pluginPlaceholder, pluginID)
		}
	}
	base := s.internal
	if external {
		base = s.external
	}
	return base + "/api/" + pluginID
}

// BaseURL is the URL other backend plugins use to reach pluginID
func (s *Service) BaseURL(pluginID string) string {
	return s.lookup(pluginID, false)
}

// ExternalBaseURL is the URL browsers and external systems use
func (s *Service) ExternalBaseURL(pluginID string) string {
	return s.lookup(pluginID, true)
}

// Factory creates the discovery service from app-config
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (*Service, error) {
		cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
		if err != nil {
			return nil, err
		}
		return New(cfg), nil
	})
}
