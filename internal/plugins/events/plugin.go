// Package events exposes the event broker over HTTP: webhook style
// ingress and a websocket stream of published events.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/events"
	"github.com/GriffinCanCode/devportal/backend/internal/services/httpauth"
)

// PluginID is the events plugin id and its route prefix
const PluginID = "events"

// NewPlugin creates the events plugin
func NewPlugin() *backend.Plugin {
	return backend.NewPlugin(backend.PluginOptions{
		ID: PluginID,
		Register: func(env *backend.PluginEnv) {
			env.RegisterInit(initEvents)
		},
	})
}

func initEvents(ctx context.Context, deps *backend.Deps) error {
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
	broker, err := backend.Get(ctx, deps, events.Ref)
	if err != nil {
		return err
	}
	auth, err := backend.Get(ctx, deps, httpauth.Ref)
	if err != nil {
		return err
	}

	topics := cfg.Strings("events.http.topics")
	NewIngress(broker, topics, cfg.Strings("events.http.metadataHeaders"), logger).Register(router)

	origins := cfg.Strings("events.stream.allowedOrigins")
	if len(origins) == 0 {
		origins = []string{cfg.OptionalString("app.baseUrl", "http://localhost:3000")}
	}
	NewStream(broker, origins, auth, logger).Register(router)

	logger.Info("Events ready", zap.Strings("httpTopics", topics))
	return nil
}
