/*
Package backend is the runtime every portal feature plugs into.

A Backend collects features through ordered loaders, then Start resolves
them, validates the feature set, creates root services, initializes plugins
and finally runs the root startup hooks, which is when the HTTP server
begins listening.

# Features

  - Plugins own a route namespace and may expose extension points.
  - Modules extend one plugin and initialize before it, in registration order.
  - Service factories provide dependencies, scoped to the backend or a plugin.

# Usage

	catalog := backend.NewPlugin(backend.PluginOptions{
		ID: "catalog",
		Register: func(env *backend.PluginEnv) {
			backend.ProvideExtensionPoint(env, ProcessingExtensionPoint, processing)
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				router, err := backend.Get(ctx, deps, core.HTTPRouterRef)
				if err != nil {
					return err
				}
				...
			})
		},
	})

	b := backend.New(backend.WithLogger(logger))
	b.Add(backend.Static(catalog))
	if err := b.Start(ctx); err != nil {
		...
	}
	defer b.Stop(context.Background())

# Errors

Loader failures surface as *LoadError and stop Start before anything is
initialized. An invalid feature set yields *RegistrationError. A failing
init yields *InitError, after which shutdown hooks of everything created so
far are run.
*/
package backend
