// Package features is the table of features the server registers, in
// registration order.
package features

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/app"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/auth"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/auth/microsoft"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	catalogGithub "github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog/github"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog/msgraph"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog/scaffolderentitymodel"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/events"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/kubernetes"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/scaffolder"
	scaffolderGithub "github.com/GriffinCanCode/devportal/backend/internal/plugins/scaffolder/github"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/search"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/search/pg"
	searchTechdocs "github.com/GriffinCanCode/devportal/backend/internal/plugins/search/techdocs"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/techdocs"
)

// Default returns the server's features. Each constructor runs when the
// backend loads the entry, so a failure is reported against that entry.
func Default() []backend.Loader {
	return []backend.Loader{
		plugin("plugin:techdocs", techdocs.NewPlugin),
		module("module:catalog.github", catalogGithub.NewModule),
		plugin("plugin:kubernetes", kubernetes.NewPlugin),
		plugin("plugin:auth", auth.NewPlugin),
		module("module:auth.microsoft", microsoft.NewModule),
		plugin("plugin:search", search.NewPlugin),
		module("module:search.techdocs", searchTechdocs.NewModule),
		module("module:catalog.msgraph", msgraph.NewModule),
		module("module:search.pg", pg.NewModule),
		plugin("plugin:app", app.NewPlugin),
		plugin("plugin:catalog", catalog.NewPlugin),
		plugin("plugin:scaffolder", scaffolder.NewPlugin),
		module("module:scaffolder.github", scaffolderGithub.NewModule),
		plugin("plugin:events", events.NewPlugin),
		module("module:catalog.scaffolder-entity-model", scaffolderentitymodel.NewModule),
	}
}

func plugin(name string, create func() *backend.Plugin) backend.Loader {
	return lazy(name, func() backend.Feature { return create() })
}

func module(name string, create func() *backend.Module) backend.Loader {
	return lazy(name, func() backend.Feature { return create() })
}

// lazy turns a constructor panic into a load error for name
func lazy(name string, create func() backend.Feature) backend.Loader {
	return backend.Loader{
		Name: name,
		Load: func(context.Context) (f backend.Feature, err error) {
			defer func() {
				if r := recover(); r != nil {
					f, err = nil, fmt.Errorf("constructor panicked: %v", r)
				}
			}()
			return create(), nil
		},
	}
}
