// Package scaffolderentitymodel teaches the catalog the Template kind used
// by the scaffolder.
package scaffolderentitymodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
)

// TemplateAPIVersion is the only accepted Template apiVersion
const TemplateAPIVersion = "scaffolder.backstage.io/v1beta3"

// Processor validates Template entities
type Processor struct{}

func (Processor) ProcessorName() string { return "ScaffolderEntitiesProcessor" }

// ValidateEntityKind accepts v1beta3 Templates and checks their steps
func (Processor) ValidateEntityKind(e *catalog.Entity) (bool, error) {
	if e.APIVersion != TemplateAPIVersion || e.Kind != "Template" {
		return false, nil
	}
	if e.SpecString("type") == "" {
		return false, fmt.Errorf("%w: spec.type is required", catalog.ErrInvalidEntity)
	}

	steps, ok := e.Spec["steps"].([]interface{})
	if !ok {
		return false, fmt.Errorf("%w: spec.steps must be a list", catalog.ErrInvalidEntity)
	}
	ids := make(map[string]bool, len(steps))
	for i, raw := range steps {
		step, ok := raw.(map[string]interface{})
		if !ok {
			return false, fmt.Errorf("%w: spec.steps[%d] must be an object", catalog.ErrInvalidEntity, i)
		}
		action, _ := step["action"].(string)
		if strings.TrimSpace(action) == "" {
			return false, fmt.Errorf("%w: spec.steps[%d].action is required", catalog.ErrInvalidEntity, i)
		}
		if id, _ := step["id"].(string); id != "" {
			if ids[id] {
				return false, fmt.Errorf("%w: duplicate step id %q", catalog.ErrInvalidEntity, id)
			}
			ids[id] = true
		}
		if input, present := step["input"]; present && input != nil {
			if _, ok := input.(map[string]interface{}); !ok {
				return false, fmt.Errorf("%w: spec.steps[%d].input must be an object", catalog.ErrInvalidEntity, i)
			}
		}
	}

	switch params := e.Spec["parameters"].(type) {
	case nil, map[string]interface{}, []interface{}:
	default:
		return false, fmt.Errorf("%w: spec.parameters has unsupported type %T", catalog.ErrInvalidEntity, params)
	}
	return true, nil
}

// PostProcessEntity relates the template to its owner
func (Processor) PostProcessEntity(_ context.Context, e *catalog.Entity, emit catalog.Emit) error {
	if e.APIVersion != TemplateAPIVersion || e.Kind != "Template" {
		return nil
	}
	owner := e.SpecString("owner")
	if owner == "" {
		return nil
	}
	ref, err := catalog.ParseEntityRef(owner, "group", e.Ref().Namespace)
	if err != nil {
		return err
	}
	emit(catalog.Relation{Type: catalog.RelationOwnedBy, TargetRef: ref.String()})
	return nil
}

// NewModule creates the catalog scaffolder-entity-model module
func NewModule() *backend.Module {
	return backend.NewModule(backend.ModuleOptions{
		PluginID: catalog.PluginID,
		ModuleID: "scaffolder-entity-model",
		Register: func(env *backend.ModuleEnv) {
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				processing, err := backend.UseExtensionPoint(deps, catalog.ProcessingExtensionPoint)
				if err != nil {
					return err
				}
				processing.AddProcessor(Processor{})
				return nil
			})
		},
	})
}
