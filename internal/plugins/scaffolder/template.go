package scaffolder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog/scaffolderentitymodel"
)

var ErrInvalidTemplate = errors.New("invalid template")

// Step is one action invocation of a template
type Step struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name,omitempty"`
	Action string                 `json:"action"`
	Input  map[string]interface{} `json:"input,omitempty"`
	// If is rendered before the step; a falsy result skips it
	If interface{} `json:"if,omitempty"`
}

// TemplateSpec is the executable part of a Template entity
type TemplateSpec struct {
	Type       string                 `json:"type"`
	Owner      string                 `json:"owner,omitempty"`
	Parameters interface{}            `json:"parameters,omitempty"`
	Steps      []Step                 `json:"steps"`
	Output     map[string]interface{} `json:"output,omitempty"`
}

// ParseTemplate decodes the spec of a Template entity
func ParseTemplate(e *catalog.Entity) (*TemplateSpec, error) {
	if !strings.EqualFold(e.Kind, "Template") || e.APIVersion != scaffolderentitymodel.TemplateAPIVersion {
		return nil, fmt.Errorf("%w: %s is not a %s Template", ErrInvalidTemplate, e.Ref(), scaffolderentitymodel.TemplateAPIVersion)
	}
	raw, err := sonic.Marshal(e.Spec)
	if err != nil {
		return nil, err
	}
	var spec TemplateSpec
	if err := sonic.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	for i := range spec.Steps {
		if spec.Steps[i].ID == "" {
			spec.Steps[i].ID = fmt.Sprintf("step-%d", i)
		}
	}
	return &spec, nil
}

// ParameterSteps returns the parameter pages of a template; a single
// schema object becomes one page.
func (s *TemplateSpec) ParameterSteps() []map[string]interface{} {
	switch p := s.Parameters.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{p}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(p))
		for _, item := range p {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// RequiredParameters lists the required keys across every page
func (s *TemplateSpec) RequiredParameters() []string {
	var out []string
	for _, page := range s.ParameterSteps() {
		if req, ok := page["required"].([]interface{}); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					out = append(out, name)
				}
			}
		}
	}
	return out
}

// BaseURL is the location the template was read from; relative action
// inputs resolve against it.
func BaseURL(e *catalog.Entity) string {
	loc := e.Annotation(catalog.AnnotationSourceLocation)
	if loc == "" {
		loc = e.Annotation(catalog.AnnotationLocation)
	}
	_, target, ok := strings.Cut(loc, ":")
	if !ok {
		return ""
	}
	return target
}
