package scaffolder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog/scaffolderentitymodel"
)

func templateEntity(spec map[string]interface{}) *catalog.Entity {
	e := &catalog.Entity{
		APIVersion: scaffolderentitymodel.TemplateAPIVersion,
		Kind:       "Template",
		Metadata:   catalog.Metadata{Name: "service", Namespace: "default", Title: "New service"},
		Spec:       spec,
	}
	e.SetAnnotation(catalog.AnnotationLocation, "file:/repo/templates/service/template.yaml")
	return e
}

func TestParseTemplate(t *testing.T) {
	e := templateEntity(map[string]interface{}{
		"type": "service",
		"parameters": []interface{}{
			map[string]interface{}{"title": "Basics", "required": []interface{}{"name"}},
			map[string]interface{}{"title": "Repo", "required": []interface{}{"repoUrl"}},
		},
		"steps": []interface{}{
			map[string]interface{}{"id": "fetch", "action": "fetch:template", "input": map[string]interface{}{"url": "./skeleton"}},
			map[string]interface{}{"action": "debug:log", "if": "${{ parameters.verbose }}"},
		},
		"output": map[string]interface{}{"links": []interface{}{}},
	})

	spec, err := ParseTemplate(e)
	require.NoError(t, err)
	assert.Equal(t, "service", spec.Type)
	require.Len(t, spec.Steps, 2)
	assert.Equal(t, "fetch", spec.Steps[0].ID)
	assert.Equal(t, "step-1", spec.Steps[1].ID)
	assert.Equal(t, "${{ parameters.verbose }}", spec.Steps[1].If)
	assert.Equal(t, []string{"name", "repoUrl"}, spec.RequiredParameters())
	assert.Len(t, spec.ParameterSteps(), 2)
	assert.Equal(t, "/repo/templates/service/template.yaml", BaseURL(e))
}

func TestParseTemplateSingleParameterPage(t *testing.T) {
	spec, err := ParseTemplate(templateEntity(map[string]interface{}{
		"type":       "website",
		"parameters": map[string]interface{}{"required": []interface{}{"name"}},
		"steps":      []interface{}{},
	}))
	require.NoError(t, err)
	assert.Len(t, spec.ParameterSteps(), 1)
	assert.Equal(t, []string{"name"}, spec.RequiredParameters())
}

func TestParseTemplateRejectsOtherKinds(t *testing.T) {
	e := templateEntity(nil)
	e.Kind = "Component"
	_, err := ParseTemplate(e)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	e = templateEntity(nil)
	e.APIVersion = "backstage.io/v1alpha1"
	_, err = ParseTemplate(e)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestBaseURLPrefersSourceLocation(t *testing.T) {
	e := templateEntity(nil)
	e.SetAnnotation(catalog.AnnotationSourceLocation, "url:https://github.com/acme/templates/tree/main/service/")
	assert.Equal(t, "https://github.com/acme/templates/tree/main/service/", BaseURL(e))

	e.Metadata.Annotations = nil
	assert.Equal(t, "", BaseURL(e))
}
