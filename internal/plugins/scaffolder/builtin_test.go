package scaffolder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

type fakeReader map[string]string

func (f fakeReader) Read(_ context.Context, target string) ([]byte, error) {
	if body, ok := f[target]; ok {
		return []byte(body), nil
	}
	return nil, urlreader.ErrNotFound
}

type fakeRegistrar struct {
	targets  []string
	entities []*catalog.Entity
	err      error
}

func (f *fakeRegistrar) AddLocation(_ context.Context, typ, target string, _ bool) (*catalog.AddLocationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.targets = append(f.targets, typ+":"+target)
	return &catalog.AddLocationResult{Entities: f.entities}, nil
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// actionRun executes one builtin action and returns the logs and outputs
type actionRun struct {
	logs    []string
	outputs map[string]interface{}
}

func runAction(t *testing.T, actions []*Action, id string, ac *ActionContext) (*actionRun, error) {
	t.Helper()
	run := &actionRun{outputs: map[string]interface{}{}}
	ac.OnLog = func(msg string) { run.logs = append(run.logs, msg) }
	ac.OnOutput = func(k string, v interface{}) { run.outputs[k] = v }
	for _, a := range actions {
		if a.ID == id {
			return run, a.Handler(context.Background(), ac)
		}
	}
	t.Fatalf("no action %s", id)
	return nil, nil
}

func templateDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "template.yaml"), "kind: Template")
	mustWrite(t, filepath.Join(dir, "skeleton", "README.md"), "# ${{ values.name }}\n")
	mustWrite(t, filepath.Join(dir, "skeleton", "${{ values.name }}", "main.go"), "package ${{ values.name }}\n")
	mustWrite(t, filepath.Join(dir, "skeleton", "static", "raw.txt"), "${{ left alone }}")
	return dir
}

func TestDebugLog(t *testing.T) {
	ws := t.TempDir()
	mustWrite(t, filepath.Join(ws, "a.txt"), "a")
	actions := BuiltinActions(fakeReader{}, NewRenderer(0), &fakeRegistrar{})

	run, err := runAction(t, actions, "debug:log", &ActionContext{
		Workspace: ws,
		Input:     map[string]interface{}{"message": "hello", "listWorkspace": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "Workspace: a.txt"}, run.logs)
}

func TestFetchPlainLocalDirectory(t *testing.T) {
	dir := templateDir(t)
	ws := t.TempDir()
	actions := BuiltinActions(fakeReader{}, NewRenderer(0), &fakeRegistrar{})

	_, err := runAction(t, actions, "fetch:plain", &ActionContext{
		Workspace: ws,
		BaseURL:   filepath.Join(dir, "template.yaml"),
		Input:     map[string]interface{}{"url": "./skeleton", "targetPath": "out"},
	})
	require.NoError(t, err)
	assert.Equal(t, "# ${{ values.name }}\n", readFile(t, filepath.Join(ws, "out", "README.md")))
	assert.FileExists(t, filepath.Join(ws, "out", "${{ values.name }}", "main.go"))
}

func TestFetchPlainRemoteFile(t *testing.T) {
	ws := t.TempDir()
	reader := fakeReader{"https://example.com/acme/templates/LICENSE": "MIT"}
	actions := BuiltinActions(reader, NewRenderer(0), &fakeRegistrar{})

	_, err := runAction(t, actions, "fetch:plain", &ActionContext{
		Workspace: ws,
		BaseURL:   "https://example.com/acme/templates/template.yaml",
		Input:     map[string]interface{}{"url": "./LICENSE"},
	})
	require.NoError(t, err)
	assert.Equal(t, "MIT", readFile(t, filepath.Join(ws, "LICENSE")))

	_, err = runAction(t, actions, "fetch:plain", &ActionContext{
		Workspace: ws,
		BaseURL:   "https://example.com/acme/templates/template.yaml",
		Input:     map[string]interface{}{"url": "./missing"},
	})
	assert.ErrorIs(t, err, urlreader.ErrNotFound)
}

func TestFetchTemplate(t *testing.T) {
	dir := templateDir(t)
	ws := t.TempDir()
	actions := BuiltinActions(fakeReader{}, NewRenderer(0), &fakeRegistrar{})

	_, err := runAction(t, actions, "fetch:template", &ActionContext{
		Workspace: ws,
		BaseURL:   filepath.Join(dir, "template.yaml"),
		Input: map[string]interface{}{
			"url":                   "./skeleton",
			"values":                map[string]interface{}{"name": "billing"},
			"copyWithoutTemplating": []interface{}{"static/**"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "# billing\n", readFile(t, filepath.Join(ws, "README.md")))
	assert.Equal(t, "package billing\n", readFile(t, filepath.Join(ws, "billing", "main.go")))
	assert.Equal(t, "${{ left alone }}", readFile(t, filepath.Join(ws, "static", "raw.txt")))
}

func TestFetchRejectsWorkspaceEscape(t *testing.T) {
	dir := templateDir(t)
	actions := BuiltinActions(fakeReader{}, NewRenderer(0), &fakeRegistrar{})
	_, err := runAction(t, actions, "fetch:plain", &ActionContext{
		Workspace: t.TempDir(),
		BaseURL:   filepath.Join(dir, "template.yaml"),
		Input:     map[string]interface{}{"url": "./skeleton", "targetPath": "../outside"},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = runAction(t, actions, "fetch:plain", &ActionContext{Workspace: t.TempDir(), Input: map[string]interface{}{}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCatalogRegister(t *testing.T) {
	reg := &fakeRegistrar{entities: []*catalog.Entity{
		{Kind: "Location", Metadata: catalog.Metadata{Name: "generated"}},
		{Kind: "Component", Metadata: catalog.Metadata{Name: "billing"}},
	}}
	actions := BuiltinActions(fakeReader{}, NewRenderer(0), reg)

	run, err := runAction(t, actions, "catalog:register", &ActionContext{
		Input: map[string]interface{}{"repoContentsUrl": "https://github.com/acme/billing/blob/main/"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"url:https://github.com/acme/billing/blob/main/catalog-info.yaml"}, reg.targets)
	assert.Equal(t, "component:default/billing", run.outputs["entityRef"])
	assert.Equal(t, "https://github.com/acme/billing/blob/main/catalog-info.yaml", run.outputs["catalogInfoUrl"])
}

func TestCatalogRegisterFailures(t *testing.T) {
	reg := &fakeRegistrar{err: errors.New("catalog down")}
	actions := BuiltinActions(fakeReader{}, NewRenderer(0), reg)

	_, err := runAction(t, actions, "catalog:register", &ActionContext{Input: map[string]interface{}{}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = runAction(t, actions, "catalog:register", &ActionContext{
		Input: map[string]interface{}{"catalogInfoUrl": "https://example.com/catalog-info.yaml"},
	})
	assert.ErrorContains(t, err, "catalog down")

	_, err = runAction(t, actions, "catalog:register", &ActionContext{
		Input: map[string]interface{}{"catalogInfoUrl": "https://example.com/catalog-info.yaml", "optional": true},
	})
	assert.NoError(t, err)
}
