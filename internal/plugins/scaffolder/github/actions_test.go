package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	integration "github.com/GriffinCanCode/devportal/backend/internal/integrations/github"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/scaffolder"
)

type call struct {
	method string
	path   string
	auth   string
	body   map[string]interface{}
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeAPI) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newFakeAPI(t *testing.T) (*fakeAPI, []integration.Integration) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		api.mu.Lock()
		api.calls = append(api.calls, c)
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"login":"acme","type":"Organization"}`))
		case r.URL.Path == "/orgs/acme/repos":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"name":"billing","html_url":"https://github.com/acme/billing","default_branch":"main"}`))
		case r.URL.Path == "/repos/acme/billing/hooks":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":7}`))
		default:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	return api, []integration.Integration{{Host: "github.com", APIBaseURL: srv.URL, Token: "config-token"}}
}

func actionByID(t *testing.T, actions []*scaffolder.Action, id string) *scaffolder.Action {
	t.Helper()
	for _, a := range actions {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("no action %s", id)
	return nil
}

func newContext(workspace string, input map[string]interface{}) (*scaffolder.ActionContext, map[string]interface{}) {
	outputs := map[string]interface{}{}
	return &scaffolder.ActionContext{
		Workspace: workspace,
		Input:     input,
		OnOutput:  func(k string, v interface{}) { outputs[k] = v },
	}, outputs
}

func factory(in integration.Integration) *integration.Client {
	return integration.NewClient(in, nil)
}

func TestPublishGitHub(t *testing.T) {
	api, integrations := newFakeAPI(t)
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "README.md"), []byte("# billing"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "src", "main.go"), []byte("package main"), 0o644))

	publish := actionByID(t, Actions(integrations, factory), "publish:github")
	ac, outputs := newContext(ws, map[string]interface{}{
		"repoUrl":        "github.com?owner=acme&repo=billing",
		"description":    "Billing service",
		"repoVisibility": "public",
	})
	require.NoError(t, publish.Handler(context.Background(), ac))

	assert.Equal(t, "https://github.com/acme/billing", outputs["remoteUrl"])
	assert.Equal(t, "https://github.com/acme/billing/blob/main", outputs["repoContentsUrl"])

	calls := api.recorded()
	require.Len(t, calls, 4)
	assert.Equal(t, "/users/acme", calls[0].path)
	assert.Equal(t, "/orgs/acme/repos", calls[1].path)
	assert.Equal(t, false, calls[1].body["private"])
	assert.Equal(t, "Billing service", calls[1].body["description"])
	assert.Equal(t, "/repos/acme/billing/contents/README.md", calls[2].path)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("# billing")), calls[2].body["content"])
	assert.Equal(t, "initial commit", calls[2].body["message"])
	assert.Equal(t, "/repos/acme/billing/contents/src/main.go", calls[3].path)
	assert.Equal(t, "Bearer config-token", calls[0].auth)
}

func TestPublishGitHubErrors(t *testing.T) {
	_, integrations := newFakeAPI(t)
	publish := actionByID(t, Actions(integrations, factory), "publish:github")

	ac, _ := newContext(t.TempDir(), map[string]interface{}{"repoUrl": "github.com?owner=acme&repo=billing"})
	assert.ErrorIs(t, publish.Handler(context.Background(), ac), scaffolder.ErrInvalidInput, "empty workspace")

	ac, _ = newContext(t.TempDir(), map[string]interface{}{"repoUrl": "ghe.example.com?owner=acme&repo=billing"})
	assert.ErrorIs(t, publish.Handler(context.Background(), ac), scaffolder.ErrInvalidInput, "unknown host")

	ac, _ = newContext(t.TempDir(), map[string]interface{}{})
	assert.ErrorIs(t, publish.Handler(context.Background(), ac), scaffolder.ErrInvalidInput, "no repoUrl")
}

func TestGitHubWebhook(t *testing.T) {
	api, integrations := newFakeAPI(t)
	hook := actionByID(t, Actions(integrations, factory), "github:webhook")

	ac, outputs := newContext(t.TempDir(), map[string]interface{}{
		"repoUrl":       "github.com?owner=acme&repo=billing",
		"webhookUrl":    "https://portal.example.com/api/events/http/github",
		"webhookSecret": "s3cret",
		"events":        []interface{}{"push", "pull_request"},
		"token":         "step-token",
	})
	require.NoError(t, hook.Handler(context.Background(), ac))
	assert.EqualValues(t, 7, outputs["hookId"])

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/repos/acme/billing/hooks", calls[0].path)
	assert.Equal(t, "Bearer step-token", calls[0].auth)
	assert.Equal(t, []interface{}{"push", "pull_request"}, calls[0].body["events"])
	assert.Equal(t, true, calls[0].body["active"])
	cfg := calls[0].body["config"].(map[string]interface{})
	assert.Equal(t, "s3cret", cfg["secret"])
	assert.Equal(t, "json", cfg["content_type"])
}
