package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
)

func TestReadIntegrations(t *testing.T) {
	cfg := config.NewAppConfig(map[string]interface{}{
		"integrations": map[string]interface{}{
			"github": []interface{}{
				map[string]interface{}{"host": "ghe.example.com", "token": "secret"},
			},
		},
	})

	ins := ReadIntegrations(cfg)
	require.Len(t, ins, 2)

	ghe, ok := Find(ins, "ghe.example.com")
	require.True(t, ok)
	assert.Equal(t, "https://ghe.example.com/api/v3", ghe.APIBaseURL)
	assert.Equal(t, "secret", ghe.Token)

	public, ok := Find(ins, "github.com")
	require.True(t, ok)
	assert.Equal(t, "https://api.github.com", public.APIBaseURL)

	_, ok = Find(ins, "gitlab.com")
	assert.False(t, ok)
}

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    Repo
		wantErr bool
	}{
		{raw: "https://github.com/acme/payments", want: Repo{Host: "github.com", Owner: "acme", Name: "payments"}},
		{raw: "github.com?owner=acme&repo=payments", want: Repo{Host: "github.com", Owner: "acme", Name: "payments"}},
		{raw: "https://ghe.example.com/acme/payments.git", want: Repo{Host: "ghe.example.com", Owner: "acme", Name: "payments"}},
		{raw: "github.com?owner=acme", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			repo, err := ParseRepoURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, repo)
		})
	}
}

func TestListOrgReposPages(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/orgs/acme/repos", r.URL.Path)

		count := 100
		if r.URL.Query().Get("page") == "2" {
			count = 3
		}
		repos := make([]Repository, count)
		for i := range repos {
			repos[i] = Repository{Name: fmt.Sprintf("repo-%s-%d", r.URL.Query().Get("page"), i), DefaultBranch: "main"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(repos)
	}))
	defer srv.Close()

	client := NewClient(Integration{Host: "github.com", APIBaseURL: srv.URL, Token: "tok"}, nil)
	repos, err := client.ListOrgRepos(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, repos, 103)
	assert.Equal(t, "Bearer tok", auth)
}
