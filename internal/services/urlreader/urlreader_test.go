package urlreader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/httpclient"
)

func newTestReader(t *testing.T, srv *httptest.Server) *Reader {
	t.Helper()
	opts := httpclient.DefaultOptions("test")
	opts.MaxRetries = 0
	var allow []string
	if srv != nil {
		u, err := url.Parse(srv.URL)
		require.NoError(t, err)
		allow = append(allow, u.Host)
	}
	return New(httpclient.New(opts), config.NewAppConfig(nil), Options{AllowHosts: allow})
}

func TestReadRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/catalog-info.yaml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("kind: Component"))
	}))
	defer srv.Close()

	r := newTestReader(t, srv)

	data, err := r.Read(context.Background(), srv.URL+"/catalog-info.yaml")
	require.NoError(t, err)
	assert.Equal(t, "kind: Component", string(data))

	_, err = r.Read(context.Background(), srv.URL+"/missing.yaml")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadRejectsUnlistedHosts(t *testing.T) {
	r := newTestReader(t, nil)

	_, err := r.Read(context.Background(), "https://example.com/catalog-info.yaml")
	assert.ErrorIs(t, err, ErrNotAllowed)

	_, err = r.Read(context.Background(), "ftp://example.com/x")
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog-info.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kind: API"), 0o600))

	r := newTestReader(t, nil)

	data, err := r.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "kind: API", string(data))

	data, err = r.Read(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "kind: API", string(data))

	_, err = r.Read(context.Background(), filepath.Join(dir, "nope.yaml"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllowFromConfig(t *testing.T) {
	cfg := config.NewAppConfig(map[string]interface{}{
		"backend": map[string]interface{}{
			"reading": map[string]interface{}{
				"allow": []interface{}{map[string]interface{}{"host": "*.example.com"}},
			},
		},
		"integrations": map[string]interface{}{
			"github": []interface{}{map[string]interface{}{"host": "github.com", "token": "ghp_x"}},
		},
	})
	r := New(httpclient.New(httpclient.DefaultOptions("test")), cfg, Options{})

	assert.True(t, r.allowed("docs.example.com"))
	assert.False(t, r.allowed("example.org"))
	assert.True(t, r.allowed("raw.githubusercontent.com"))
	assert.Equal(t, "ghp_x", r.tokenFor("api.github.com"))
	assert.Equal(t, "ghp_x", r.tokenFor("raw.githubusercontent.com"))
}

func TestRawGitHubURL(t *testing.T) {
	u, _ := url.Parse("https://github.com/acme/service/blob/main/docs/catalog-info.yaml")
	assert.Equal(t, "https://raw.githubusercontent.com/acme/service/main/docs/catalog-info.yaml", rawGitHubURL(u).String())

	u, _ = url.Parse("https://github.com/acme/service")
	assert.Equal(t, "https://github.com/acme/service", rawGitHubURL(u).String())
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "https://example.com/a/b.yaml", Resolve("https://example.com/a/catalog.yaml", "./b.yaml"))
	assert.Equal(t, "https://other.com/x", Resolve("https://example.com/a", "https://other.com/x"))
	assert.Equal(t, filepath.Join("/repo", "docs", "b.yaml"), Resolve("/repo/catalog.yaml", "docs/b.yaml"))
	assert.Equal(t, "/abs.yaml", Resolve("file:///repo/catalog.yaml", "/abs.yaml"))
}
