package techdocs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/cache"
)

const indexHTML = `<!DOCTYPE html>
<html><head><title>Payments</title><link rel="stylesheet" href="style.css"></head>
<body><article class="md-content"><h1 id="payments">Payments</h1>
<p onclick="steal()">Settles card payments.</p>
<script>alert(1)</script></article></body></html>`

type fakeEntities map[string]*catalog.Entity

func (f fakeEntities) EntityByRef(_ context.Context, ref catalog.EntityRef) (*catalog.Entity, error) {
	if e, ok := f[ref.String()]; ok {
		return e, nil
	}
	return nil, catalog.ErrNotFound
}

func writeSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "default", "component", "payments")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "guide"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexHTML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide", "index.html"), []byte("<h2>Guide</h2>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body { color: red }"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile),
		[]byte(`{"site_name":"Payments","etag":"abc123","files":["index.html"]}`), 0o644))
	return root
}

func setupTechDocs(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := writeSite(t)
	entities := fakeEntities{
		"component:default/payments": {APIVersion: "backstage.io/v1alpha1", Kind: "Component",
			Metadata: catalog.Metadata{Name: "payments", Namespace: "default"}},
	}
	pages := cache.NewClient(cache.NewMemoryStore(), PluginID, time.Minute, nil)
	r := gin.New()
	NewHandlers(NewSite(root), entities, pages, time.Minute, nil).Register(r.Group("/api/techdocs"))
	return r, root
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestStaticServesSanitizedPages(t *testing.T) {
	r, _ := setupTechDocs(t)

	w := get(r, "/api/techdocs/static/docs/default/component/payments/")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "miss", w.Header().Get(CacheHeader))
	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "<!DOCTYPE html>\n"), body)
	assert.Equal(t, 1, strings.Count(strings.ToLower(body), "<!doctype"))
	assert.Contains(t, body, "Settles card payments.")
	assert.Contains(t, body, `id="payments"`)
	assert.NotContains(t, body, "<script")
	assert.NotContains(t, body, "onclick")

	w = get(r, "/api/techdocs/static/docs/default/component/payments/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hit", w.Header().Get(CacheHeader))
	assert.Equal(t, body, w.Body.String())

	w = get(r, "/api/techdocs/static/docs/default/component/payments/guide")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Guide")
	assert.NotContains(t, w.Body.String(), "DOCTYPE")
}

func TestSanitizePageKeepsDocType(t *testing.T) {
	p := NewSanitizer()
	tests := []struct {
		name    string
		page    string
		doctype bool
	}{
		{"upper case", "<!DOCTYPE html><html><body><p>hi</p></body></html>", true},
		{"lower case with bom", "\xef\xbb\xbf\n<!doctype html><p>hi</p>", true},
		{"fragment", "<p>hi</p>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := string(SanitizePage(p, []byte(tt.page)))
			assert.Equal(t, tt.doctype, strings.HasPrefix(out, "<!DOCTYPE html>\n"), out)
			assert.Contains(t, out, "<p>hi</p>")
		})
	}
}

func TestStaticServesAssets(t *testing.T) {
	r, _ := setupTechDocs(t)

	w := get(r, "/api/techdocs/static/docs/default/component/payments/style.css")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, "body { color: red }", w.Body.String())
	assert.Empty(t, w.Header().Get(CacheHeader))
}

func TestStaticErrors(t *testing.T) {
	r, _ := setupTechDocs(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing site", "/api/techdocs/static/docs/default/component/unknown/", http.StatusNotFound},
		{"missing page", "/api/techdocs/static/docs/default/component/payments/nope.html", http.StatusNotFound},
		{"traversal", "/api/techdocs/static/docs/default/component/payments/..%2F..%2Fsecret", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, get(r, tt.path).Code)
		})
	}
}

func TestMetadataRoutes(t *testing.T) {
	r, _ := setupTechDocs(t)

	w := get(r, "/api/techdocs/metadata/techdocs/default/component/payments")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"site_name":"Payments"`)

	w = get(r, "/api/techdocs/metadata/entity/default/component/payments")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"payments"`)

	w = get(r, "/api/techdocs/metadata/entity/default/component/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(r, "/api/techdocs/metadata/techdocs/default/component/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveRejectsEscapes(t *testing.T) {
	site := NewSite(t.TempDir())
	_, err := site.Resolve(Triplet{Namespace: "..", Kind: "component", Name: "x"}, "/")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = site.Resolve(Triplet{Namespace: "default", Kind: "component", Name: "x"}, "/../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestContentType(t *testing.T) {
	assert.Contains(t, ContentType("a.css", []byte("body{}")), "text/css")
	assert.Contains(t, ContentType("page.html", []byte("<p>x</p>")), "text/html")
	assert.Equal(t, "image/png", ContentType("blob", []byte("\x89PNG\r\n\x1a\n0000")))
}
