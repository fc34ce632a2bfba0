package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *Catalog) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cat, _ := newTestCatalog(map[string]string{"/repo/catalog-info.yaml": serviceYAML})
	r := gin.New()
	NewHandlers(cat).Register(r.Group("/api/catalog"))
	return r, cat
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLocationAndEntityRoutes(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/api/catalog/locations", `{"type":"file","target":"/repo/catalog-info.yaml"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var added struct {
		Location Location  `json:"location"`
		Entities []*Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))
	assert.Len(t, added.Entities, 2)

	w = do(r, http.MethodGet, "/api/catalog/locations", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/repo/catalog-info.yaml")

	w = do(r, http.MethodGet, "/api/catalog/entities?filter=kind=group", "")
	require.Equal(t, http.StatusOK, w.Code)
	var groups []Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "team-a", groups[0].Metadata.Name)

	w = do(r, http.MethodGet, "/api/catalog/entities?limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var paged []Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paged))
	require.Len(t, paged, 1)
	assert.Equal(t, "team-a", paged[0].Metadata.Name)

	w = do(r, http.MethodGet, "/api/catalog/entities/by-name/component/default/payments", "")
	require.Equal(t, http.StatusOK, w.Code)
	var svc Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &svc))

	w = do(r, http.MethodGet, "/api/catalog/entities/by-uid/"+svc.Metadata.UID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/catalog/refresh", `{"entityRef":"component:default/payments"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/api/catalog/entities/by-uid/"+svc.Metadata.UID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/api/catalog/entities/by-name/component/default/payments", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/catalog/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/catalog/entities/by-name/component/default/payments", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/api/catalog/locations/"+added.Location.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouteErrors(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing entity", http.MethodGet, "/api/catalog/entities/by-uid/nope", "", http.StatusNotFound},
		{"bad filter", http.MethodGet, "/api/catalog/entities?filter==x", "", http.StatusBadRequest},
		{"missing target", http.MethodPost, "/api/catalog/locations", `{"type":"url"}`, http.StatusBadRequest},
		{"bad type", http.MethodPost, "/api/catalog/locations", `{"type":"ftp","target":"x"}`, http.StatusBadRequest},
		{"missing location", http.MethodDelete, "/api/catalog/locations/loc_x", "", http.StatusNotFound},
		{"bad refresh ref", http.MethodPost, "/api/catalog/refresh", `{"entityRef":"nokind"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}
