// Package app serves the frontend bundle from the backend.
package app

import (
	"bytes"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
)

const (
	immutableCache = "public, max-age=31536000, immutable"
	noStore        = "no-store, max-age=0"
)

// Handler serves files of a built single page app. Unknown paths get
// index.html so client side routes work on reload; /api paths never do.
type Handler struct {
	dir string
}

// NewHandler serves dir, compressing responses with gzip
func NewHandler(dir string) http.Handler {
	return gzhttp.GzipHandler(&Handler{dir: dir})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	if clean == "/api" || strings.HasPrefix(clean, "/api/") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
		return
	}

	if clean != "/" && clean != "/index.html" {
		file := filepath.Join(h.dir, filepath.FromSlash(clean))
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			if strings.HasPrefix(clean, "/static/") {
				w.Header().Set("Cache-Control", immutableCache)
			}
			http.ServeFile(w, r, file)
			return
		}
	}
	h.serveIndex(w, r)
}

func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	file := filepath.Join(h.dir, "index.html")
	info, err := os.Stat(file)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	body, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", noStore)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", info.ModTime(), bytes.NewReader(body))
}

// Mount installs the handler as the fallback of the root router
func Mount(router *gin.Engine, h http.Handler) {
	router.NoRoute(gin.WrapH(h))
}
