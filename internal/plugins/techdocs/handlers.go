package techdocs

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/cache"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// CacheHeader reports whether a page came from the cache
const CacheHeader = "X-TechDocs-Cache"

// EntityReader looks up catalog entities
type EntityReader interface {
	EntityByRef(ctx context.Context, ref catalog.EntityRef) (*catalog.Entity, error)
}

// Handlers serves documentation sites and their metadata
type Handlers struct {
	site      *Site
	entities  EntityReader
	cache     *cache.Client
	cacheTTL  time.Duration
	sanitizer *bluemonday.Policy
	logger    *logging.Logger
}

// NewHandlers creates the handler set; a nil cache disables page caching
func NewHandlers(site *Site, entities EntityReader, pages *cache.Client, ttl time.Duration, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		site:      site,
		entities:  entities,
		cache:     pages,
		cacheTTL:  ttl,
		sanitizer: NewSanitizer(),
		logger:    logger,
	}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/static/docs/:namespace/:kind/:name/*path", h.Static)
	r.GET("/metadata/techdocs/:namespace/:kind/:name", h.SiteMetadata)
	r.GET("/metadata/entity/:namespace/:kind/:name", h.EntityMetadata)
}

func triplet(c *gin.Context) Triplet {
	return Triplet{Namespace: c.Param("namespace"), Kind: c.Param("kind"), Name: c.Param("name")}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidPath):
		status = http.StatusBadRequest
	}
	core.ErrorJSON(c, status, err)
}

// Static serves one file of a site. HTML pages are sanitized and cached.
func (h *Handlers) Static(c *gin.Context) {
	t := triplet(c)
	file, err := h.site.Resolve(t, c.Param("path"))
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	key := h.cacheKey(t, file)
	if h.cache != nil {
		if page, ok, err := h.cache.Get(ctx, key); err == nil && ok {
			c.Header(CacheHeader, "hit")
			c.Data(http.StatusOK, "text/html; charset=utf-8", page)
			return
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		h.fail(c, err)
		return
	}
	contentType := ContentType(file, data)
	if !IsHTML(contentType) {
		c.Data(http.StatusOK, contentType, data)
		return
	}

	page := SanitizePage(h.sanitizer, data)
	if h.cache != nil {
		c.Header(CacheHeader, "miss")
		if err := h.cache.Set(ctx, key, page, h.cacheTTL); err != nil {
			h.logger.Warn("Failed to cache documentation page", zap.String("site", t.String()), zap.Error(err))
		}
	}
	c.Data(http.StatusOK, contentType, page)
}

// cacheKey includes the site etag so a republished site misses
func (h *Handlers) cacheKey(t Triplet, file string) string {
	etag := ""
	if m, err := h.site.Metadata(t); err == nil {
		etag = m.Etag
	}
	return t.String() + "@" + etag + ":" + file
}

// SiteMetadata returns techdocs_metadata.json of a site
func (h *Handlers) SiteMetadata(c *gin.Context) {
	m, err := h.site.Metadata(triplet(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// EntityMetadata returns the catalog entity the site documents
func (h *Handlers) EntityMetadata(c *gin.Context) {
	t := triplet(c)
	e, err := h.entities.EntityByRef(c.Request.Context(), catalog.EntityRef{
		Kind:      t.Kind,
		Namespace: t.Namespace,
		Name:      t.Name,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}
