package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

// Handlers serves the catalog REST API
type Handlers struct {
	catalog *Catalog
}

// NewHandlers creates the handler set
func NewHandlers(c *Catalog) *Handlers {
	return &Handlers{catalog: c}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/entities", h.ListEntities)
	r.GET("/entities/by-name/:kind/:namespace/:name", h.GetEntityByName)
	r.GET("/entities/by-uid/:uid", h.GetEntityByUID)
	r.DELETE("/entities/by-uid/:uid", h.DeleteEntity)
	r.GET("/locations", h.ListLocations)
	r.POST("/locations", h.AddLocation)
	r.DELETE("/locations/:id", h.DeleteLocation)
	r.POST("/refresh", h.Refresh)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLocationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrLocationExists):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidEntity), errors.Is(err, ErrInvalidRef), errors.Is(err, ErrUnknownKind):
		status = http.StatusBadRequest
	case errors.Is(err, urlreader.ErrNotFound), errors.Is(err, urlreader.ErrNotAllowed):
		status = http.StatusBadRequest
	}
	core.ErrorJSON(c, status, err)
}

// ListEntities lists entities, optionally filtered and paged.
// Repeated filter parameters are alternatives.
func (h *Handlers) ListEntities(c *gin.Context) {
	var filters []Filter
	for _, raw := range c.QueryArray("filter") {
		f, err := ParseFilter(raw)
		if err != nil {
			core.ErrorJSON(c, http.StatusBadRequest, err)
			return
		}
		filters = append(filters, f)
	}

	entities, err := h.catalog.Entities(c.Request.Context(), filters)
	if err != nil {
		h.fail(c, err)
		return
	}

	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	if offset > len(entities) {
		offset = len(entities)
	}
	entities = entities[offset:]
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit >= 0 && limit < len(entities) {
		entities = entities[:limit]
	}

	c.JSON(http.StatusOK, entities)
}

// GetEntityByName returns one entity by kind, namespace and name
func (h *Handlers) GetEntityByName(c *gin.Context) {
	ref, err := ParseEntityRef(c.Param("kind")+":"+c.Param("namespace")+"/"+c.Param("name"), "", "")
	if err != nil {
		h.fail(c, err)
		return
	}
	e, err := h.catalog.EntityByRef(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetEntityByUID returns one entity by uid
func (h *Handlers) GetEntityByUID(c *gin.Context) {
	e, err := h.catalog.EntityByUID(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// DeleteEntity removes an entity by uid
func (h *Handlers) DeleteEntity(c *gin.Context) {
	if err := h.catalog.DeleteEntity(c.Request.Context(), c.Param("uid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListLocations lists registered locations
func (h *Handlers) ListLocations(c *gin.Context) {
	locs, err := h.catalog.Locations(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(locs))
	for _, loc := range locs {
		out = append(out, gin.H{"data": loc})
	}
	c.JSON(http.StatusOK, out)
}

type addLocationRequest struct {
	Type   string `json:"type"`
	Target string `json:"target" binding:"required"`
}

// AddLocation registers and ingests a location
func (h *Handlers) AddLocation(c *gin.Context) {
	var req addLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		core.ErrorJSON(c, http.StatusBadRequest, err)
		return
	}
	if req.Type == "" {
		req.Type = "url"
	}
	dryRun, _ := strconv.ParseBool(c.DefaultQuery("dryRun", "false"))

	loc, entities, err := h.catalog.AddLocation(c.Request.Context(), req.Type, req.Target, dryRun)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entities == nil {
		entities = []*Entity{}
	}
	status := http.StatusCreated
	if dryRun {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"location": loc, "entities": entities})
}

// DeleteLocation removes a location and its entities
func (h *Handlers) DeleteLocation(c *gin.Context) {
	if err := h.catalog.DeleteLocation(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type refreshRequest struct {
	EntityRef string `json:"entityRef"`
}

// Refresh re-reads one entity's origin location, or all locations
func (h *Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			core.ErrorJSON(c, http.StatusBadRequest, err)
			return
		}
	}

	var err error
	if req.EntityRef == "" {
		err = h.catalog.Refresh(c.Request.Context())
	} else {
		var ref EntityRef
		if ref, err = ParseEntityRef(req.EntityRef, "", ""); err == nil {
			err = h.catalog.RefreshEntity(c.Request.Context(), ref)
		}
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}
