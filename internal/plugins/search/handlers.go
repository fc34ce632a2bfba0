package search

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// Handlers serves the query route
type Handlers struct {
	engine Engine
}

// NewHandlers creates the handler set
func NewHandlers(engine Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/query", h.Query)
}

// Query runs GET /query?term=&types=&filters[key]=&pageLimit=&pageCursor=
func (h *Handlers) Query(c *gin.Context) {
	q := Query{
		Term:       c.Query("term"),
		PageCursor: c.Query("pageCursor"),
		Filters:    c.QueryMap("filters"),
	}
	for _, t := range c.QueryArray("types") {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				q.Types = append(q.Types, part)
			}
		}
	}
	if raw := c.Query("pageLimit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			core.ErrorJSON(c, http.StatusBadRequest, errors.New("pageLimit must be a non-negative integer"))
			return
		}
		q.PageLimit = n
	}

	set, err := h.engine.Query(c.Request.Context(), q)
	if errors.Is(err, ErrInvalidCursor) {
		core.ErrorJSON(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		core.ErrorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, set)
}
