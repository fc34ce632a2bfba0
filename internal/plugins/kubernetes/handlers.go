package kubernetes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// Handlers serves the cluster routes
type Handlers struct {
	prober *Prober
}

// NewHandlers creates the handler set
func NewHandlers(p *Prober) *Handlers {
	return &Handlers{prober: p}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/clusters", h.ListClusters)
	r.GET("/clusters/:name/health", h.ClusterHealth)
}

// ListClusters lists the configured clusters without credentials
func (h *Handlers) ListClusters(c *gin.Context) {
	items := h.prober.Clusters()
	if items == nil {
		items = []Cluster{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ClusterHealth probes the cluster's API server. Unhealthy clusters answer
// 503 with the probe details.
func (h *Handlers) ClusterHealth(c *gin.Context) {
	health, err := h.prober.Probe(c.Request.Context(), c.Param("name"))
	if errors.Is(err, ErrUnknownCluster) {
		core.ErrorJSON(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		core.ErrorJSON(c, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
