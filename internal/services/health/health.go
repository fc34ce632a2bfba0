// Package health serves the readiness and liveness endpoints of the backend.
package health

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// Ref is the root health service
var Ref = backend.NewServiceRef[*Service]("core.rootHealth", backend.ScopeRoot)

// Service tracks whether the backend is ready to serve traffic
type Service struct {
	ready atomic.Bool
}

// SetReady flips the readiness state
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Ready reports the readiness state
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Register mounts the health routes on r
func (s *Service) Register(r gin.IRoutes) {
	r.GET("/.backstage/health/v1/liveness", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/.backstage/health/v1/readiness", func(c *gin.Context) {
		if !s.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": "Backend has not started yet",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Factory mounts the endpoints and marks the backend ready once started
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (*Service, error) {
		router, err := backend.Get(ctx, deps, core.RootHTTPRouterRef)
		if err != nil {
			return nil, err
		}
		lifecycle, err := backend.Get(ctx, deps, backend.RootLifecycleRef)
		if err != nil {
			return nil, err
		}

		s := &Service{}
		s.Register(router.Router())
		lifecycle.AddStartupHook("health.ready", func(context.Context) error {
			s.SetReady(true)
			return nil
		})
		lifecycle.AddShutdownHook("health.draining", func(context.Context) error {
			s.SetReady(false)
			return nil
		})
		return s, nil
	})
}
