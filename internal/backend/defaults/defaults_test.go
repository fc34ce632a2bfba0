package defaults

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/events"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.RateLimit.Enabled = false
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestDefaultServicesServePluginRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var srv *server.Server
	var sched *scheduler.Scheduler
	var broker *events.Broker

	b := New(testConfig(), config.NewAppConfig(nil), nil, nil)
	b.Add(backend.Static(backend.NewPlugin(backend.PluginOptions{
		ID: "demo",
		Register: func(env *backend.PluginEnv) {
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				router, err := backend.Get(ctx, deps, core.HTTPRouterRef)
				if err != nil {
					return err
				}
				router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

				if srv, err = backend.Get(ctx, deps, core.RootHTTPRouterRef); err != nil {
					return err
				}
				if sched, err = backend.Get(ctx, deps, scheduler.Ref); err != nil {
					return err
				}
				broker, err = backend.Get(ctx, deps, events.Ref)
				return err
			})
		},
	})))

	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	require.NotNil(t, sched)
	require.NotNil(t, broker)

	base := "http://" + srv.Addr()

	status, body := get(t, base+"/api/demo/ping")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pong", body)

	status, _ = get(t, base+"/.backstage/health/v1/readiness")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, base+"/.backstage/health/v1/liveness")
	assert.Equal(t, http.StatusOK, status)
}

func TestStopClosesServer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var srv *server.Server
	b := New(testConfig(), nil, nil, nil)
	b.Add(backend.Static(backend.NewPlugin(backend.PluginOptions{
		ID: "demo",
		Register: func(env *backend.PluginEnv) {
			env.RegisterInit(func(ctx context.Context, deps *backend.Deps) error {
				var err error
				srv, err = backend.Get(ctx, deps, core.RootHTTPRouterRef)
				return err
			})
		},
	})))

	require.NoError(t, b.Start(context.Background()))
	addr := srv.Addr()
	require.NoError(t, b.Stop(context.Background()))

	_, err := http.Get("http://" + addr + "/.backstage/health/v1/liveness")
	assert.Error(t, err)
}
