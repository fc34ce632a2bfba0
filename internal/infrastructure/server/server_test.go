package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/api/middleware"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
)

func testOptions() Options {
	return Options{
		Host:            "127.0.0.1",
		Port:            "0",
		ShutdownTimeout: time.Second,
		Development:     true,
		CORS:            middleware.DefaultCORSConfig(),
	}
}

func TestGroupRoutesAndMetrics(t *testing.T) {
	s := New(testOptions(), logging.NewNop(), monitoring.NewMetrics(), nil)
	s.Group("/api/catalog/").GET("/entities", func(c *gin.Context) {
		c.JSON(http.StatusOK, []string{})
	})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/catalog/entities", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/api/catalog/entities"`)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
}

func TestListenAndShutdown(t *testing.T) {
	s := New(testOptions(), logging.NewNop(), nil, nil)
	s.Router().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.NoError(t, s.Listen())
	assert.ErrorIs(t, s.Listen(), ErrAlreadyListening)

	resp, err := http.Get("http://" + s.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestServedReportsListenerFailure(t *testing.T) {
	s := New(testOptions(), logging.NewNop(), nil, nil)
	require.NoError(t, s.Listen())

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	require.NoError(t, ln.Close())

	select {
	case err := <-s.Served():
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve error was not reported")
	}
	assert.Error(t, s.Shutdown(context.Background()))
}

func TestServedIsQuietAfterShutdown(t *testing.T) {
	s := New(testOptions(), logging.NewNop(), nil, nil)
	require.NoError(t, s.Listen())
	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-s.Served():
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestOptionsFromAppConfigOverride(t *testing.T) {
	cfg := config.Default()
	app := config.NewAppConfig(map[string]interface{}{
		"backend": map[string]interface{}{
			"listen": map[string]interface{}{"port": int64(7100)},
		},
	})

	opts := OptionsFrom(cfg, app)
	assert.Equal(t, "7100", opts.Port)
	assert.Equal(t, cfg.Server.Host, opts.Host)
}
