package httpauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userinfoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/userinfo" || r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"claims":{"sub":"user:default/jane","ent":["user:default/jane","group:default/team-a"]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthClientResolve(t *testing.T) {
	client := NewAuthClient(userinfoServer(t).URL+"/", nil)

	ident, err := client.Resolve(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "user:default/jane", ident.UserEntityRef)
	assert.Equal(t, []string{"user:default/jane", "group:default/team-a"}, ident.OwnershipRefs)

	_, err = client.Resolve(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		token, ok := BearerToken(r)
		assert.Equal(t, tt.ok, ok, tt.header)
		if tt.ok {
			assert.Equal(t, tt.token, token)
		}
	}
}

func TestRequire(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", Require(NewAuthClient(userinfoServer(t).URL, nil)), func(c *gin.Context) {
		ident, ok := FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, ident.UserEntityRef)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer good", http.StatusOK},
		{"rejected token", "Bearer bad", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "user:default/jane", w.Body.String())
			}
		})
	}
}

func TestCredentialsAllowsAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	ident, err := Credentials(c, NewAuthClient(userinfoServer(t).URL, nil))
	require.NoError(t, err)
	assert.Nil(t, ident)
}
