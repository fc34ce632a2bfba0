package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirectProvider mimics an OAuth provider without a remote service
type redirectProvider struct {
	refreshed string
}

func (p *redirectProvider) Start(_ *gin.Context, state string) (string, error) {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (p *redirectProvider) Handle(c *gin.Context) (*Result, error) {
	if c.Query("code") != "good" {
		return nil, ErrSignInFailure
	}
	return &Result{
		Profile:       Profile{Email: "jane@example.com", DisplayName: "Jane"},
		ProviderInfo:  map[string]interface{}{"accessToken": "at"},
		RefreshToken:  "rt-1",
		UserEntityRef: "user:default/jane",
		OwnershipRefs: []string{"user:default/jane"},
	}, nil
}

func (p *redirectProvider) Refresh(_ context.Context, refreshToken, _ string) (*Result, error) {
	if refreshToken == "" {
		return nil, ErrNoRefresh
	}
	p.refreshed = refreshToken
	return &Result{UserEntityRef: "user:default/jane", RefreshToken: "rt-2"}, nil
}

func setupAuth(t *testing.T) (*gin.Engine, *TokenIssuer, *redirectProvider) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := NewTokenIssuer([]byte("s3cret"), "http://localhost:7007/api/auth", time.Hour)
	require.NoError(t, err)

	reg := newRegistry()
	reg.AddProvider("guest", NewGuestProvider("", nil))
	idp := &redirectProvider{}
	reg.AddProvider("idp", idp)

	r := gin.New()
	NewHandlers(reg, issuer, nil, appOriginFrom("http://localhost:3000/catalog"), "/api/auth").
		Register(r.Group("/api/auth"))
	return r, issuer, idp
}

func request(r http.Handler, method, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func cookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type sessionBody struct {
	BackstageIdentity struct {
		Token            string `json:"token"`
		ExpiresInSeconds int    `json:"expiresInSeconds"`
		Identity         struct {
			Type                string   `json:"type"`
			UserEntityRef       string   `json:"userEntityRef"`
			OwnershipEntityRefs []string `json:"ownershipEntityRefs"`
		} `json:"identity"`
	} `json:"backstageIdentity"`
}

func TestGuestRefreshAndUserInfo(t *testing.T) {
	r, issuer, _ := setupAuth(t)

	w := request(r, http.MethodGet, "/api/auth/guest/refresh")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body sessionBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user", body.BackstageIdentity.Identity.Type)
	assert.Equal(t, DefaultGuestRef, body.BackstageIdentity.Identity.UserEntityRef)
	assert.Equal(t, []string{DefaultGuestRef}, body.BackstageIdentity.Identity.OwnershipEntityRefs)
	assert.Equal(t, 3600, body.BackstageIdentity.ExpiresInSeconds)

	claims, err := issuer.Verify(body.BackstageIdentity.Token)
	require.NoError(t, err)
	assert.Equal(t, DefaultGuestRef, claims.Subject)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/v1/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+body.BackstageIdentity.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub":"user:development/guest"`)

	w = request(r, http.MethodGet, "/api/auth/v1/userinfo")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRedirectFlow(t *testing.T) {
	r, _, idp := setupAuth(t)

	w := request(r, http.MethodGet, "/api/auth/idp/start")
	require.Equal(t, http.StatusFound, w.Code)
	nonce := cookie(w, "idp-nonce")
	require.NotNil(t, nonce)
	assert.Equal(t, "/api/auth/idp/handler", nonce.Path)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	assert.Equal(t, nonce.Value, state)

	w = request(r, http.MethodGet, "/api/auth/idp/handler/frame?code=good&state="+url.QueryEscape(state), nonce)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), `"type":"authorization_response"`)
	assert.Contains(t, w.Body.String(), `"http://localhost:3000"`)
	assert.Contains(t, w.Body.String(), `"userEntityRef":"user:default/jane"`)
	assert.NotContains(t, w.Body.String(), "rt-1")

	refresh := cookie(w, "idp-refresh-token")
	require.NotNil(t, refresh)
	assert.Equal(t, "rt-1", refresh.Value)
	assert.True(t, refresh.HttpOnly)

	w = request(r, http.MethodPost, "/api/auth/idp/refresh", refresh)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rt-1", idp.refreshed)
	rotated := cookie(w, "idp-refresh-token")
	require.NotNil(t, rotated)
	assert.Equal(t, "rt-2", rotated.Value)

	w = request(r, http.MethodPost, "/api/auth/idp/logout")
	assert.Equal(t, http.StatusOK, w.Code)
	cleared := cookie(w, "idp-refresh-token")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestFrameRejectsStateMismatch(t *testing.T) {
	r, _, _ := setupAuth(t)

	w := request(r, http.MethodGet, "/api/auth/idp/handler/frame?code=good&state=forged",
		&http.Cookie{Name: "idp-nonce", Value: "expected"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ErrInvalidState.Error())
	assert.Nil(t, cookie(w, "idp-refresh-token"))
}

func TestAuthErrors(t *testing.T) {
	r, _, _ := setupAuth(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown provider refresh", http.MethodGet, "/api/auth/nope/refresh", http.StatusNotFound},
		{"unknown provider start", http.MethodGet, "/api/auth/nope/start", http.StatusNotFound},
		{"guest has no redirect", http.MethodGet, "/api/auth/guest/start", http.StatusBadRequest},
		{"refresh without cookie", http.MethodPost, "/api/auth/idp/refresh", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(r, tt.method, tt.path)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestListProviders(t *testing.T) {
	r, _, _ := setupAuth(t)
	w := request(r, http.MethodGet, "/api/auth/providers")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"providers":["guest","idp"]}`, w.Body.String())
}

func TestAppOriginFrom(t *testing.T) {
	assert.Equal(t, "https://portal.example.com", appOriginFrom("https://portal.example.com/some/path"))
	assert.Equal(t, "not a url", appOriginFrom("not a url"))
	assert.True(t, strings.HasPrefix(appOriginFrom("http://localhost:3000"), "http://"))
}
