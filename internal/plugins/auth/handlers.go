package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

const refreshCookieMaxAge = 1000 * 24 * 60 * 60

// Handlers serves the auth routes
type Handlers struct {
	providers *registry
	issuer    *TokenIssuer
	logger    *logging.Logger
	// appOrigin receives the postMessage from the frame handler
	appOrigin string
	// basePath is where the plugin is mounted, used for cookie paths
	basePath string
	secure   bool
}

// NewHandlers creates the handler set
func NewHandlers(providers *registry, issuer *TokenIssuer, logger *logging.Logger, appOrigin, basePath string) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		providers: providers,
		issuer:    issuer,
		logger:    logger,
		appOrigin: appOrigin,
		basePath:  strings.TrimRight(basePath, "/"),
		secure:    strings.HasPrefix(appOrigin, "https://"),
	}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/providers", h.ListProviders)
	r.GET("/v1/userinfo", h.UserInfo)
	r.GET("/:provider/start", h.Start)
	r.GET("/:provider/handler/frame", h.Frame)
	r.POST("/:provider/handler/frame", h.Frame)
	r.GET("/:provider/refresh", h.Refresh)
	r.POST("/:provider/refresh", h.Refresh)
	r.POST("/:provider/logout", h.Logout)
}

func (h *Handlers) provider(c *gin.Context) (string, Provider, bool) {
	id := c.Param("provider")
	p, ok := h.providers.get(id)
	if !ok {
		core.ErrorJSON(c, http.StatusNotFound, fmt.Errorf("%w: %s", ErrUnknown, id))
		return id, nil, false
	}
	return id, p, true
}

func (h *Handlers) cookiePath(id string) string {
	return h.basePath + "/" + id
}

// ListProviders lists the configured provider ids
func (h *Handlers) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.providers.ids()})
}

// Start redirects to the provider's authorization page
func (h *Handlers) Start(c *gin.Context) {
	id, p, ok := h.provider(c)
	if !ok {
		return
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		core.ErrorJSON(c, http.StatusInternalServerError, err)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(nonce)

	redirect, err := p.Start(c, state)
	if errors.Is(err, ErrNotSupported) {
		core.ErrorJSON(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		core.ErrorJSON(c, http.StatusInternalServerError, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(id+"-nonce", state, 600, h.cookiePath(id)+"/handler", "", h.secure, true)
	c.Redirect(http.StatusFound, redirect)
}

// Frame completes the redirect flow and posts the result to the app window
func (h *Handlers) Frame(c *gin.Context) {
	id, p, ok := h.provider(c)
	if !ok {
		return
	}

	nonce, err := c.Cookie(id + "-nonce")
	if err != nil || nonce == "" || nonce != c.Query("state") {
		h.postMessage(c, nil, ErrInvalidState)
		return
	}

	result, err := p.Handle(c)
	if err != nil {
		h.logger.Warn("Sign-in failed", zap.String("provider", id), zap.Error(err))
		h.postMessage(c, nil, err)
		return
	}

	body, err := h.response(result)
	if err != nil {
		h.postMessage(c, nil, err)
		return
	}
	if result.RefreshToken != "" {
		h.setRefreshCookie(c, id, result.RefreshToken)
	}
	h.postMessage(c, body, nil)
}

// Refresh renews the session from the refresh cookie
func (h *Handlers) Refresh(c *gin.Context) {
	id, p, ok := h.provider(c)
	if !ok {
		return
	}

	refreshToken, _ := c.Cookie(id + "-refresh-token")
	result, err := p.Refresh(c.Request.Context(), refreshToken, c.Query("scope"))
	if err != nil {
		core.ErrorJSON(c, http.StatusUnauthorized, err)
		return
	}

	body, err := h.response(result)
	if err != nil {
		core.ErrorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if result.RefreshToken != "" && result.RefreshToken != refreshToken {
		h.setRefreshCookie(c, id, result.RefreshToken)
	}
	c.JSON(http.StatusOK, body)
}

// Logout clears the refresh cookie
func (h *Handlers) Logout(c *gin.Context) {
	id, _, ok := h.provider(c)
	if !ok {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(id+"-refresh-token", "", -1, h.cookiePath(id), "", h.secure, true)
	c.Status(http.StatusOK)
}

// UserInfo returns the claims of the bearer identity token
func (h *Handlers) UserInfo(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		core.ErrorJSON(c, http.StatusUnauthorized, ErrInvalidToken)
		return
	}
	claims, err := h.issuer.Verify(token)
	if err != nil {
		core.ErrorJSON(c, http.StatusUnauthorized, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"claims": gin.H{
			"sub": claims.Subject,
			"ent": claims.Ent,
		},
	})
}

func (h *Handlers) setRefreshCookie(c *gin.Context, id, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(id+"-refresh-token", token, refreshCookieMaxAge, h.cookiePath(id), "", h.secure, true)
}

// response builds the session body returned to the frontend
func (h *Handlers) response(result *Result) (gin.H, error) {
	if result.UserEntityRef == "" {
		return nil, ErrSignInFailure
	}
	token, err := h.issuer.Issue(result.UserEntityRef, result.OwnershipRefs)
	if err != nil {
		return nil, err
	}
	info := result.ProviderInfo
	if info == nil {
		info = map[string]interface{}{}
	}
	return gin.H{
		"profile":      result.Profile,
		"providerInfo": info,
		"backstageIdentity": gin.H{
			"token":            token,
			"expiresInSeconds": int(h.issuer.TTL() / time.Second),
			"identity": gin.H{
				"type":                "user",
				"userEntityRef":       result.UserEntityRef,
				"ownershipEntityRefs": result.OwnershipRefs,
			},
		},
	}, nil
}

// postMessage renders the popup page that hands the result to the opener
func (h *Handlers) postMessage(c *gin.Context, body gin.H, failure error) {
	msg := gin.H{"type": "authorization_response"}
	if failure != nil {
		msg["error"] = gin.H{"name": "Error", "message": failure.Error()}
	} else {
		msg["response"] = body
	}
	payload, err := sonic.ConfigStd.MarshalToString(msg)
	if err != nil {
		core.ErrorJSON(c, http.StatusInternalServerError, err)
		return
	}
	origin, err := sonic.ConfigStd.MarshalToString(h.appOrigin)
	if err != nil {
		core.ErrorJSON(c, http.StatusInternalServerError, err)
		return
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Authentication</title></head><body><script>
(window.opener || window.parent).postMessage(%s, %s);
window.close();
</script></body></html>`, payload, origin)

	c.Header("Content-Security-Policy", "script-src 'unsafe-inline'")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

// appOriginFrom trims app.baseUrl to its origin
func appOriginFrom(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return baseURL
	}
	return u.Scheme + "://" + u.Host
}
