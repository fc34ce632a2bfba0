// Package httpauth resolves the caller of a plugin route from its bearer
// token by asking the auth plugin who the token belongs to.
package httpauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/discovery"
)

// Ref is the root credentials service
var Ref = backend.NewServiceRef[Resolver]("core.httpAuth", backend.ScopeRoot)

var (
	ErrUnauthenticated = errors.New("invalid or expired identity token")
	ErrMissingToken    = errors.New("missing bearer token")
)

// identityKey holds the resolved *Identity in a gin context
const identityKey = "httpauth.identity"

// Identity is the caller of a route
type Identity struct {
	UserEntityRef string   `json:"userEntityRef"`
	OwnershipRefs []string `json:"ownershipEntityRefs"`
}

// Resolver verifies a bearer token
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// AuthClient resolves identities through the auth plugin's userinfo route
type AuthClient struct {
	http *httpclient.Client
}

// NewAuthClient creates a resolver for the auth plugin at baseURL
func NewAuthClient(baseURL string, metrics *monitoring.Metrics) *AuthClient {
	opts := httpclient.DefaultOptions("auth")
	opts.BaseURL = strings.TrimRight(baseURL, "/")
	opts.MaxRetries = 1
	opts.Metrics = metrics
	return &AuthClient{http: httpclient.New(opts)}
}

// Resolve returns the identity carried by token
func (a *AuthClient) Resolve(ctx context.Context, token string) (*Identity, error) {
	var body struct {
		Claims struct {
			Sub string   `json:"sub"`
			Ent []string `json:"ent"`
		} `json:"claims"`
	}
	_, err := a.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetAuthToken(token).SetResult(&body).Get("/v1/userinfo")
	})
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return &Identity{UserEntityRef: body.Claims.Sub, OwnershipRefs: body.Claims.Ent}, nil
}

// BearerToken returns the token of an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// Credentials resolves the caller of c. A request without a token is an
// anonymous caller: nil identity, nil error.
func Credentials(c *gin.Context, r Resolver) (*Identity, error) {
	token, ok := BearerToken(c.Request)
	if !ok || r == nil {
		return nil, nil
	}
	return r.Resolve(c.Request.Context(), token)
}

// Require rejects requests without valid credentials with 401 and stores
// the identity for FromContext.
func Require(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.Request)
		if !ok {
			core.ErrorJSON(c, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		ident, err := r.Resolve(c.Request.Context(), token)
		if err != nil {
			core.ErrorJSON(c, http.StatusUnauthorized, err)
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// FromContext returns the identity stored by Require
func FromContext(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	ident, ok := v.(*Identity)
	return ident, ok
}

// Factory resolves tokens against the auth plugin found through discovery
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (Resolver, error) {
		disc, err := backend.Get(ctx, deps, discovery.Ref)
		if err != nil {
			return nil, err
		}
		metrics, err := backend.Get(ctx, deps, core.MetricsRef)
		if err != nil {
			return nil, err
		}
		return NewAuthClient(disc.BaseURL("auth"), metrics), nil
	})
}
