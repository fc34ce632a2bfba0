// Package microsoft adds the Microsoft Entra ID sign-in provider to the
// auth plugin.
package microsoft

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/auth"
)

// ProviderID is the route segment of the provider
const ProviderID = "microsoft"

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	defaultScope    = "openid offline_access profile email User.Read"
)

// Config is auth.providers.microsoft.<environment>
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	CallbackURL  string
	// Authority overrides the login host, mostly for sovereign clouds
	Authority string
	GraphURL  string
	Scopes    []string
}

// ReadConfig reads the provider config; ok is false when the provider is
// not configured for the environment.
func ReadConfig(cfg *config.AppConfig, callbackURL string) (Config, bool, error) {
	if len(cfg.Keys()) == 0 {
		return Config{}, false, nil
	}
	c := Config{
		TenantID:    cfg.OptionalString("tenantId", "common"),
		CallbackURL: cfg.OptionalString("callbackUrl", callbackURL),
		Authority:   cfg.OptionalString("authority", ""),
		GraphURL:    cfg.OptionalString("graphUrl", defaultGraphURL),
		Scopes:      cfg.Strings("additionalScopes"),
	}
	var err error
	if c.ClientID, err = cfg.String("clientId"); err != nil {
		return Config{}, false, err
	}
	if c.ClientSecret, err = cfg.String("clientSecret"); err != nil {
		return Config{}, false, err
	}
	return c, true, nil
}

// Me is the Graph profile of the signed-in user
type Me struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Email prefers mail over the principal name
func (m Me) Email() string {
	if m.Mail != "" {
		return m.Mail
	}
	return m.UserPrincipalName
}

// Provider runs the authorization code flow
type Provider struct {
	oauth *oauth2.Config
	graph *httpclient.Client
}

// NewProvider creates the provider
func NewProvider(cfg Config, metrics *monitoring.Metrics) *Provider {
	endpoint := microsoft.AzureADEndpoint(cfg.TenantID)
	if cfg.Authority != "" {
		base := strings.TrimRight(cfg.Authority, "/") + "/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0"
		endpoint = oauth2.Endpoint{AuthURL: base + "/authorize", TokenURL: base + "/token"}
	}
	scopes := strings.Fields(defaultScope)
	scopes = append(scopes, cfg.Scopes...)

	opts := httpclient.DefaultOptions("msgraph-auth")
	opts.BaseURL = strings.TrimRight(cfg.GraphURL, "/")
	opts.Metrics = metrics

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       scopes,
		},
		graph: httpclient.New(opts),
	}
}

func (p *Provider) Start(_ *gin.Context, state string) (string, error) {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (p *Provider) Handle(c *gin.Context) (*auth.Result, error) {
	if e := c.Query("error"); e != "" {
		return nil, fmt.Errorf("authorization denied: %s: %s", e, c.Query("error_description"))
	}
	code := c.Query("code")
	if code == "" {
		code = c.PostForm("code")
	}
	if code == "" {
		return nil, errors.New("missing authorization code")
	}

	ctx := p.oauthContext(c.Request.Context())
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return p.result(ctx, token)
}

func (p *Provider) Refresh(ctx context.Context, refreshToken, _ string) (*auth.Result, error) {
	if refreshToken == "" {
		return nil, auth.ErrNoRefresh
	}
	ctx = p.oauthContext(ctx)
	token, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return p.result(ctx, token)
}

// oauthContext routes token requests through the pooled client
func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.graph.Resty.GetClient())
}

func (p *Provider) result(ctx context.Context, token *oauth2.Token) (*auth.Result, error) {
	var me Me
	_, err := p.graph.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetAuthToken(token.AccessToken).SetResult(&me).Get("/me")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	userRef, err := SignInRef(me.Email())
	if err != nil {
		return nil, err
	}

	info := map[string]interface{}{
		"accessToken":      token.AccessToken,
		"expiresInSeconds": int(token.ExpiresIn),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		info["scope"] = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		info["idToken"] = idToken
	}

	return &auth.Result{
		Profile: auth.Profile{
			Email:       me.Email(),
			DisplayName: me.DisplayName,
		},
		ProviderInfo:  info,
		RefreshToken:  token.RefreshToken,
		UserEntityRef: userRef,
		OwnershipRefs: []string{userRef},
	}, nil
}

// SignInRef maps an email to user:default/<local part>
func SignInRef(email string) (string, error) {
	local, _, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "", fmt.Errorf("%w: profile has no usable email", auth.ErrSignInFailure)
	}
	return "user:default/" + strings.ToLower(local), nil
}
