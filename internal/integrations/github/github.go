// Package github reads the integrations.github config and builds REST
// clients for the configured hosts.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
)

// DefaultHost is the public GitHub host
const DefaultHost = "github.com"

// Integration is one configured GitHub host
type Integration struct {
	Host       string
	APIBaseURL string
	Token      string
}

// ReadIntegrations reads integrations.github. github.com is always present.
func ReadIntegrations(cfg *config.AppConfig) []Integration {
	var out []Integration
	seenDefault := false
	for _, sub := range cfg.SubList("integrations.github") {
		host := sub.OptionalString("host", DefaultHost)
		in := Integration{
			Host:       host,
			APIBaseURL: strings.TrimRight(sub.OptionalString("apiBaseUrl", defaultAPIBaseURL(host)), "/"),
			Token:      sub.OptionalString("token", ""),
		}
		seenDefault = seenDefault || host == DefaultHost
		out = append(out, in)
	}
	if !seenDefault {
		out = append(out, Integration{Host: DefaultHost, APIBaseURL: defaultAPIBaseURL(DefaultHost)})
	}
	return out
}

// Find returns the integration for host
func Find(integrations []Integration, host string) (Integration, bool) {
	for _, in := range integrations {
		if strings.EqualFold(in.Host, host) {
			return in, true
		}
	}
	return Integration{}, false
}

func defaultAPIBaseURL(host string) string {
	if host == DefaultHost {
		return "https://api.github.com"
	}
	return "https://" + host + "/api/v3"
}

// Repo identifies a repository from a URL such as
// https://github.com/org/repo
type Repo struct {
	Host  string
	Owner string
	Name  string
}

// ParseRepoURL accepts https://host/owner/repo or
// host?owner=o&repo=r as used by scaffolder templates
func ParseRepoURL(raw string) (Repo, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Repo{}, fmt.Errorf("invalid repository url %q: %w", raw, err)
	}
	repo := Repo{Host: u.Host, Owner: u.Query().Get("owner"), Name: u.Query().Get("repo")}
	if repo.Owner == "" || repo.Name == "" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			repo.Owner, repo.Name = parts[0], strings.TrimSuffix(parts[1], ".git")
		}
	}
	if repo.Host == "" || repo.Owner == "" || repo.Name == "" {
		return Repo{}, fmt.Errorf("repository url %q must name host, owner and repo", raw)
	}
	return repo, nil
}

// Client is a REST client for one GitHub host
type Client struct {
	http        *httpclient.Client
	integration Integration
}

// NewClient creates a client for integration
func NewClient(integration Integration, metrics *monitoring.Metrics) *Client {
	opts := httpclient.DefaultOptions("github:" + integration.Host)
	opts.BaseURL = integration.APIBaseURL
	opts.Metrics = metrics
	// Secondary rate limits trip quickly on bursts
	opts.RPS = 10
	return &Client{http: httpclient.New(opts), integration: integration}
}

// Integration returns the host settings the client was built with
func (c *Client) Integration() Integration {
	return c.integration
}

// Do sends an authenticated request
func (c *Client) Do(ctx context.Context, fn func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	return c.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		req.SetHeader("Accept", "application/vnd.github+json")
		req.SetHeader("X-GitHub-Api-Version", "2022-11-28")
		if c.integration.Token != "" {
			req.SetAuthToken(c.integration.Token)
		}
		return fn(req)
	})
}

// Repository is the subset of the repository resource the backend reads
type Repository struct {
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	HTMLURL       string   `json:"html_url"`
	DefaultBranch string   `json:"default_branch"`
	Archived      bool     `json:"archived"`
	Topics        []string `json:"topics"`
}

// ListOrgRepos pages through every repository of org
func (c *Client) ListOrgRepos(ctx context.Context, org string) ([]Repository, error) {
	var all []Repository
	for page := 1; ; page++ {
		var batch []Repository
		_, err := c.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
			return req.
				SetQueryParam("per_page", "100").
				SetQueryParam("page", fmt.Sprint(page)).
				SetResult(&batch).
				Get("/orgs/" + url.PathEscape(org) + "/repos")
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories of %s: %w", org, err)
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}
