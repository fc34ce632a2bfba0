package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
)

// Client calls the catalog REST API from other plugins
type Client struct {
	http *httpclient.Client
}

// NewClient creates a client for the catalog at baseURL
func NewClient(baseURL string, metrics *monitoring.Metrics) *Client {
	opts := httpclient.DefaultOptions("catalog")
	opts.BaseURL = strings.TrimRight(baseURL, "/")
	opts.Metrics = metrics
	return &Client{http: httpclient.New(opts)}
}

// EntityByRef fetches one entity; a missing entity yields ErrNotFound
func (c *Client) EntityByRef(ctx context.Context, ref EntityRef) (*Entity, error) {
	var e Entity
	path := fmt.Sprintf("/entities/by-name/%s/%s/%s",
		url.PathEscape(ref.Kind), url.PathEscape(ref.Namespace), url.PathEscape(ref.Name))
	_, err := c.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(&e).Get(path)
	})
	if httpclient.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AddLocationResult is the response of a location registration
type AddLocationResult struct {
	Location Location  `json:"location"`
	Entities []*Entity `json:"entities"`
}

// AddLocation registers a location, or validates it when dryRun is set
func (c *Client) AddLocation(ctx context.Context, typ, target string, dryRun bool) (*AddLocationResult, error) {
	var out AddLocationResult
	_, err := c.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		if dryRun {
			req.SetQueryParam("dryRun", "true")
		}
		return req.
			SetBody(map[string]string{"type": typ, "target": target}).
			SetResult(&out).
			Post("/locations")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
