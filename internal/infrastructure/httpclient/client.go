// Package httpclient provides the outbound HTTP client used by integrations:
// resty with retries, a rate limiter, a circuit breaker and trace propagation.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/tracing"
)

// ErrUnavailable is returned while the breaker rejects calls
var ErrUnavailable = errors.New("external service unavailable")

// StatusError reports a non-2xx response
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
}

// Options configures a Client
type Options struct {
	Name       string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	// RPS limits outbound requests; zero means unlimited
	RPS       float64
	UserAgent string
	Breaker   resilience.Config
	Metrics   *monitoring.Metrics
}

// DefaultOptions returns the defaults for a named integration
func DefaultOptions(name string) Options {
	return Options{
		Name:       name,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
		UserAgent:  "devportal-backend/1.0",
		Breaker:    resilience.DefaultConfig(),
	}
}

// Client wraps resty with rate limiting and circuit breaker protection
type Client struct {
	Resty   *resty.Client
	name    string
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
}

// New creates a client
func New(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "default"
	}

	// Pooled transport tuned for long lived clients
	transport := retryablehttp.NewClient().HTTPClient.Transport

	r := resty.New().
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.MinWait).
		SetRetryMaxWaitTime(opts.MaxWait).
		SetHeader("User-Agent", opts.UserAgent).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		OnBeforeRequest(tracing.RestyMiddleware())
	if opts.BaseURL != "" {
		r.SetBaseURL(opts.BaseURL)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Client{
		Resty:   r,
		name:    opts.Name,
		limiter: limiter,
		breaker: resilience.New(opts.Name, opts.Breaker),
		metrics: opts.Metrics,
	}
}

// Name returns the client name used in metrics
func (c *Client) Name() string {
	return c.name
}

// Breaker exposes the circuit breaker
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// R creates a request bound to ctx
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.Resty.R().SetContext(ctx)
}

// Do sends the request built by fn. Non-2xx responses become *StatusError;
// 5xx responses and transport errors count against the breaker.
func (c *Client) Do(ctx context.Context, fn func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	var resp *resty.Response
	var statusErr *StatusError
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = fn(c.R(ctx))
		if err != nil {
			return err
		}
		if resp.IsError() {
			statusErr = &StatusError{
				URL:    resp.Request.URL,
				Status: resp.StatusCode(),
				Body:   truncate(resp.String(), 512),
			}
			if resp.StatusCode() >= 500 {
				return statusErr
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		c.record("rejected")
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.name, err)
	case err != nil && statusErr == nil:
		c.record("error")
		return nil, err
	case statusErr != nil:
		c.record(strconv.Itoa(statusErr.Status))
		return resp, statusErr
	}
	c.record(strconv.Itoa(resp.StatusCode()))
	return resp, nil
}

// GetJSON fetches url and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	_, err := c.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(out).Get(url)
	})
	return err
}

func (c *Client) record(status string) {
	if c.metrics != nil {
		c.metrics.RecordOutbound(c.name, status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsNotFound reports whether err is a 404 StatusError
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
