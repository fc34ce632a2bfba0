package kubernetes

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/resilience"
)

// Health is the result of one API server probe
type Health struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Status    int    `json:"status,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	Breaker   string `json:"breaker"`
	Error     string `json:"error,omitempty"`
}

// ProbeOptions tunes the per-cluster clients
type ProbeOptions struct {
	Timeout  time.Duration
	Retries  int
	MinWait  time.Duration
	MaxWait  time.Duration
	Breakers resilience.Config
}

// DefaultProbeOptions returns the defaults used by the plugin
func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{
		Timeout:  5 * time.Second,
		Retries:  2,
		MinWait:  200 * time.Millisecond,
		MaxWait:  2 * time.Second,
		Breakers: resilience.DefaultConfig(),
	}
}

// Prober checks /readyz of each cluster through a circuit breaker
type Prober struct {
	ordered  []Cluster
	clusters map[string]Cluster
	clients  map[string]*retryablehttp.Client
	breakers *resilience.Group
	metrics  *monitoring.Metrics
}

// NewProber builds one HTTP client per cluster
func NewProber(clusters []Cluster, opts ProbeOptions, logger *logging.Logger, metrics *monitoring.Metrics) (*Prober, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Prober{
		ordered:  clusters,
		clusters: make(map[string]Cluster, len(clusters)),
		clients:  make(map[string]*retryablehttp.Client, len(clusters)),
		breakers: resilience.NewGroup(opts.Breakers),
		metrics:  metrics,
	}
	for _, c := range clusters {
		client, err := newClusterClient(c, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", c.Name, err)
		}
		p.clusters[c.Name] = c
		p.clients[c.Name] = client
	}
	return p, nil
}

func newClusterClient(c Cluster, opts ProbeOptions, logger *logging.Logger) (*retryablehttp.Client, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.Retries
	client.RetryWaitMin = opts.MinWait
	client.RetryWaitMax = opts.MaxWait
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = leveledLogger{logger.With(zap.String("cluster", c.Name)).Sugar()}

	if c.SkipTLSVerify || c.CAData != "" {
		tlsCfg := &tls.Config{InsecureSkipVerify: c.SkipTLSVerify}
		if c.CAData != "" {
			pem, err := base64.StdEncoding.DecodeString(c.CAData)
			if err != nil {
				return nil, fmt.Errorf("invalid caData: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, errors.New("caData contains no certificates")
			}
			tlsCfg.RootCAs = pool
		}
		if t, ok := client.HTTPClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = tlsCfg
		}
	}
	return client, nil
}

// Clusters returns the configured clusters in config order
func (p *Prober) Clusters() []Cluster {
	return p.ordered
}

// Probe checks one cluster
func (p *Prober) Probe(ctx context.Context, name string) (Health, error) {
	c, ok := p.clusters[name]
	if !ok {
		return Health{}, fmt.Errorf("%w: %s", ErrUnknownCluster, name)
	}
	breaker := p.breakers.Get(name)
	h := Health{Name: name}

	start := time.Now()
	err := breaker.Do(ctx, func(ctx context.Context) error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/readyz", nil)
		if err != nil {
			return err
		}
		if c.ServiceAccountToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.ServiceAccountToken)
		}
		resp, err := p.clients[name].Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		h.Status = resp.StatusCode
		if resp.StatusCode >= 500 {
			return fmt.Errorf("api server returned %d", resp.StatusCode)
		}
		return nil
	})
	h.LatencyMS = time.Since(start).Milliseconds()
	h.Breaker = breaker.State().String()
	h.Healthy = err == nil && h.Status == http.StatusOK
	if err != nil {
		h.Error = err.Error()
	} else if !h.Healthy {
		h.Error = http.StatusText(h.Status)
	}
	p.record(h)
	return h, nil
}

func (p *Prober) record(h Health) {
	if p.metrics == nil {
		return
	}
	status := "error"
	if h.Status != 0 {
		status = strconv.Itoa(h.Status)
	}
	p.metrics.RecordOutbound("kubernetes:"+h.Name, status)
}

// leveledLogger adapts zap to retryablehttp's logger interface
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
