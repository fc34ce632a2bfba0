// Package urlreader reads files referenced by catalog locations and
// templates, from http(s) URLs or the local filesystem.
package urlreader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

var (
	ErrNotFound   = errors.New("url not found")
	ErrNotAllowed = errors.New("reading from this url is not allowed")
)

// Ref is the root URL reader
var Ref = backend.NewServiceRef[*Reader]("core.urlReader", backend.ScopeRoot)

type integration struct {
	host  string
	token string
}

// Reader fetches raw file contents
type Reader struct {
	client       *httpclient.Client
	allow        []string
	integrations []integration
	rootDir      string
}

// Options configures a Reader
type Options struct {
	// AllowHosts are host globs such as "*.example.com"; GitHub hosts with a
	// configured integration are always allowed
	AllowHosts []string
	// RootDir anchors relative file paths
	RootDir string
}

// New creates a reader using client for remote reads
func New(client *httpclient.Client, cfg *config.AppConfig, opts Options) *Reader {
	r := &Reader{client: client, rootDir: opts.RootDir}
	for _, allow := range cfg.SubList("backend.reading.allow") {
		if host, err := allow.String("host"); err == nil {
			r.allow = append(r.allow, host)
		}
	}
	r.allow = append(r.allow, opts.AllowHosts...)

	for _, gh := range cfg.SubList("integrations.github") {
		host := gh.OptionalString("host", "github.com")
		r.integrations = append(r.integrations, integration{host: host, token: gh.OptionalString("token", "")})
		r.allow = append(r.allow, host, "raw.githubusercontent.com", "api."+host)
	}
	return r
}

// Read returns the contents at target. target is an http(s) URL, a file://
// URL or a filesystem path.
func (r *Reader) Read(ctx context.Context, target string) ([]byte, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}

	switch u.Scheme {
	case "http", "https":
		return r.readRemote(ctx, u)
	case "file":
		return r.readFile(u.Path)
	case "":
		return r.readFile(target)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrNotAllowed, u.Scheme)
	}
}

// Resolve resolves ref relative to base, which may be a URL or a path
func Resolve(base, ref string) string {
	if ref == "" {
		return base
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref
	}
	if b, err := url.Parse(base); err == nil && (b.Scheme == "http" || b.Scheme == "https") {
		rel, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return b.ResolveReference(rel).String()
	}
	base = strings.TrimPrefix(base, "file://")
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(base), ref)
}

func (r *Reader) allowed(host string) bool {
	for _, pattern := range r.allow {
		if ok, _ := doublestar.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

func (r *Reader) readRemote(ctx context.Context, u *url.URL) ([]byte, error) {
	u = rawGitHubURL(u)
	if !r.allowed(u.Host) {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowed, u.Host)
	}

	resp, err := r.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		if token := r.tokenFor(u.Host); token != "" {
			req.SetAuthToken(token)
		}
		return req.Get(u.String())
	})
	if httpclient.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	}
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (r *Reader) tokenFor(host string) string {
	for _, in := range r.integrations {
		if host == in.host || host == "api."+in.host || (in.host == "github.com" && host == "raw.githubusercontent.com") {
			return in.token
		}
	}
	return ""
}

// rawGitHubURL turns github.com/<org>/<repo>/blob/<ref>/<path> into the
// raw.githubusercontent.com form
func rawGitHubURL(u *url.URL) *url.URL {
	if u.Host != "github.com" {
		return u
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 4)
	if len(parts) < 4 || (parts[2] != "blob" && parts[2] != "tree") {
		return u
	}
	out := *u
	out.Host = "raw.githubusercontent.com"
	out.Path = "/" + parts[0] + "/" + parts[1] + "/" + parts[3]
	return &out
}

func (r *Reader) readFile(path string) ([]byte, error) {
	if !filepath.IsAbs(path) && r.rootDir != "" {
		path = filepath.Join(r.rootDir, path)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

// Factory creates the reader with the shared outbound client settings
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (*Reader, error) {
		cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
		if err != nil {
			return nil, err
		}
		metrics, err := backend.Get(ctx, deps, core.MetricsRef)
		if err != nil {
			return nil, err
		}
		opts := httpclient.DefaultOptions("urlreader")
		opts.Metrics = metrics
		wd, _ := os.Getwd()
		return New(httpclient.New(opts), cfg, Options{RootDir: wd}), nil
	})
}
