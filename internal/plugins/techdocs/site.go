// Package techdocs is the documentation plugin. It serves prebuilt
// documentation sites from the local publisher directory.
package techdocs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
)

// MetadataFile is written next to a site's index.html by the generator
const MetadataFile = "techdocs_metadata.json"

var (
	ErrNotFound    = errors.New("documentation not found")
	ErrInvalidPath = errors.New("invalid documentation path")
)

// PublishDirectory reads techdocs.publisher.local.publishDirectory
func PublishDirectory(cfg *config.AppConfig) string {
	return cfg.OptionalString("techdocs.publisher.local.publishDirectory", filepath.Join("static", "docs"))
}

// Triplet names the entity a site belongs to
type Triplet struct {
	Namespace string
	Kind      string
	Name      string
}

// String returns "namespace/kind/name", the site's path segment
func (t Triplet) String() string {
	return strings.ToLower(t.Namespace + "/" + t.Kind + "/" + t.Name)
}

// EntityRef returns the triplet as kind:namespace/name
func (t Triplet) EntityRef() string {
	return strings.ToLower(t.Kind + ":" + t.Namespace + "/" + t.Name)
}

// Metadata describes a published site
type Metadata struct {
	SiteName        string   `json:"site_name"`
	SiteDescription string   `json:"site_description,omitempty"`
	Etag            string   `json:"etag,omitempty"`
	BuildTimestamp  int64    `json:"build_timestamp,omitempty"`
	Files           []string `json:"files,omitempty"`
}

// Site resolves files of published documentation below root
type Site struct {
	root string
}

// NewSite creates a site reader for root
func NewSite(root string) *Site {
	return &Site{root: root}
}

// Root returns the publish directory
func (s *Site) Root() string {
	return s.root
}

// Resolve maps a request path to a file on disk. Directories resolve to
// their index.html; paths escaping the site are rejected.
func (s *Site) Resolve(t Triplet, rel string) (string, error) {
	for _, seg := range []string{t.Namespace, t.Kind, t.Name} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, seg)
		}
	}
	if strings.Contains(rel, "..") {
		for _, seg := range strings.Split(rel, "/") {
			if seg == ".." {
				return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
			}
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+rel), "/")
	full := filepath.Join(s.root, filepath.FromSlash(t.String()), filepath.FromSlash(clean))

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, t, clean)
		}
		return "", err
	}
	if info.IsDir() {
		full = filepath.Join(full, "index.html")
		if _, err := os.Stat(full); err != nil {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, t, clean)
		}
	}
	return full, nil
}

// Metadata reads the site's metadata file
func (s *Site) Metadata(t Triplet) (*Metadata, error) {
	file, err := s.Resolve(t, MetadataFile)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid %s for %s: %w", MetadataFile, t, err)
	}
	return &m, nil
}
