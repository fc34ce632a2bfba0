// Package kubernetes is the Kubernetes plugin. It lists the configured
// clusters and probes their API servers.
package kubernetes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
)

var ErrUnknownCluster = errors.New("unknown cluster")

// Cluster is one entry of a config cluster locator
type Cluster struct {
	Name         string `json:"name"`
	AuthProvider string `json:"authProvider"`
	DashboardURL string `json:"dashboardUrl,omitempty"`

	URL                 string `json:"-"`
	ServiceAccountToken string `json:"-"`
	SkipTLSVerify       bool   `json:"-"`
	// CAData is a base64 encoded PEM bundle
	CAData string `json:"-"`
}

// ReadClusters reads kubernetes.clusterLocatorMethods. Only the config
// locator is supported; other locator types are skipped.
func ReadClusters(cfg *config.AppConfig) ([]Cluster, error) {
	var out []Cluster
	seen := make(map[string]bool)
	for _, method := range cfg.SubList("kubernetes.clusterLocatorMethods") {
		if method.OptionalString("type", "config") != "config" {
			continue
		}
		for _, c := range method.SubList("clusters") {
			name, err := c.String("name")
			if err != nil {
				return nil, err
			}
			url, err := c.String("url")
			if err != nil {
				return nil, err
			}
			if seen[name] {
				return nil, fmt.Errorf("duplicate kubernetes cluster %q", name)
			}
			seen[name] = true
			out = append(out, Cluster{
				Name:                name,
				URL:                 strings.TrimRight(url, "/"),
				AuthProvider:        c.OptionalString("authProvider", "serviceAccount"),
				DashboardURL:        c.OptionalString("dashboardUrl", ""),
				ServiceAccountToken: c.OptionalString("serviceAccountToken", ""),
				SkipTLSVerify:       c.Bool("skipTLSVerify", false),
				CAData:              c.OptionalString("caData", ""),
			})
		}
	}
	return out, nil
}
