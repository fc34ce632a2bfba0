package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppConfigMergesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "app-config.yaml", `
app:
  title: Portal
backend:
  baseUrl: http://localhost:7007
  cache:
    store: memory
catalog:
  locations:
    - type: file
      target: ./catalog-info.yaml
`)
	override := writeFile(t, dir, "app-config.production.toml", `
[backend]
baseUrl = "https://portal.example.com"

[backend.cache]
store = "redis"
`)

	cfg, err := LoadAppConfig([]string{base, override}, false)
	require.NoError(t, err)

	assert.Equal(t, "Portal", cfg.OptionalString("app.title", ""))
	assert.Equal(t, "https://portal.example.com", cfg.OptionalString("backend.baseUrl", ""))
	assert.Equal(t, "redis", cfg.OptionalString("backend.cache.store", ""))

	locations := cfg.SubList("catalog.locations")
	require.Len(t, locations, 1)
	assert.Equal(t, "file", locations[0].OptionalString("type", ""))
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := LoadAppConfig([]string{missing}, true)
	require.NoError(t, err)
	assert.Empty(t, cfg.Keys())

	_, err = LoadAppConfig([]string{missing}, false)
	assert.Error(t, err)
}

func TestLoadAppConfigSubstitutesEnvironment(t *testing.T) {
	t.Setenv("PORTAL_GITHUB_TOKEN", "ghp_secret")
	dir := t.TempDir()
	path := writeFile(t, dir, "app-config.yaml", `
integrations:
  github:
    token: ${PORTAL_GITHUB_TOKEN}
    host: github.com
auth:
  secret: ${PORTAL_UNSET_VARIABLE}
`)

	cfg, err := LoadAppConfig([]string{path}, false)
	require.NoError(t, err)

	token, err := cfg.String("integrations.github.token")
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", token)
	assert.False(t, cfg.Has("auth.secret"))
}

func TestAppConfigAccessors(t *testing.T) {
	tree, err := ParseAppConfig(".yaml", []byte(`
search:
  collators:
    techdocs:
      schedule:
        frequency: { minutes: 10 }
        timeout: 90s
  enabled: true
  pageLimit: 25
  types: [techdocs, software-catalog]
  single: only
`))
	require.NoError(t, err)
	cfg := NewAppConfig(tree)

	search := cfg.Sub("search")
	assert.True(t, search.Bool("enabled", false))
	assert.Equal(t, 25, search.Int("pageLimit", 10))
	assert.Equal(t, 10, search.Int("missing", 10))
	assert.Equal(t, []string{"techdocs", "software-catalog"}, search.Strings("types"))
	assert.Equal(t, []string{"only"}, search.Strings("single"))

	schedule := search.Sub("collators.techdocs.schedule")
	assert.Equal(t, 10*time.Minute, schedule.Duration("frequency", time.Hour))
	assert.Equal(t, 90*time.Second, schedule.Duration("timeout", time.Hour))
	assert.Equal(t, time.Hour, schedule.Duration("initialDelay", time.Hour))

	_, err = search.String("nothing")
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Contains(t, err.Error(), "search.nothing")
}

func TestAppConfigDecode(t *testing.T) {
	tree, err := ParseAppConfig(".yaml", []byte(`
kubernetes:
  clusters:
    - name: prod
      url: https://k8s.example.com
      skipTLSVerify: true
`))
	require.NoError(t, err)

	var out struct {
		Clusters []struct {
			Name          string `yaml:"name"`
			URL           string `yaml:"url"`
			SkipTLSVerify bool   `yaml:"skipTLSVerify"`
		} `yaml:"clusters"`
	}
	require.NoError(t, NewAppConfig(tree).Decode("kubernetes", &out))

	require.Len(t, out.Clusters, 1)
	assert.Equal(t, "prod", out.Clusters[0].Name)
	assert.True(t, out.Clusters[0].SkipTLSVerify)
}

func TestNilAppConfigIsEmpty(t *testing.T) {
	var cfg *AppConfig

	assert.False(t, cfg.Has("anything"))
	assert.Equal(t, "fallback", cfg.OptionalString("a.b", "fallback"))
	assert.Empty(t, cfg.Sub("a").Keys())
}
