package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// ErrMissingKey is returned when a required key is absent.
var ErrMissingKey = errors.New("missing required config key")

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// AppConfig is a read-only view over the merged app-config tree.
// Keys are dot separated ("catalog.locations"). A nil *AppConfig behaves
// as an empty tree.
type AppConfig struct {
	data   map[string]interface{}
	prefix string
}

// NewAppConfig wraps an already decoded tree.
func NewAppConfig(data map[string]interface{}) *AppConfig {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &AppConfig{data: data}
}

// LoadAppConfig reads and deep-merges the given files; later files win.
// Missing files are skipped when optional is set.
func LoadAppConfig(paths []string, optional bool) (*AppConfig, error) {
	merged := map[string]interface{}{}
	for _, path := range paths {
		if path == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			if optional && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read app-config %s: %w", path, err)
		}
		tree, err := ParseAppConfig(filepath.Ext(path), raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse app-config %s: %w", path, err)
		}
		merged = mergeTrees(merged, tree)
	}
	return NewAppConfig(substituteEnv(merged).(map[string]interface{})), nil
}

// ParseAppConfig decodes a single document by file extension.
func ParseAppConfig(ext string, raw []byte) (map[string]interface{}, error) {
	tree := map[string]interface{}{}
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(raw, &tree); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, err
		}
	}
	return normalize(tree).(map[string]interface{}), nil
}

// Has reports whether key is present.
func (c *AppConfig) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Get returns the raw value at key.
func (c *AppConfig) Get(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	var cur interface{} = c.data
	if key == "" {
		return cur, true
	}
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns a required string value.
func (c *AppConfig) String(key string) (string, error) {
	v, ok := c.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, c.fullKey(key))
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case int64, float64, bool:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("config key %s is not a string", c.fullKey(key))
	}
}

// OptionalString returns a string value or def.
func (c *AppConfig) OptionalString(key, def string) string {
	s, err := c.String(key)
	if err != nil || s == "" {
		return def
	}
	return s
}

// Bool returns a boolean value or def.
func (c *AppConfig) Bool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Int returns an integer value or def.
func (c *AppConfig) Int(key string, def int) int {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Duration accepts either a Go duration string ("90s") or an object of
// units ({minutes: 30, seconds: 15}).
func (c *AppConfig) Duration(key string, def time.Duration) time.Duration {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return def
		}
		return parsed
	case map[string]interface{}:
		units := map[string]time.Duration{
			"milliseconds": time.Millisecond,
			"seconds":      time.Second,
			"minutes":      time.Minute,
			"hours":        time.Hour,
			"days":         24 * time.Hour,
		}
		var total time.Duration
		for unit, amount := range d {
			mult, ok := units[unit]
			if !ok {
				return def
			}
			switch n := amount.(type) {
			case int64:
				total += time.Duration(n) * mult
			case float64:
				total += time.Duration(n * float64(mult))
			default:
				return def
			}
		}
		return total
	default:
		return def
	}
}

// Strings returns a list of strings; a scalar string becomes a one-item list.
func (c *AppConfig) Strings(key string) []string {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case string:
		return []string{list}
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Sub returns the subtree at key; absent keys yield an empty tree.
func (c *AppConfig) Sub(key string) *AppConfig {
	v, ok := c.Get(key)
	m, isMap := v.(map[string]interface{})
	if !ok || !isMap {
		m = map[string]interface{}{}
	}
	return &AppConfig{data: m, prefix: c.fullKey(key)}
}

// SubList returns each object of the list at key.
func (c *AppConfig) SubList(key string) []*AppConfig {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]*AppConfig, 0, len(list))
	for i, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, &AppConfig{data: m, prefix: fmt.Sprintf("%s[%d]", c.fullKey(key), i)})
		}
	}
	return out
}

// Keys returns the sorted top-level keys.
func (c *AppConfig) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode unmarshals the subtree at key into out using yaml struct tags.
func (c *AppConfig) Decode(key string, out interface{}) error {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode config %s: %w", c.fullKey(key), err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", c.fullKey(key), err)
	}
	return nil
}

func (c *AppConfig) fullKey(key string) string {
	if c == nil || c.prefix == "" {
		return key
	}
	if key == "" {
		return c.prefix
	}
	return c.prefix + "." + key
}

// normalize converts decoder-specific number and map types to
// int64/float64 and map[string]interface{}.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []interface{}:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func mergeTrees(base, overlay map[string]interface{}) map[string]interface{} {
	for k, v := range overlay {
		if bm, ok := base[k].(map[string]interface{}); ok {
			if om, ok := v.(map[string]interface{}); ok {
				base[k] = mergeTrees(bm, om)
				continue
			}
		}
		base[k] = v
	}
	return base
}

// substituteEnv resolves ${VAR} references. A string referencing an unset
// variable is dropped from its parent map.
func substituteEnv(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			resolved := substituteEnv(item)
			if resolved == nil {
				delete(t, k)
				continue
			}
			t[k] = resolved
		}
		return t
	case []interface{}:
		out := t[:0]
		for _, item := range t {
			if resolved := substituteEnv(item); resolved != nil {
				out = append(out, resolved)
			}
		}
		return out
	case string:
		missing := false
		out := envRef.ReplaceAllStringFunc(t, func(ref string) string {
			name := envRef.FindStringSubmatch(ref)[1]
			val, ok := os.LookupEnv(name)
			if !ok {
				missing = true
			}
			return val
		})
		if missing {
			return nil
		}
		return out
	default:
		return v
	}
}
