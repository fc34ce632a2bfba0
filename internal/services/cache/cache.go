// Package cache provides a key-value cache to plugins. Entries live in
// process memory or in Redis; keys are namespaced per plugin.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

var (
	StoreRef = backend.NewServiceRef[Store]("core.rootCache", backend.ScopeRoot)
	Ref      = backend.NewServiceRef[*Client]("core.cache", backend.ScopePlugin)
)

// Store is the backing storage shared by every plugin
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewStore builds the store selected by backend.cache.store
func NewStore(ctx context.Context, cfg *config.AppConfig) (Store, error) {
	c := cfg.Sub("backend.cache")
	switch store := c.OptionalString("store", "memory"); store {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		conn, err := c.String("connection")
		if err != nil {
			return nil, err
		}
		client, err := Connect(ctx, conn)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unsupported cache store %q", store)
	}
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps entries in a map with lazy expiry
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Connect initializes a Redis client from URL or host:port input
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisStore stores entries in Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a connected client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client is a plugin's namespaced view of the store
type Client struct {
	store      Store
	namespace  string
	defaultTTL time.Duration
	metrics    *monitoring.Metrics
}

// NewClient namespaces keys under pluginID
func NewClient(store Store, pluginID string, defaultTTL time.Duration, metrics *monitoring.Metrics) *Client {
	return &Client{store: store, namespace: pluginID, defaultTTL: defaultTTL, metrics: metrics}
}

func (c *Client) key(k string) string {
	return c.namespace + ":" + k
}

func (c *Client) record(op, result string) {
	if c.metrics != nil {
		c.metrics.RecordCache(c.namespace, op, result)
	}
}

// Get returns the value for key and whether it was present
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := c.store.Get(ctx, c.key(key))
	switch {
	case err != nil:
		c.record("get", "error")
	case ok:
		c.record("get", "hit")
	default:
		c.record("get", "miss")
	}
	return v, ok, err
}

// Set stores value; a zero ttl uses the configured default
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	err := c.store.Set(ctx, c.key(key), value, ttl)
	if err != nil {
		c.record("set", "error")
	} else {
		c.record("set", "ok")
	}
	return err
}

// Delete removes key
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.key(key))
}

// WithNamespace returns a client scoped below the current namespace
func (c *Client) WithNamespace(ns string) *Client {
	sub := *c
	sub.namespace = c.namespace + ":" + ns
	return &sub
}

// StoreFactory creates the shared store and closes it on shutdown
func StoreFactory() *backend.ServiceFactory {
	return backend.NewServiceFactory(StoreRef, func(ctx context.Context, deps *backend.Deps) (Store, error) {
		cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
		if err != nil {
			return nil, err
		}
		lifecycle, err := backend.Get(ctx, deps, backend.RootLifecycleRef)
		if err != nil {
			return nil, err
		}
		store, err := NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		lifecycle.AddShutdownHook("cache.close", func(context.Context) error {
			return store.Close()
		})
		return store, nil
	})
}

// Factory provides the per-plugin client
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (*Client, error) {
		store, err := backend.Get(ctx, deps, StoreRef)
		if err != nil {
			return nil, err
		}
		cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
		if err != nil {
			return nil, err
		}
		metrics, err := backend.Get(ctx, deps, core.MetricsRef)
		if err != nil {
			return nil, err
		}
		ttl := cfg.Duration("backend.cache.defaultTtl", 0)
		return NewClient(store, deps.PluginID(), ttl, metrics), nil
	})
}
