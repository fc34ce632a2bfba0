// Package database hands each plugin a Postgres connection through gorm.
// Plugins share one connection pool; each gets its own table prefix.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

// ErrNotConfigured is returned when backend.database is absent
var ErrNotConfigured = errors.New("database is not configured")

var (
	ManagerRef = backend.NewServiceRef[*Manager]("core.rootDatabase", backend.ScopeRoot)
	Ref        = backend.NewServiceRef[*Client]("core.database", backend.ScopePlugin)
)

// Options holds connection settings read from backend.database
type Options struct {
	DSN            string
	MaxConns       int
	ConnectTimeout time.Duration
}

// OptionsFrom reads backend.database. connection is either a URL/DSN
// string or an object with host, port, user, password, database and
// sslmode keys. ErrNotConfigured is returned when there is no connection.
func OptionsFrom(cfg *config.AppConfig) (Options, error) {
	db := cfg.Sub("backend.database")
	if !db.Has("connection") {
		return Options{}, ErrNotConfigured
	}
	if client := db.OptionalString("client", "pg"); client != "pg" {
		return Options{}, fmt.Errorf("unsupported database client %q", client)
	}

	opts := Options{
		MaxConns:       db.Int("pool.max", 10),
		ConnectTimeout: db.Duration("connectTimeout", 5*time.Second),
	}

	if dsn, err := db.String("connection"); err == nil {
		opts.DSN = dsn
		return opts, nil
	}

	conn := db.Sub("connection")
	host, err := conn.String("host")
	if err != nil {
		return Options{}, err
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(conn.Int("port", 5432)),
		Path:   "/" + conn.OptionalString("database", "backstage"),
	}
	user := conn.OptionalString("user", "postgres")
	if password, err := conn.String("password"); err == nil {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	q := u.Query()
	q.Set("sslmode", conn.OptionalString("sslmode", "disable"))
	u.RawQuery = q.Encode()
	opts.DSN = u.String()
	return opts, nil
}

// TablePrefix returns the table prefix used for a plugin
func TablePrefix(pluginID string) string {
	return strings.ReplaceAll(strings.ToLower(pluginID), "-", "_") + "_"
}

// Manager owns the shared connection pool
type Manager struct {
	opts       Options
	configured bool
	logger     *logging.Logger

	mu sync.Mutex
	db *gorm.DB
}

// NewManager creates a manager; nothing connects until a plugin asks
func NewManager(cfg *config.AppConfig, logger *logging.Logger) (*Manager, error) {
	opts, err := OptionsFrom(cfg)
	if errors.Is(err, ErrNotConfigured) {
		return &Manager{logger: logger}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Manager{opts: opts, configured: true, logger: logger}, nil
}

// Configured reports whether a database is available
func (m *Manager) Configured() bool {
	return m.configured
}

func (m *Manager) connect(ctx context.Context) (*gorm.DB, error) {
	if !m.configured {
		return nil, ErrNotConfigured
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return m.db, nil
	}

	m.logger.Info("Connecting to database")
	db, err := gorm.Open(postgres.Open(m.opts.DSN), &gorm.Config{
		TranslateError:         true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if m.opts.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(m.opts.MaxConns)
		sqlDB.SetMaxIdleConns(m.opts.MaxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	m.db = db
	return db, nil
}

// ForPlugin returns the client of one plugin
func (m *Manager) ForPlugin(pluginID string) *Client {
	return &Client{manager: m, pluginID: pluginID, prefix: TablePrefix(pluginID)}
}

// Close releases the pool
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	m.db = nil
	return sqlDB.Close()
}

// Client is a plugin's view of the database
type Client struct {
	manager  *Manager
	pluginID string
	prefix   string

	mu sync.Mutex
	db *gorm.DB
}

// Configured reports whether DB can succeed
func (c *Client) Configured() bool {
	return c.manager.Configured()
}

// TablePrefix returns the prefix applied to this plugin's tables
func (c *Client) TablePrefix() string {
	return c.prefix
}

// DB connects on first use and returns a session whose table names carry
// the plugin prefix
func (c *Client) DB(ctx context.Context) (*gorm.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db.WithContext(ctx), nil
	}

	base, err := c.manager.connect(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := base.DB()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: pool}), &gorm.Config{
		NamingStrategy:         schema.NamingStrategy{TablePrefix: c.prefix},
		TranslateError:         true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database for plugin %s: %w", c.pluginID, err)
	}
	c.db = db
	return db.WithContext(ctx), nil
}

// ManagerFactory creates the shared pool and closes it on shutdown
func ManagerFactory() *backend.ServiceFactory {
	return backend.NewServiceFactory(ManagerRef, func(ctx context.Context, deps *backend.Deps) (*Manager, error) {
		cfg, err := backend.Get(ctx, deps, core.RootConfigRef)
		if err != nil {
			return nil, err
		}
		logger, err := backend.Get(ctx, deps, core.RootLoggerRef)
		if err != nil {
			return nil, err
		}
		lifecycle, err := backend.Get(ctx, deps, backend.RootLifecycleRef)
		if err != nil {
			return nil, err
		}

		m, err := NewManager(cfg, logger.With(zap.String("service", "database")))
		if err != nil {
			return nil, err
		}
		lifecycle.AddShutdownHook("database.close", func(context.Context) error {
			return m.Close()
		})
		return m, nil
	})
}

// Factory provides the per-plugin client
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (*Client, error) {
		m, err := backend.Get(ctx, deps, ManagerRef)
		if err != nil {
			return nil, err
		}
		return m.ForPlugin(deps.PluginID()), nil
	})
}
