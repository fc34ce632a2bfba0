package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
)

// LifecycleHook runs at startup or shutdown
type LifecycleHook func(ctx context.Context) error

// LifecycleService lets services and plugins react to startup and shutdown
type LifecycleService interface {
	AddStartupHook(name string, fn LifecycleHook)
	AddShutdownHook(name string, fn LifecycleHook)
}

// RootLifecycleService is driven by the backend itself. Root services
// that stop on their own after startup report it through Fail.
type RootLifecycleService interface {
	LifecycleService
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Fail(name string, err error)
}

var (
	// RootLifecycleRef is the backend wide lifecycle
	RootLifecycleRef = NewServiceRef[RootLifecycleService]("core.rootLifecycle", ScopeRoot)
	// LifecycleRef is the lifecycle of the calling plugin
	LifecycleRef = NewServiceRef[LifecycleService]("core.lifecycle", ScopePlugin)
)

type lifecycleHook struct {
	name string
	fn   LifecycleHook
}

// Lifecycle runs hooks in registration order at startup and in reverse
// order at shutdown. Startup and Shutdown each run at most once.
type Lifecycle struct {
	logger *logging.Logger

	mu       sync.Mutex
	startup  []lifecycleHook
	shutdown []lifecycleHook
	started  bool
	stopped  bool
	failed   chan error
}

// NewLifecycle creates an empty lifecycle
func NewLifecycle(logger *logging.Logger) *Lifecycle {
	return newLifecycle(logger, make(chan error, 1))
}

func newLifecycle(logger *logging.Logger, failed chan error) *Lifecycle {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Lifecycle{logger: logger, failed: failed}
}

// Fail records that name stopped with err. Only the first failure is
// kept; the process is expected to shut down after it.
func (l *Lifecycle) Fail(name string, err error) {
	if err == nil {
		return
	}
	l.logger.Error("Service failed", zap.String("service", name), zap.Error(err))
	select {
	case l.failed <- fmt.Errorf("%s: %w", name, err):
	default:
	}
}

// Failed delivers the first error passed to Fail
func (l *Lifecycle) Failed() <-chan error {
	return l.failed
}

// AddStartupHook registers fn; after startup it runs immediately
func (l *Lifecycle) AddStartupHook(name string, fn LifecycleHook) {
	l.mu.Lock()
	if !l.started {
		l.startup = append(l.startup, lifecycleHook{name: name, fn: fn})
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := fn(context.Background()); err != nil {
		l.logger.Error("Late startup hook failed", zap.String("hook", name), zap.Error(err))
	}
}

// AddShutdownHook registers fn; after shutdown it is ignored
func (l *Lifecycle) AddShutdownHook(name string, fn LifecycleHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		l.logger.Warn("Shutdown hook added after shutdown", zap.String("hook", name))
		return
	}
	l.shutdown = append(l.shutdown, lifecycleHook{name: name, fn: fn})
}

// Startup runs startup hooks, stopping at the first failure
func (l *Lifecycle) Startup(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	hooks := l.startup
	l.startup = nil
	l.mu.Unlock()

	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			return fmt.Errorf("startup hook %s failed: %w", h.name, err)
		}
	}
	return nil
}

// Shutdown runs every shutdown hook newest first and joins their errors
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	hooks := l.shutdown
	l.shutdown = nil
	l.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			l.logger.Error("Shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown hook %s failed: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
