// Package scheduler runs periodic plugin tasks such as catalog refreshes
// and search collators.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
)

var (
	ErrDuplicateTask = errors.New("task is already scheduled")
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidTask   = errors.New("invalid task")
	ErrStopped       = errors.New("scheduler is stopped")
)

// Ref is the per-plugin scheduler
var Ref = backend.NewServiceRef[*Scheduler]("core.scheduler", backend.ScopePlugin)

// Schedule controls when a task runs
type Schedule struct {
	Frequency    time.Duration
	Timeout      time.Duration
	InitialDelay time.Duration
}

// ScheduleFrom reads frequency, timeout and initialDelay from cfg
func ScheduleFrom(cfg *config.AppConfig, def Schedule) Schedule {
	return Schedule{
		Frequency:    cfg.Duration("frequency", def.Frequency),
		Timeout:      cfg.Duration("timeout", def.Timeout),
		InitialDelay: cfg.Duration("initialDelay", def.InitialDelay),
	}
}

// TaskFunc is one run of a task
type TaskFunc func(ctx context.Context) error

// TaskOptions describes a scheduled task
type TaskOptions struct {
	ID string
	Schedule
	Fn TaskFunc
}

// TaskStatus describes the last run of a task
type TaskStatus struct {
	ID        string        `json:"id"`
	Frequency time.Duration `json:"frequency"`
	Runs      int           `json:"runs"`
	LastRun   time.Time     `json:"lastRun,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

type task struct {
	opts    TaskOptions
	trigger chan struct{}

	mu      sync.Mutex
	runs    int
	lastRun time.Time
	lastErr error
}

// Scheduler runs the tasks of one plugin until shutdown
type Scheduler struct {
	pluginID string
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a scheduler for pluginID
func New(pluginID string, logger *logging.Logger, metrics *monitoring.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		pluginID: pluginID,
		logger:   logger,
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*task),
	}
}

// ScheduleTask starts running opts.Fn every Frequency after InitialDelay
func (s *Scheduler) ScheduleTask(opts TaskOptions) error {
	if opts.ID == "" || opts.Fn == nil || opts.Frequency <= 0 {
		return fmt.Errorf("%w: id, fn and a positive frequency are required", ErrInvalidTask)
	}
	if s.ctx.Err() != nil {
		return ErrStopped
	}

	s.mu.Lock()
	if _, dup := s.tasks[opts.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, opts.ID)
	}
	t := &task{opts: opts, trigger: make(chan struct{}, 1)}
	s.tasks[opts.ID] = t
	s.mu.Unlock()

	s.logger.Info("Task scheduled",
		zap.String("task", opts.ID),
		zap.Duration("frequency", opts.Frequency),
		zap.Duration("initial_delay", opts.InitialDelay),
	)

	s.wg.Add(1)
	go s.loop(t)
	return nil
}

// TriggerTask runs a task as soon as possible
func (s *Scheduler) TriggerTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	select {
	case t.trigger <- struct{}{}:
	default:
		// A run is already pending
	}
	return nil
}

// Tasks reports every task sorted by id
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		st := TaskStatus{ID: t.opts.ID, Frequency: t.opts.Frequency, Runs: t.runs, LastRun: t.lastRun}
		if t.lastErr != nil {
			st.LastError = t.lastErr.Error()
		}
		t.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown cancels running tasks and waits for them to return
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler for %s did not stop: %w", s.pluginID, ctx.Err())
	}
}

func (s *Scheduler) loop(t *task) {
	defer s.wg.Done()

	delay := time.NewTimer(t.opts.InitialDelay)
	defer delay.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-delay.C:
	case <-t.trigger:
	}

	ticker := time.NewTicker(t.opts.Frequency)
	defer ticker.Stop()
	for {
		s.run(t)
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-t.trigger:
		}
	}
}

func (s *Scheduler) run(t *task) {
	ctx := s.ctx
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	timer := monitoring.NewTimer(s.metrics, s.pluginID, t.opts.ID)
	err := safeRun(ctx, t.opts.Fn)
	duration := timer.Stop(err)

	t.mu.Lock()
	t.runs++
	t.lastRun = time.Now()
	t.lastErr = err
	t.mu.Unlock()

	if err != nil && s.ctx.Err() == nil {
		s.logger.Error("Task failed",
			zap.String("task", t.opts.ID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Task completed", zap.String("task", t.opts.ID), zap.Duration("duration", duration))
}

func safeRun(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Factory provides a scheduler per plugin, stopped with the plugin
func Factory() *backend.ServiceFactory {
	return backend.NewServiceFactory(Ref, func(ctx context.Context, deps *backend.Deps) (*Scheduler, error) {
		logger, err := backend.Get(ctx, deps, core.LoggerRef)
		if err != nil {
			return nil, err
		}
		metrics, err := backend.Get(ctx, deps, core.MetricsRef)
		if err != nil {
			return nil, err
		}
		lifecycle, err := backend.Get(ctx, deps, backend.LifecycleRef)
		if err != nil {
			return nil, err
		}

		s := New(deps.PluginID(), logger, metrics)
		lifecycle.AddShutdownHook("scheduler.stop", s.Shutdown)
		return s, nil
	})
}
