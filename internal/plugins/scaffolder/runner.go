package scaffolder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/shared/id"
)

// RunnerOptions configures a Runner
type RunnerOptions struct {
	Store    *TaskStore
	Actions  *ActionRegistry
	Renderer *Renderer
	// WorkingDirectory holds per task workspaces; "" uses the OS temp dir
	WorkingDirectory string
	Concurrency      int
	Logger           *logging.Logger
	Metrics          *monitoring.Metrics
}

// Runner executes tasks in the background, at most Concurrency at a time
type Runner struct {
	opts   RunnerOptions
	sem    *semaphore.Weighted
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.Logger
}

// NewRunner creates a runner
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Renderer == nil {
		opts.Renderer = NewRenderer(0)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.Concurrency)),
		ctx:    ctx,
		stop:   stop,
		logger: opts.Logger,
	}
}

// Submit stores a new task and starts it once a slot is free
func (r *Runner) Submit(spec TaskSpec, secrets map[string]string, createdBy string) Task {
	task := r.opts.Store.Create(id.NewTaskID().String(), spec, secrets, createdBy)
	ctx, cancel := context.WithCancel(r.ctx)
	r.opts.Store.setCancel(task.ID, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.execute(ctx, task.ID)
	}()
	return task
}

// Stop cancels running tasks and waits for them to finish
func (r *Runner) Stop(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(ctx context.Context, taskID string) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.finish(taskID, StatusCancelled, nil, nil)
		return
	}
	defer r.sem.Release(1)

	if err := r.opts.Store.SetStatus(taskID, StatusProcessing); err != nil {
		return
	}
	task, err := r.opts.Store.Get(taskID)
	if err != nil {
		return
	}

	start := time.Now()
	output, runErr := r.run(ctx, task)
	status := StatusCompleted
	switch {
	case runErr != nil && ctx.Err() != nil:
		status = StatusCancelled
		runErr = nil
	case runErr != nil:
		status = StatusFailed
	}
	r.logger.Info("Task finished",
		zap.String("task", taskID),
		zap.String("template", task.Spec.TemplateRef),
		zap.String("status", string(status)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(runErr))
	r.finish(taskID, status, output, runErr)
}

func (r *Runner) finish(taskID string, status TaskStatus, output map[string]interface{}, err error) {
	if cerr := r.opts.Store.Complete(taskID, status, output, err); cerr != nil {
		return
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.ScaffolderTasks.WithLabelValues(string(status)).Inc()
	}
}

func (r *Runner) run(ctx context.Context, task Task) (map[string]interface{}, error) {
	if r.opts.WorkingDirectory != "" {
		if err := os.MkdirAll(r.opts.WorkingDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create working directory: %w", err)
		}
	}
	workspace, err := os.MkdirTemp(r.opts.WorkingDirectory, "task-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	secrets := r.opts.Store.secrets(task.ID)
	if secrets == nil {
		secrets = map[string]string{}
	}
	steps := map[string]interface{}{}
	user := task.Spec.User
	if user == nil {
		user = map[string]interface{}{}
	}
	scope := map[string]interface{}{
		"parameters": task.Spec.Parameters,
		"steps":      steps,
		"user":       user,
		"secrets":    secrets,
	}

	for _, step := range task.Spec.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.runStep(ctx, task, step, workspace, scope, steps, secrets); err != nil {
			r.opts.Store.AppendLog(task.ID, step.ID, "Step failed: "+err.Error())
			return nil, err
		}
	}

	if len(task.Spec.Output) == 0 {
		return map[string]interface{}{}, nil
	}
	rendered, err := r.opts.Renderer.Render(task.Spec.Output, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to render output: %w", err)
	}
	output, _ := rendered.(map[string]interface{})
	return output, nil
}

func (r *Runner) runStep(ctx context.Context, task Task, step Step, workspace string, scope, steps map[string]interface{}, secrets map[string]string) error {
	name := step.Name
	if name == "" {
		name = step.ID
	}
	if step.If != nil {
		cond, err := r.opts.Renderer.Render(step.If, scope)
		if err != nil {
			return err
		}
		if !Truthy(cond) {
			r.opts.Store.AppendLog(task.ID, step.ID, "Skipping step "+name)
			return nil
		}
	}

	action, err := r.opts.Actions.Get(step.Action)
	if err != nil {
		return err
	}
	rendered, err := r.opts.Renderer.Render(step.Input, scope)
	if err != nil {
		return err
	}
	input, _ := rendered.(map[string]interface{})
	if input == nil {
		input = map[string]interface{}{}
	}

	var mu sync.Mutex
	outputs := map[string]interface{}{}
	ac := &ActionContext{
		TaskID:    task.ID,
		StepID:    step.ID,
		Input:     input,
		Workspace: workspace,
		BaseURL:   task.Spec.BaseURL,
		Logger:    r.logger,
		Secrets:   secrets,
		OnOutput: func(k string, v interface{}) {
			mu.Lock()
			outputs[k] = v
			mu.Unlock()
		},
		OnLog: func(msg string) {
			r.opts.Store.AppendLog(task.ID, step.ID, msg)
		},
	}

	r.opts.Store.AppendLog(task.ID, step.ID, "Beginning step "+name)
	if err := action.Handler(ctx, ac); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("step %s (%s): %w", step.ID, step.Action, err)
	}
	steps[step.ID] = map[string]interface{}{"output": outputs}
	r.opts.Store.AppendLog(task.ID, step.ID, "Finished step "+name)
	return nil
}
