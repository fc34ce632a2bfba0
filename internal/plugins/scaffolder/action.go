package scaffolder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/backend"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidInput  = errors.New("invalid action input")
)

// ActionsExtensionPoint lets modules add template actions
var ActionsExtensionPoint = backend.NewExtensionPoint[Actions]("scaffolder.actions")

// Actions is implemented by the scaffolder plugin
type Actions interface {
	AddActions(actions ...*Action)
}

// ActionContext is handed to an action for one step
type ActionContext struct {
	TaskID string
	StepID string
	Input  map[string]interface{}
	// Workspace is the task's scratch directory
	Workspace string
	// BaseURL is where the template was read from
	BaseURL string
	Logger  *logging.Logger
	Secrets map[string]string
	// OnOutput and OnLog receive step outputs and log lines
	OnOutput func(name string, value interface{})
	OnLog    func(msg string)
}

// Log writes a line to the task's event log
func (a *ActionContext) Log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if a.OnLog != nil {
		a.OnLog(msg)
	}
	if a.Logger != nil {
		a.Logger.Info(msg, zap.String("task", a.TaskID), zap.String("step", a.StepID))
	}
}

// WorkspacePath resolves rel inside the workspace, rejecting escapes
func (a *ActionContext) WorkspacePath(rel string) (string, error) {
	target := filepath.Join(a.Workspace, filepath.FromSlash(rel))
	back, err := filepath.Rel(a.Workspace, target)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the workspace", ErrInvalidInput, rel)
	}
	return target, nil
}

// Output records a step output, visible to later steps as
// steps['<id>'].output.<name>
func (a *ActionContext) Output(name string, value interface{}) {
	if a.OnOutput != nil {
		a.OnOutput(name, value)
	}
}

// String returns a string input or "" when absent
func (a *ActionContext) String(key string) string {
	s, _ := a.Input[key].(string)
	return s
}

// RequireString returns a non-empty string input
func (a *ActionContext) RequireString(key string) (string, error) {
	s, ok := a.Input[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, key)
	}
	return s, nil
}

// Bool returns a boolean input or def
func (a *ActionContext) Bool(key string, def bool) bool {
	if b, ok := a.Input[key].(bool); ok {
		return b
	}
	return def
}

// Strings returns a list input of strings
func (a *ActionContext) Strings(key string) []string {
	switch v := a.Input[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return []string{v}
	}
	return nil
}

// Map returns an object input
func (a *ActionContext) Map(key string) map[string]interface{} {
	m, _ := a.Input[key].(map[string]interface{})
	return m
}

// Action is a named step implementation
type Action struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Handler     func(ctx context.Context, ac *ActionContext) error `json:"-"`
}

// ActionRegistry holds the actions available to templates
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]*Action
	logger  *logging.Logger
}

// NewActionRegistry creates an empty registry
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]*Action), logger: logging.NewNop()}
}

// AddActions registers actions; duplicate ids panic
func (r *ActionRegistry) AddActions(actions ...*Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		if _, exists := r.actions[a.ID]; exists {
			panic("scaffolder: action " + a.ID + " registered twice")
		}
		r.actions[a.ID] = a
		r.logger.Debug("Registered action", zap.String("action", a.ID))
	}
}

// Get returns the action with id
func (r *ActionRegistry) Get(id string) (*Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	return a, nil
}

// List returns every action sorted by id
func (r *ActionRegistry) List() []*Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
