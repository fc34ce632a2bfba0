package scaffolder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/httpauth"
)

// TemplateSource looks up Template entities
type TemplateSource interface {
	EntityByRef(ctx context.Context, ref catalog.EntityRef) (*catalog.Entity, error)
}

// Handlers serves the scaffolder routes
type Handlers struct {
	runner    *Runner
	store     *TaskStore
	actions   *ActionRegistry
	templates TemplateSource
	identity  httpauth.Resolver
	logger    *logging.Logger
	// pollTimeout bounds how long GET /events waits for new events
	pollTimeout time.Duration
}

// NewHandlers creates the handler set; identity may be nil
func NewHandlers(runner *Runner, store *TaskStore, actions *ActionRegistry, templates TemplateSource, identity httpauth.Resolver, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		runner:      runner,
		store:       store,
		actions:     actions,
		templates:   templates,
		identity:    identity,
		logger:      logger,
		pollTimeout: 30 * time.Second,
	}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/v2/actions", h.ListActions)
	r.GET("/v2/templates/:namespace/:kind/:name/parameter-schema", h.ParameterSchema)
	r.POST("/v2/tasks", h.CreateTask)
	r.GET("/v2/tasks", h.ListTasks)
	r.GET("/v2/tasks/:id", h.GetTask)
	r.GET("/v2/tasks/:id/events", h.TaskEvents)
	r.GET("/v2/tasks/:id/eventstream", h.TaskEventStream)
	r.POST("/v2/tasks/:id/cancel", h.CancelTask)
}

// ListActions returns every installed action
func (h *Handlers) ListActions(c *gin.Context) {
	c.JSON(http.StatusOK, h.actions.List())
}

// ParameterSchema returns the parameter pages of a template
func (h *Handlers) ParameterSchema(c *gin.Context) {
	ref := catalog.EntityRef{
		Kind:      strings.ToLower(c.Param("kind")),
		Namespace: strings.ToLower(c.Param("namespace")),
		Name:      strings.ToLower(c.Param("name")),
	}
	entity, spec, err := h.template(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	steps := make([]gin.H, 0)
	for _, page := range spec.ParameterSteps() {
		title, _ := page["title"].(string)
		description, _ := page["description"].(string)
		steps = append(steps, gin.H{"title": title, "description": description, "schema": page})
	}
	title := entity.Metadata.Title
	if title == "" {
		title = entity.Metadata.Name
	}
	c.JSON(http.StatusOK, gin.H{
		"title":       title,
		"description": entity.Metadata.Description,
		"steps":       steps,
	})
}

type createTaskRequest struct {
	TemplateRef string                 `json:"templateRef" binding:"required"`
	Values      map[string]interface{} `json:"values"`
	Secrets     map[string]string      `json:"secrets"`
}

// CreateTask starts a template run; 201 {id}
func (h *Handlers) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		core.ErrorJSON(c, http.StatusBadRequest, err)
		return
	}
	ident, err := h.caller(c)
	if err != nil {
		core.ErrorJSON(c, http.StatusUnauthorized, err)
		return
	}
	ref, err := catalog.ParseEntityRef(req.TemplateRef, "template", catalog.DefaultNamespace)
	if err != nil {
		core.ErrorJSON(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	entity, spec, err := h.template(ctx, ref)
	if err != nil {
		h.fail(c, err)
		return
	}

	values := req.Values
	if values == nil {
		values = map[string]interface{}{}
	}
	var missing []string
	for _, name := range spec.RequiredParameters() {
		if v, ok := values[name]; !ok || v == nil || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		core.ErrorJSON(c, http.StatusBadRequest, fmt.Errorf("%w: missing required parameters %s", ErrInvalidInput, strings.Join(missing, ", ")))
		return
	}
	for _, step := range spec.Steps {
		if _, err := h.actions.Get(step.Action); err != nil {
			core.ErrorJSON(c, http.StatusBadRequest, err)
			return
		}
	}

	user := map[string]interface{}{}
	createdBy := ""
	if ident != nil {
		createdBy = ident.UserEntityRef
		user["ref"] = ident.UserEntityRef
		if userRef, err := catalog.ParseEntityRef(ident.UserEntityRef, "user", catalog.DefaultNamespace); err == nil {
			if e, err := h.templates.EntityByRef(ctx, userRef); err == nil {
				user["entity"] = e
			}
		}
	}

	task := h.runner.Submit(TaskSpec{
		TemplateRef: ref.String(),
		BaseURL:     BaseURL(entity),
		Parameters:  values,
		Steps:       spec.Steps,
		Output:      spec.Output,
		User:        user,
	}, req.Secrets, createdBy)
	h.logger.Info("Created task", zap.String("task", task.ID), zap.String("template", ref.String()), zap.String("createdBy", createdBy))
	c.JSON(http.StatusCreated, gin.H{"id": task.ID})
}

// ListTasks returns tasks, optionally filtered by ?createdBy=
func (h *Handlers) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.store.List(c.Query("createdBy"))})
}

// GetTask returns one task
func (h *Handlers) GetTask(c *gin.Context) {
	task, err := h.store.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// TaskEvents returns events after ?after=, waiting for new ones while the
// task is still running.
func (h *Handlers) TaskEvents(c *gin.Context) {
	after, err := afterParam(c)
	if err != nil {
		core.ErrorJSON(c, http.StatusBadRequest, err)
		return
	}
	id := c.Param("id")
	events, notify, err := h.store.Events(id, after)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(events) == 0 {
		if task, _ := h.store.Get(id); !task.Status.Done() {
			timer := time.NewTimer(h.pollTimeout)
			defer timer.Stop()
			select {
			case <-notify:
				events, _, _ = h.store.Events(id, after)
			case <-timer.C:
			case <-c.Request.Context().Done():
				return
			}
		}
	}
	c.JSON(http.StatusOK, events)
}

// TaskEventStream streams events as server-sent events until completion
func (h *Handlers) TaskEventStream(c *gin.Context) {
	after, err := afterParam(c)
	if err != nil {
		core.ErrorJSON(c, http.StatusBadRequest, err)
		return
	}
	id := c.Param("id")
	if _, err := h.store.Get(id); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		events, notify, err := h.store.Events(id, after)
		if err != nil {
			return false
		}
		for _, e := range events {
			c.SSEvent(string(e.Type), e)
			after = e.ID
			if e.Type == EventCompletion {
				return false
			}
		}
		if len(events) > 0 {
			return true
		}
		select {
		case <-notify:
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// CancelTask aborts a task
func (h *Handlers) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Cancel(id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": StatusCancelled})
}

func (h *Handlers) template(ctx context.Context, ref catalog.EntityRef) (*catalog.Entity, *TemplateSpec, error) {
	entity, err := h.templates.EntityByRef(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	spec, err := ParseTemplate(entity)
	if err != nil {
		return nil, nil, err
	}
	return entity, spec, nil
}

// caller resolves the bearer token; no token is an anonymous caller
func (h *Handlers) caller(c *gin.Context) (*httpauth.Identity, error) {
	return httpauth.Credentials(c, h.identity)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, catalog.ErrNotFound):
		core.ErrorJSON(c, http.StatusNotFound, err)
	case errors.Is(err, ErrTaskFinished):
		core.ErrorJSON(c, http.StatusConflict, err)
	case errors.Is(err, ErrInvalidTemplate):
		core.ErrorJSON(c, http.StatusBadRequest, err)
	default:
		h.logger.Error("Scaffolder request failed", zap.Error(err))
		core.ErrorJSON(c, http.StatusInternalServerError, err)
	}
}

func afterParam(c *gin.Context) (int64, error) {
	raw := c.Query("after")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("after must be a non-negative event id")
	}
	return n, nil
}
