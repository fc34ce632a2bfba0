package scaffolder

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFinished = errors.New("task already finished")
)

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	StatusOpen       TaskStatus = "open"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Done reports whether the status is terminal
func (s TaskStatus) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// EventType distinguishes log lines from the final event
type EventType string

const (
	EventLog        EventType = "log"
	EventCompletion EventType = "completion"
)

// TaskEvent is one entry of a task's event log
type TaskEvent struct {
	ID        int64                  `json:"id"`
	TaskID    string                 `json:"taskId"`
	Type      EventType              `json:"type"`
	Body      map[string]interface{} `json:"body"`
	CreatedAt time.Time              `json:"createdAt"`
}

// TaskSpec is what a task executes
type TaskSpec struct {
	TemplateRef string                 `json:"templateRef"`
	BaseURL     string                 `json:"baseUrl,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
	Steps       []Step                 `json:"steps"`
	Output      map[string]interface{} `json:"output,omitempty"`
	User        map[string]interface{} `json:"user,omitempty"`
}

// Task is a snapshot of one template execution
type Task struct {
	ID          string                 `json:"id"`
	Spec        TaskSpec               `json:"spec"`
	Status      TaskStatus             `json:"status"`
	CreatedBy   string                 `json:"createdBy,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	LastUpdated time.Time              `json:"lastHeartbeatAt"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

type taskRecord struct {
	task    Task
	secrets map[string]string
	events  []TaskEvent
	notify  chan struct{}
	cancel  func()
}

// Retention bounds how many finished tasks the store keeps. Zero values
// disable the matching limit.
type Retention struct {
	MaxAge      time.Duration
	MaxFinished int
}

// DefaultRetention keeps finished tasks for a day, at most 1000 of them
var DefaultRetention = Retention{MaxAge: 24 * time.Hour, MaxFinished: 1000}

// TaskStore keeps tasks and their event logs in memory. Finished tasks are
// evicted per its Retention; open and running tasks are never evicted.
type TaskStore struct {
	mu        sync.RWMutex
	tasks     map[string]*taskRecord
	eventID   int64
	retention Retention
	now       func() time.Time
}

// NewTaskStore creates an empty store with DefaultRetention
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*taskRecord), retention: DefaultRetention, now: time.Now}
}

// SetRetention replaces the retention and evicts accordingly
func (s *TaskStore) SetRetention(r Retention) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = r
	s.pruneLocked()
}

// pruneLocked drops finished tasks older than MaxAge, then the oldest
// finished tasks beyond MaxFinished
func (s *TaskStore) pruneLocked() {
	var finished []*taskRecord
	cutoff := s.now().Add(-s.retention.MaxAge)
	for id, rec := range s.tasks {
		if !rec.task.Status.Done() {
			continue
		}
		if s.retention.MaxAge > 0 && rec.task.LastUpdated.Before(cutoff) {
			delete(s.tasks, id)
			continue
		}
		finished = append(finished, rec)
	}
	if s.retention.MaxFinished <= 0 || len(finished) <= s.retention.MaxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		if finished[i].task.LastUpdated.Equal(finished[j].task.LastUpdated) {
			return finished[i].task.ID < finished[j].task.ID
		}
		return finished[i].task.LastUpdated.Before(finished[j].task.LastUpdated)
	})
	for _, rec := range finished[:len(finished)-s.retention.MaxFinished] {
		delete(s.tasks, rec.task.ID)
	}
}

// Create stores a new open task
func (s *TaskStore) Create(id string, spec TaskSpec, secrets map[string]string, createdBy string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	rec := &taskRecord{
		task: Task{
			ID:          id,
			Spec:        spec,
			Status:      StatusOpen,
			CreatedBy:   createdBy,
			CreatedAt:   now,
			LastUpdated: now,
		},
		secrets: secrets,
		notify:  make(chan struct{}),
	}
	s.pruneLocked()
	s.tasks[id] = rec
	return rec.task
}

// Get returns a task snapshot
func (s *TaskStore) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return rec.task, nil
}

// List returns tasks newest first, optionally only those created by user
func (s *TaskStore) List(createdBy string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, rec := range s.tasks {
		if createdBy != "" && rec.task.CreatedBy != createdBy {
			continue
		}
		out = append(out, rec.task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *TaskStore) secrets(id string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.tasks[id]; ok {
		return rec.secrets
	}
	return nil
}

// setCancel installs the func that aborts a running task
func (s *TaskStore) setCancel(id string, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.tasks[id]; ok {
		rec.cancel = cancel
	}
}

// SetStatus moves a task to status; terminal states are final
func (s *TaskStore) SetStatus(id string, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if rec.task.Status.Done() {
		return ErrTaskFinished
	}
	rec.task.Status = status
	rec.task.LastUpdated = s.now()
	return nil
}

// Complete records the terminal status, output and completion event
func (s *TaskStore) Complete(id string, status TaskStatus, output map[string]interface{}, taskErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if rec.task.Status.Done() {
		return ErrTaskFinished
	}
	rec.task.Status = status
	rec.task.Output = output
	rec.task.LastUpdated = s.now()
	rec.secrets = nil
	body := map[string]interface{}{"status": string(status), "message": "Run " + string(status)}
	if taskErr != nil {
		rec.task.Error = taskErr.Error()
		body["error"] = map[string]interface{}{"message": taskErr.Error()}
	}
	if output != nil {
		body["output"] = output
	}
	s.appendLocked(rec, EventCompletion, body)
	s.pruneLocked()
	return nil
}

// Cancel aborts an open or running task
func (s *TaskStore) Cancel(id string) error {
	s.mu.RLock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.RUnlock()
		return ErrTaskNotFound
	}
	done := rec.task.Status.Done()
	cancel := rec.cancel
	s.mu.RUnlock()

	if done {
		return ErrTaskFinished
	}
	if cancel != nil {
		cancel()
		return nil
	}
	return s.Complete(id, StatusCancelled, nil, nil)
}

// AppendLog adds a log event for a step ("" for task level lines)
func (s *TaskStore) AppendLog(id, stepID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return
	}
	body := map[string]interface{}{"message": message}
	if stepID != "" {
		body["stepId"] = stepID
	}
	s.appendLocked(rec, EventLog, body)
}

func (s *TaskStore) appendLocked(rec *taskRecord, typ EventType, body map[string]interface{}) {
	s.eventID++
	rec.events = append(rec.events, TaskEvent{
		ID:        s.eventID,
		TaskID:    rec.task.ID,
		Type:      typ,
		Body:      body,
		CreatedAt: s.now(),
	})
	rec.task.LastUpdated = s.now()
	close(rec.notify)
	rec.notify = make(chan struct{})
}

// Events returns the events after the given id and a channel closed when
// the next event is appended.
func (s *TaskStore) Events(id string, after int64) ([]TaskEvent, <-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil, nil, ErrTaskNotFound
	}
	i := sort.Search(len(rec.events), func(i int) bool { return rec.events[i].ID > after })
	out := make([]TaskEvent, len(rec.events)-i)
	copy(out, rec.events[i:])
	return out, rec.notify, nil
}
