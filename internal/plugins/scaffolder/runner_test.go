package scaffolder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
)

func testActions() *ActionRegistry {
	r := NewActionRegistry()
	r.AddActions(
		&Action{ID: "test:echo", Handler: func(_ context.Context, ac *ActionContext) error {
			ac.Log("echo %v", ac.Input["value"])
			ac.Output("value", ac.Input["value"])
			return nil
		}},
		&Action{ID: "test:fail", Handler: func(context.Context, *ActionContext) error {
			return errors.New("boom")
		}},
		&Action{ID: "test:block", Handler: func(ctx context.Context, _ *ActionContext) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)
	return r
}

func newTestRunner(t *testing.T, concurrency int) (*Runner, *TaskStore, *monitoring.Metrics) {
	t.Helper()
	store := NewTaskStore()
	metrics := monitoring.NewMetrics()
	runner := NewRunner(RunnerOptions{
		Store:            store,
		Actions:          testActions(),
		WorkingDirectory: t.TempDir(),
		Concurrency:      concurrency,
		Metrics:          metrics,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Stop(ctx)
	})
	return runner, store, metrics
}

func waitStatus(t *testing.T, store *TaskStore, id string, want TaskStatus) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		task, _ = store.Get(id)
		return task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return task
}

func TestRunnerCompletesTask(t *testing.T) {
	runner, store, metrics := newTestRunner(t, 2)

	task := runner.Submit(TaskSpec{
		TemplateRef: "template:default/service",
		Parameters:  map[string]interface{}{"name": "billing", "skip": false},
		Steps: []Step{
			{ID: "one", Action: "test:echo", Input: map[string]interface{}{"value": "${{ parameters.name }}"}},
			{ID: "skipped", Action: "test:fail", If: "${{ parameters.skip }}"},
			{ID: "two", Action: "test:echo", Input: map[string]interface{}{"value": "${{ steps.one.output.value }}-svc"}},
		},
		Output: map[string]interface{}{"name": "${{ steps.two.output.value }}"},
	}, nil, "user:default/jane")

	done := waitStatus(t, store, task.ID, StatusCompleted)
	assert.Equal(t, map[string]interface{}{"name": "billing-svc"}, done.Output)
	assert.Equal(t, "user:default/jane", done.CreatedBy)
	assert.Empty(t, done.Error)

	events, _, err := store.Events(task.ID, 0)
	require.NoError(t, err)
	var messages []string
	for _, e := range events {
		if e.Type == EventLog {
			messages = append(messages, e.Body["message"].(string))
		}
	}
	assert.Contains(t, messages, "echo billing")
	assert.Contains(t, messages, "Skipping step skipped")
	assert.Contains(t, messages, "echo billing-svc")
	last := events[len(events)-1]
	assert.Equal(t, EventCompletion, last.Type)
	assert.Equal(t, "completed", last.Body["status"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ScaffolderTasks.WithLabelValues("completed")))
}

func TestRunnerFailsTask(t *testing.T) {
	runner, store, metrics := newTestRunner(t, 1)

	task := runner.Submit(TaskSpec{Steps: []Step{
		{ID: "bad", Action: "test:fail"},
		{ID: "never", Action: "test:echo"},
	}}, nil, "")

	done := waitStatus(t, store, task.ID, StatusFailed)
	assert.Contains(t, done.Error, "boom")

	events, _, err := store.Events(task.ID, 0)
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, "never", e.Body["stepId"])
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ScaffolderTasks.WithLabelValues("failed")))
}

func TestRunnerUnknownActionFails(t *testing.T) {
	runner, store, _ := newTestRunner(t, 1)
	task := runner.Submit(TaskSpec{Steps: []Step{{ID: "x", Action: "nope:nope"}}}, nil, "")
	done := waitStatus(t, store, task.ID, StatusFailed)
	assert.Contains(t, done.Error, ErrUnknownAction.Error())
}

func TestRunnerCancel(t *testing.T) {
	runner, store, _ := newTestRunner(t, 1)

	blocking := runner.Submit(TaskSpec{Steps: []Step{{ID: "wait", Action: "test:block"}}}, nil, "")
	waitStatus(t, store, blocking.ID, StatusProcessing)

	queued := runner.Submit(TaskSpec{Steps: []Step{{ID: "echo", Action: "test:echo"}}}, nil, "")
	time.Sleep(20 * time.Millisecond)
	got, err := store.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status, "concurrency limit holds the second task")

	require.NoError(t, store.Cancel(blocking.ID))
	waitStatus(t, store, blocking.ID, StatusCancelled)
	waitStatus(t, store, queued.ID, StatusCompleted)

	assert.ErrorIs(t, store.Cancel(blocking.ID), ErrTaskFinished)
	assert.ErrorIs(t, store.Cancel("missing"), ErrTaskNotFound)
}

func TestRunnerExposesSecrets(t *testing.T) {
	runner, store, _ := newTestRunner(t, 1)
	task := runner.Submit(TaskSpec{
		Steps:  []Step{{ID: "s", Action: "test:echo", Input: map[string]interface{}{"value": "${{ secrets.token }}"}}},
		Output: map[string]interface{}{"token": "${{ steps.s.output.value }}"},
	}, map[string]string{"token": "t0k"}, "")
	done := waitStatus(t, store, task.ID, StatusCompleted)
	assert.Equal(t, "t0k", done.Output["token"])
	assert.Nil(t, store.secrets(task.ID), "secrets are dropped once the task finishes")
}

func TestTaskStoreEvents(t *testing.T) {
	store := NewTaskStore()
	store.Create("a", TaskSpec{}, nil, "")

	events, notify, err := store.Events("a", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	store.AppendLog("a", "s1", "first")
	select {
	case <-notify:
	default:
		t.Fatal("notify channel not closed by a new event")
	}
	store.AppendLog("a", "", "second")
	require.NoError(t, store.Complete("a", StatusCompleted, map[string]interface{}{"k": "v"}, nil))

	events, _, err = store.Events("a", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "s1", events[0].Body["stepId"])
	assert.NotContains(t, events[1].Body, "stepId")

	tail, _, err := store.Events("a", events[1].ID)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, EventCompletion, tail[0].Type)

	assert.ErrorIs(t, store.Complete("a", StatusFailed, nil, nil), ErrTaskFinished)
	assert.ErrorIs(t, store.SetStatus("a", StatusProcessing), ErrTaskFinished)
	_, _, err = store.Events("missing", 0)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStoreList(t *testing.T) {
	store := NewTaskStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	store.Create("old", TaskSpec{}, nil, "user:default/jane")
	store.Create("new", TaskSpec{}, nil, "user:default/joe")

	all := store.List("")
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)

	mine := store.List("user:default/jane")
	require.Len(t, mine, 1)
	assert.Equal(t, "old", mine[0].ID)
}

func TestTaskStoreEvictsFinishedTasks(t *testing.T) {
	store := NewTaskStore()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	store.SetRetention(Retention{MaxAge: time.Hour, MaxFinished: 2})

	finish := func(id string) {
		store.Create(id, TaskSpec{}, nil, "")
		require.NoError(t, store.Complete(id, StatusCompleted, nil, nil))
		clock = clock.Add(time.Minute)
	}

	store.Create("running", TaskSpec{}, nil, "")
	finish("a")
	finish("b")
	finish("c")

	_, err := store.Get("a")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	for _, id := range []string{"running", "b", "c"} {
		_, err := store.Get(id)
		assert.NoError(t, err, id)
	}

	clock = clock.Add(2 * time.Hour)
	store.Create("fresh", TaskSpec{}, nil, "")

	ids := make([]string, 0, 2)
	for _, task := range store.List("") {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{"running", "fresh"}, ids)
}

func TestTaskStoreRetentionDisabled(t *testing.T) {
	store := NewTaskStore()
	store.SetRetention(Retention{})
	for _, id := range []string{"a", "b", "c"} {
		store.Create(id, TaskSpec{}, nil, "")
		require.NoError(t, store.Complete(id, StatusFailed, nil, nil))
	}
	assert.Len(t, store.List(""), 3)
}
