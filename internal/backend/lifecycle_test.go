package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHookOrder(t *testing.T) {
	l := NewLifecycle(nil)
	var order []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		l.AddStartupHook(name, func(context.Context) error {
			order = append(order, "start:"+name)
			return nil
		})
		l.AddShutdownHook(name, func(context.Context) error {
			order = append(order, "stop:"+name)
			return nil
		})
	}

	require.NoError(t, l.Startup(context.Background()))
	require.NoError(t, l.Shutdown(context.Background()))

	assert.Equal(t, []string{
		"start:a", "start:b", "start:c",
		"stop:c", "stop:b", "stop:a",
	}, order)
}

func TestLifecycleStartupStopsAtFirstFailure(t *testing.T) {
	l := NewLifecycle(nil)
	ran := false

	l.AddStartupHook("broken", func(context.Context) error { return errors.New("boom") })
	l.AddStartupHook("after", func(context.Context) error {
		ran = true
		return nil
	})

	err := l.Startup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.False(t, ran)
}

func TestLifecycleShutdownJoinsErrors(t *testing.T) {
	l := NewLifecycle(nil)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	l.AddShutdownHook("a", func(context.Context) error { return errA })
	l.AddShutdownHook("b", func(context.Context) error { return errB })

	err := l.Shutdown(context.Background())
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	// Second shutdown is a no-op
	assert.NoError(t, l.Shutdown(context.Background()))
}

func TestLifecycleLateStartupHookRunsImmediately(t *testing.T) {
	l := NewLifecycle(nil)
	require.NoError(t, l.Startup(context.Background()))

	ran := false
	l.AddStartupHook("late", func(context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
}

func TestLifecycleFailKeepsFirstError(t *testing.T) {
	l := NewLifecycle(nil)
	l.Fail("quiet", nil)
	l.Fail("http.serve", errors.New("listener closed"))
	l.Fail("other", errors.New("later"))

	select {
	case err := <-l.Failed():
		assert.EqualError(t, err, "http.serve: listener closed")
	default:
		t.Fatal("failure was not delivered")
	}
	select {
	case err := <-l.Failed():
		t.Fatalf("unexpected second failure: %v", err)
	default:
	}
}
