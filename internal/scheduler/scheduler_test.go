package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAddValidates(t *testing.T) {
	t.Parallel()

	s := New(nil)
	noop := func(context.Context) error { return nil }
	require.Error(t, s.Add(Task{Interval: time.Second, Run: noop}))
	require.Error(t, s.Add(Task{Name: "x", Interval: time.Second}))
	require.Error(t, s.Add(Task{Name: "x", Interval: 10 * time.Millisecond, Run: noop}))
	require.NoError(t, s.Add(Task{Name: "x", Interval: time.Second, Run: noop}))
	require.Error(t, s.Add(Task{Name: "x", Interval: time.Second, Run: noop}))
}

func TestRunOnStartAndInterval(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := New(zaptest.NewLogger(t))
	require.NoError(t, s.Add(Task{
		Name:       "tick",
		Interval:   time.Second,
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 500*time.Millisecond, 10*time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestTriggerSkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var runs atomic.Int32
	s := New(zaptest.NewLogger(t))
	require.NoError(t, s.Add(Task{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}))

	go s.Trigger("slow")
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, s.Trigger("slow"))
	require.Equal(t, int32(1), runs.Load())
	close(release)

	require.False(t, s.Trigger("missing"))
}

func TestTaskErrorsAndPanicsAreContained(t *testing.T) {
	t.Parallel()

	s := New(zaptest.NewLogger(t))
	require.NoError(t, s.Add(Task{
		Name:     "fails",
		Interval: time.Hour,
		Run:      func(context.Context) error { return errors.New("boom") },
	}))
	require.NoError(t, s.Add(Task{
		Name:     "panics",
		Interval: time.Hour,
		Run:      func(context.Context) error { panic("kaboom") },
	}))
	require.True(t, s.Trigger("fails"))
	require.True(t, s.Trigger("panics"))
}

func TestStopCancelsRunningTasks(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	s := New(zaptest.NewLogger(t))
	require.NoError(t, s.Add(Task{
		Name:       "blocking",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	s.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestTaskTimeout(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	s := New(nil)
	require.NoError(t, s.Add(Task{
		Name:     "bounded",
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			got.Store(ctx.Err())
			return ctx.Err()
		},
	}))
	require.True(t, s.Trigger("bounded"))
	require.ErrorIs(t, got.Load().(error), context.DeadlineExceeded)
}
