// Package scheduler runs the dashboard's periodic background tasks. Each task
// runs on a fixed interval and never overlaps with itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/syncboard/internal/scheduler")

// Task is a named unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the run is bounded only by Stop.
	Timeout time.Duration
	// RunOnStart triggers one run as soon as the scheduler starts.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler wraps a cron instance whose chain recovers panics and skips a
// run while the previous one is still in progress.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	onStart []string
	base    context.Context
	cancel  context.CancelFunc
	started bool
	running sync.WaitGroup
}

// New constructs an idle Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{l: logger.Sugar()}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		base:    base,
		cancel:  cancel,
	}
}

// Add registers a task. Intervals are rounded to whole seconds by cron.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.Run == nil {
		return fmt.Errorf("task %s: run func is required", task.Name)
	}
	if task.Interval < time.Second {
		return fmt.Errorf("task %s: interval must be at least 1s, got %s", task.Name, task.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[task.Name]; ok {
		return fmt.Errorf("task %s already registered", task.Name)
	}
	id, err := s.cron.AddJob("@every "+task.Interval.String(), cron.FuncJob(func() { s.execute(task) }))
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.Name, err)
	}
	s.entries[task.Name] = id
	if task.RunOnStart {
		s.onStart = append(s.onStart, task.Name)
	}
	return nil
}

// Start launches the cron loop and the run-on-start tasks. It does not block.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	names := append([]string(nil), s.onStart...)
	s.mu.Unlock()

	for _, name := range names {
		go s.Trigger(name)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.cron.Entries())))
}

// Trigger runs a task immediately through the same chain as scheduled runs,
// so it is skipped when the task is already running. It reports whether the
// task exists.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return false
	}
	entry.WrappedJob.Run()
	return true
}

// Stop cancels in-flight runs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) execute(task Task) {
	s.running.Add(1)
	defer s.running.Done()

	ctx := s.base
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "scheduler."+task.Name)
	defer span.End()

	start := time.Now()
	err := task.Run(ctx)
	metrics.ObserveTask(task.Name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("task failed", zap.String("task", task.Name), zap.Error(err))
	}
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
