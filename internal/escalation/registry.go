package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

type periodicTask struct {
	name     string
	interval time.Duration
	fn       Task
}

// TaskRegistry runs registered tasks on fixed intervals. Each task runs in
// its own goroutine, so a slow pass delays only its own next tick.
type TaskRegistry struct {
	log     *logrus.Entry
	timeout time.Duration

	mu      sync.Mutex
	tasks   []periodicTask
	running bool
}

// NewTaskRegistry creates a registry. A positive timeout bounds each run.
func NewTaskRegistry(log *logrus.Entry, timeout time.Duration) *TaskRegistry {
	return &TaskRegistry{log: log, timeout: timeout}
}

func (r *TaskRegistry) RegisterPeriodicTask(name string, interval time.Duration, fn Task) error {
	if name == "" || fn == nil {
		return errors.New("task name and function are required")
	}
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("task %s: registry already running", name)
	}
	for _, t := range r.tasks {
		if t.name == name {
			return fmt.Errorf("task %s already registered", name)
		}
	}
	r.tasks = append(r.tasks, periodicTask{name: name, interval: interval, fn: fn})
	return nil
}

// Run starts every task, runs each once immediately, and blocks until ctx is
// done and all in-flight runs have returned.
func (r *TaskRegistry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("registry already running")
	}
	r.running = true
	tasks := append([]periodicTask(nil), r.tasks...)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t periodicTask) {
			defer wg.Done()
			r.loop(ctx, t)
		}(t)
	}
	wg.Wait()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *TaskRegistry) loop(ctx context.Context, t periodicTask) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	r.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, t)
		}
	}
}

func (r *TaskRegistry) runOnce(ctx context.Context, t periodicTask) {
	entry := r.log.WithField("task", t.name)
	defer func() {
		if rec := recover(); rec != nil {
			entry.WithField("panic", rec).Error("Periodic task panicked")
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()
	if err := t.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		entry.WithError(err).Error("Periodic task failed")
		return
	}
	entry.WithField("duration", time.Since(started)).Debug("Periodic task completed")
}

// Task adapts the scan for a TaskRegistry.
func (t *Timer) Task() Task {
	return func(ctx context.Context) error {
		_, err := t.RunScan(ctx)
		return err
	}
}

func (m *LabMonitor) Task() Task {
	return func(ctx context.Context) error {
		_, err := m.RunScan(ctx)
		return err
	}
}
