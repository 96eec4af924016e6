// Package engine drives the order lifecycle: creation, monitoring,
// dispatch to execution, fills, and cancellation.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task runs a function on a fixed interval. A tick that arrives while the
// previous run is still in flight is skipped rather than overlapped, so a
// slow iteration never stacks. Stop suppresses future ticks but does not
// interrupt a run already in progress.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	logger   *slog.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewTask creates a named periodic task.
func NewTask(name string, interval time.Duration, fn func(ctx context.Context), logger *slog.Logger) *Task {
	return &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(slog.String("task", name)),
	}
}

// Start begins ticking. It returns immediately; the loop stops when Stop is
// called or ctx is cancelled. Calling Start on a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.stopped = make(chan struct{})

	go t.loop(runCtx)
	t.logger.Info("task started", slog.Duration("interval", t.interval))
}

// Stop suppresses future ticks and waits for an in-flight run to finish.
// Safe to call more than once.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	stopped := t.stopped
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	t.logger.Info("task stopped")
}

// RunOnce executes one iteration immediately, honoring the same in-flight
// guard as the ticker.
func (t *Task) RunOnce(ctx context.Context) bool {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.logger.Debug("skipping run, previous still in flight")
		return false
	}
	defer t.inFlight.Store(false)

	t.fn(ctx)
	return true
}

func (t *Task) loop(ctx context.Context) {
	defer close(t.stopped)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}
