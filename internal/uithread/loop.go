// Package uithread provides the single goroutine that plays the role of the
// UI thread. Every task posted to a Loop runs on that goroutine, one at a
// time, in FIFO order.
//
// Tasks already run on the loop and call into loop-owned state directly;
// a task that calls Invoke waits for itself until its context ends.
package uithread

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the task buffer used when NewLoop is given zero.
const DefaultQueueSize = 256

var (
	// ErrStopped is returned when a task is submitted after Stop.
	ErrStopped = errors.New("ui loop stopped")
	// ErrQueueFull is returned when the task buffer is exhausted.
	ErrQueueFull = errors.New("ui loop queue full")
)

// Loop is a serial task queue drained by Run.
type Loop struct {
	tasks    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger

	dropped atomic.Uint64
}

// NewLoop creates a loop with room for size pending tasks.
func NewLoop(size int, logger *slog.Logger) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		tasks:  make(chan func(), size),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues fn to run on the loop without blocking. Safe to call from
// any goroutine. Tasks posted after Stop, or while the queue is full, are
// dropped; work that must not be lost goes through Send or Invoke.
func (l *Loop) Post(fn func()) {
	if err := l.enqueue(fn); err != nil {
		l.dropped.Add(1)
		if errors.Is(err, ErrQueueFull) {
			l.logger.Warn("ui task dropped", "reason", err)
		}
	}
}

func (l *Loop) enqueue(fn func()) error {
	select {
	case <-l.stopCh:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stopCh:
		return ErrStopped
	default:
		return ErrQueueFull
	}
}

// Send enqueues fn, waiting for room in the queue. It fails when ctx ends
// or the loop stops first.
func (l *Loop) Send(ctx context.Context, fn func()) error {
	select {
	case <-l.stopCh:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke runs fn on the loop and waits for it to finish. It must not be
// called from a task.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Send(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		// The task may have been the last one to run before stop.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run drains the queue until ctx is cancelled or Stop is called. It must be
// called at most once.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.tasks:
			l.runTask(fn)
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		}
	}
}

// Stop ends Run. Pending tasks are discarded. Stop is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Dropped returns the number of tasks discarded by Post.
func (l *Loop) Dropped() uint64 { return l.dropped.Load() }

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("ui task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
