// Package eventloop runs tasks one at a time on a single goroutine.
//
// Everything the loader mutates lives on this goroutine. Other goroutines
// hand work over with Submit or Do; code already on the loop schedules work
// for a later turn with Post or After.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("eventloop: already running")

	// ErrStopped is returned when work is submitted after the loop exited.
	ErrStopped = errors.New("eventloop: stopped")
)

// Loop is a FIFO task queue drained by the goroutine that calls Run.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool
	turns   atomic.Uint64
}

// New creates a Loop. It does nothing until Run is called.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger.With("component", "eventloop"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled. Tasks still queued at that
// point are discarded and later submissions fail with ErrStopped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			if dropped > 0 {
				l.logger.Debug("discarding queued tasks", "count", dropped)
			}
			return nil
		case <-l.wake:
		}

		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		l.turns.Add(1)
		for _, fn := range batch {
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Submit queues fn to run on the loop. Safe from any goroutine.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Post queues fn for a later turn. Tasks posted while the loop is running a
// batch wait for the next batch, so fn never runs inside the caller.
func (l *Loop) Post(fn func()) {
	if err := l.Submit(fn); err != nil {
		l.logger.Debug("dropping posted task", "error", err)
	}
}

// After posts fn once d has elapsed. The returned timer may be stopped to
// cancel it.
func (l *Loop) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The task may have run in the final batch.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Turns reports how many batches the loop has drained.
func (l *Loop) Turns() uint64 { return l.turns.Load() }

// Delayed returns a poster that defers every task by d. A zero delay posts
// to the next turn.
func (l *Loop) Delayed(d time.Duration) Poster {
	if d <= 0 {
		return l
	}
	return delayed{loop: l, d: d}
}

// Poster schedules a task on a later turn.
type Poster interface {
	Post(fn func())
}

type delayed struct {
	loop *Loop
	d    time.Duration
}

func (p delayed) Post(fn func()) { p.loop.After(p.d, fn) }
