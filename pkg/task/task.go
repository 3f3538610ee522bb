// Package task runs network-triggering user actions as cancellable tasks.
// Starting a new task on a Latest cancels the one still in flight, so a
// superseded action never races the one that replaced it.
package task

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned when a later task replaced this one, or the
// runner was cancelled, before the result could be delivered.
var ErrSuperseded = errors.New("task superseded")

// Latest keeps at most one live task.
type Latest struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// begin cancels the running task and registers a new one.
func (l *Latest) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	l.cancel = cancel
	seq := l.seq
	l.mu.Unlock()
	return ctx, seq
}

// end releases the task's context if it is still the current one and
// reports whether it was.
func (l *Latest) end(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.seq {
		return false
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	return true
}

// Cancel aborts the running task, if any.
func (l *Latest) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Do runs fn as the current task.
func (l *Latest) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Run(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run runs fn as the current task of l and returns its result, or
// ErrSuperseded when another task started (or Cancel was called) first.
func Run[T any](ctx context.Context, l *Latest, fn func(context.Context) (T, error)) (T, error) {
	tctx, seq := l.begin(ctx)
	v, err := fn(tctx)
	if !l.end(seq) {
		var zero T
		return zero, ErrSuperseded
	}
	return v, err
}

// IsSuperseded reports whether err means the task lost to a newer one.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}
