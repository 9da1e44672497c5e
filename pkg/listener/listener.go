// Package listener runs a handler over every value arriving on a channel,
// on one background goroutine.
package listener

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Job is a background worker with an explicit lifecycle.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener calls handler for each value received on in, one at a time,
// until its context is cancelled or Stop is called. A failing handler is
// logged and the loop keeps going; answering the sender is up to the
// handler itself.
type Listener[T any] struct {
	in      <-chan T
	handler func(T) error
	onStop  func()
	logger  *slog.Logger

	handled atomic.Uint64
	failed  atomic.Uint64

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New builds a stopped Listener. onStop, if given, runs once the loop has
// exited on Stop.
func New[T any](in <-chan T, handler func(T) error, onStop ...func()) *Listener[T] {
	l := &Listener[T]{
		in:      in,
		handler: handler,
		onStop:  func() {},
		logger:  slog.Default(),
		cancel:  func() {},
	}
	if len(onStop) > 0 && onStop[0] != nil {
		l.onStop = onStop[0]
	}
	return l
}

// WithLogger replaces the logger used for handler errors.
func (l *Listener[T]) WithLogger(logger *slog.Logger) *Listener[T] {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)

	l.done.Add(1)
	go func() {
		defer l.done.Done()
		l.loop(ctx)
	}()
}

func (l *Listener[T]) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-l.in:
			l.handled.Add(1)
			if err := l.handler(v); err != nil {
				l.failed.Add(1)
				l.logger.Error("listener handler failed", "error", err)
			}
		}
	}
}

// Handled reports how many values were taken off the channel and how many
// of them the handler failed on.
func (l *Listener[T]) Handled() (total, failed uint64) {
	return l.handled.Load(), l.failed.Load()
}

// Stop cancels the loop, waits for an in-flight handler call to return and
// then runs onStop.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.done.Wait()
	l.onStop()
}
