// Package eventloop provides a serial mailbox for callbacks into an RRC
// Controller.
//
// Collaborators are invoked while the Controller holds its lock. Any answer
// they produce (an X2 reply, a path switch acknowledgement, a terminal's
// response) must reach the Controller later, not from inside the call. They
// Post a closure here and return; a single goroutine running Run executes
// the closures one at a time in posting order.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed indicates a Post after the loop stopped.
var ErrClosed = errors.New("event loop closed")

// Loop is an unbounded FIFO of closures executed by one goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}

	logger *slog.Logger
}

// New creates an idle loop.
func New(logger *slog.Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger.With(slog.String("component", "eventloop")),
	}
}

// Post enqueues f. It never blocks and never runs f on the caller's
// goroutine.
func (l *Loop) Post(f func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued closures.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run executes queued closures until ctx is cancelled. Closures still queued
// at cancellation are discarded and later Posts fail with ErrClosed.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()

	for {
		l.Drain()

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Drain runs queued closures on the calling goroutine until the queue is
// empty, including closures posted while draining. It returns the number of
// closures executed. Drain must not run concurrently with Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		f := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(f)
		n++
	}
}

func (l *Loop) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop callback panicked", slog.Any("panic", r))
		}
	}()
	f()
}

func (l *Loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.queue); n > 0 {
		l.logger.Debug("discarding queued callbacks", slog.Int("pending", n))
	}
	l.closed = true
	l.queue = nil
}
