package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoListeners indicates that Run was called without any listeners.
var ErrNoListeners = errors.New("receiver run: no listeners provided")

// Handler consumes received datagrams. The buffer is only valid for the
// duration of the call.
type Handler interface {
	HandleDatagram(plane Plane, b []byte, meta PacketMeta) error
}

// Receiver reads datagrams from one or more Listeners and hands them to a
// Handler.
type Receiver struct {
	handler Handler
	logger  *slog.Logger
}

// NewReceiver creates a Receiver that routes datagrams to handler.
func NewReceiver(handler Handler, logger *slog.Logger) *Receiver {
	return &Receiver{
		handler: handler,
		logger:  logger.With(slog.String("component", "netio.receiver")),
	}
}

// Run reads from all listeners concurrently until ctx is cancelled. The
// listeners are closed on cancellation to unblock pending reads.
//
// Errors from individual datagrams are logged but do not stop the
// receiver.
func (r *Receiver) Run(ctx context.Context, listeners ...*Listener) error {
	if len(listeners) == 0 {
		return fmt.Errorf("receiver: %w", ErrNoListeners)
	}

	stop := context.AfterFunc(ctx, func() {
		for _, ln := range listeners {
			if err := ln.Close(); err != nil {
				r.logger.Debug("close listener", slog.String("error", err.Error()))
			}
		}
	})
	defer stop()

	done := make(chan struct{}, len(listeners))

	for _, ln := range listeners {
		go func(l *Listener) {
			r.recvLoop(ctx, l)
			done <- struct{}{}
		}(ln)
	}

	for range len(listeners) {
		<-done
	}

	return nil
}

// recvLoop reads datagrams from a single Listener until ctx is cancelled
// or the socket is closed.
func (r *Receiver) recvLoop(ctx context.Context, ln *Listener) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := r.recvOne(ctx, ln); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSocketClosed) || errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn("recv error",
				slog.String("plane", ln.Plane().String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recvOne performs a single receive-handle cycle.
func (r *Receiver) recvOne(ctx context.Context, ln *Listener) error {
	buf, meta, err := ln.Recv(ctx)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	defer ln.Release(buf)

	if err := r.handler.HandleDatagram(ln.Plane(), buf, meta); err != nil {
		r.logger.Debug("datagram dropped",
			slog.String("plane", ln.Plane().String()),
			slog.String("src", meta.Src.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
