package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// subscriberBuffer is the per-watcher channel capacity. A watcher that
// falls this far behind loses events rather than stalling the others.
const subscriberBuffer = 64

// ErrNoBroadcaster indicates that the server was built without an event
// source.
var ErrNoBroadcaster = errors.New("event stream not configured")

// Broadcaster fans the StateChanges channels of every cell out to any
// number of WatchEvents subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan rrc.StateChange
	next   uint64
	logger *slog.Logger
}

// NewBroadcaster creates an idle broadcaster. Run feeds it.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[uint64]chan rrc.StateChange),
		logger: logger.With(slog.String("component", "server.events")),
	}
}

// Run consumes every source until ctx is cancelled, then closes all
// subscriber channels.
func (b *Broadcaster) Run(ctx context.Context, sources ...<-chan rrc.StateChange) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return nil
				case ev := <-src:
					b.publish(ev)
				}
			}
		})
	}
	err := g.Wait()

	b.mu.Lock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	return err
}

// Subscribe registers a watcher. The returned function unregisters it and
// must be called exactly once.
func (b *Broadcaster) Subscribe() (<-chan rrc.StateChange, func()) {
	ch := make(chan rrc.StateChange, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Subscribers returns the number of registered watchers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) publish(ev rrc.StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("event dropped for slow watcher",
				slog.Uint64("subscriber", id),
				slog.Uint64("cell_id", uint64(ev.CellID)),
				slog.Uint64("rnti", uint64(ev.Rnti)),
			)
		}
	}
}
