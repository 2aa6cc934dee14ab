package server_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/gorrc/internal/rrc"
	"github.com/dantte-lp/gorrc/internal/server"
)

func TestBroadcasterFanOut(t *testing.T) {
	t.Parallel()

	b := server.NewBroadcaster(slog.New(slog.DiscardHandler))
	cell1 := make(chan rrc.StateChange, 1)
	cell2 := make(chan rrc.StateChange, 1)

	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, cell1, cell2) }()

	cell1 <- rrc.StateChange{CellID: 1, Rnti: 5}
	cell2 <- rrc.StateChange{CellID: 2, Rnti: 6}

	for _, ch := range []<-chan rrc.StateChange{first, second} {
		seen := map[uint16]bool{}
		for range 2 {
			select {
			case ev := <-ch:
				seen[ev.CellID] = true
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for event")
			}
		}
		if !seen[1] || !seen[2] {
			t.Errorf("seen = %v, want events of both cells", seen)
		}
	}

	cancelSecond()
	cancelSecond()
	if n := b.Subscribers(); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Run closes the remaining subscriber channels on exit.
	if _, ok := <-first; ok {
		t.Error("subscriber channel still open after Run returned")
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d after Run, want 0", n)
	}
}

func TestBroadcasterDropsForSlowWatcher(t *testing.T) {
	t.Parallel()

	b := server.NewBroadcaster(slog.New(slog.DiscardHandler))
	src := make(chan rrc.StateChange)

	slow, cancelSlow := b.Subscribe()
	defer cancelSlow()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, src) }()

	// Unbuffered source: each send completes only once Run has taken it.
	for i := range 100 {
		src <- rrc.StateChange{Rnti: uint16(i)}
	}
	cancel()
	<-done

	got := 0
	for range slow {
		got++
	}
	if got != 64 {
		t.Errorf("slow watcher received %d events, want the 64 that fit its buffer", got)
	}
}
