package handover

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// A3Config is the event A3 report configuration (TS 36.331 Section 5.5.4.4).
type A3Config struct {
	// OffsetDB is the a3-Offset: how much better the neighbour must be.
	OffsetDB float64

	// HysteresisDB is added to the entering condition.
	HysteresisDB float64

	// TimeToTrigger is how long the entering condition must hold for the
	// same neighbour before a handover is decided. Zero decides on the
	// first satisfying report.
	TimeToTrigger time.Duration
}

// DefaultA3Config returns the default report configuration.
func DefaultA3Config() A3Config {
	return A3Config{
		OffsetDB:      3,
		HysteresisDB:  1,
		TimeToTrigger: 40 * time.Millisecond,
	}
}

// MeasConfig returns the measurement configuration sent to terminals.
func (c A3Config) MeasConfig() rrc.MeasConfig {
	return rrc.MeasConfig{
		MeasID:        1,
		A3OffsetDB:    c.OffsetDB,
		HysteresisDB:  c.HysteresisDB,
		TimeToTrigger: c.TimeToTrigger,
	}
}

type trackKey struct {
	cellID uint16
	imsi   uint64
}

// candidate is the neighbour currently satisfying the entering condition.
type candidate struct {
	cellID uint16
	since  time.Time
}

// A3Decider implements rrc.HandoverDecider with the A3 entering condition
// Mn > Ms + Off + Hys held for TimeToTrigger.
type A3Decider struct {
	cfg      A3Config
	dampener *Dampener

	mu      sync.Mutex
	pending map[trackKey]candidate

	now    func() time.Time
	logger *slog.Logger
}

var _ rrc.HandoverDecider = (*A3Decider)(nil)

// A3Option configures optional A3Decider parameters.
type A3Option func(*A3Decider)

// WithDampener suppresses ping-pong decisions through d.
func WithDampener(d *Dampener) A3Option {
	return func(a *A3Decider) {
		a.dampener = d
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) A3Option {
	return func(a *A3Decider) {
		a.now = now
	}
}

// NewA3Decider creates a decider with cfg.
func NewA3Decider(cfg A3Config, logger *slog.Logger, opts ...A3Option) *A3Decider {
	a := &A3Decider{
		cfg:     cfg,
		pending: make(map[trackKey]candidate),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "handover.a3")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Evaluate processes one measurement report of imsi served by cellID.
func (a *A3Decider) Evaluate(cellID uint16, imsi uint64, report rrc.MeasurementReport) (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := trackKey{cellID: cellID, imsi: imsi}
	best, ok := a.bestNeighbour(cellID, report)
	if !ok {
		delete(a.pending, key)
		return 0, false
	}

	now := a.now()
	cand, tracked := a.pending[key]
	if !tracked || cand.cellID != best {
		cand = candidate{cellID: best, since: now}
		a.pending[key] = cand
	}
	if now.Sub(cand.since) < a.cfg.TimeToTrigger {
		return 0, false
	}
	delete(a.pending, key)

	if a.dampener != nil && a.dampener.ShouldSuppress(imsi) {
		a.logger.Info("handover decision suppressed",
			slog.Uint64("cell_id", uint64(cellID)),
			slog.Uint64("imsi", imsi),
			slog.Uint64("target_cell", uint64(best)),
		)
		return 0, false
	}

	a.logger.Debug("a3 entering condition held",
		slog.Uint64("cell_id", uint64(cellID)),
		slog.Uint64("imsi", imsi),
		slog.Uint64("target_cell", uint64(best)),
		slog.Duration("held", now.Sub(cand.since)),
	)
	return best, true
}

// Forget drops the time-to-trigger state of imsi in cellID.
func (a *A3Decider) Forget(cellID uint16, imsi uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.pending, trackKey{cellID: cellID, imsi: imsi})
}

// bestNeighbour returns the strongest neighbour satisfying the entering
// condition. Caller must hold a.mu.
func (a *A3Decider) bestNeighbour(cellID uint16, report rrc.MeasurementReport) (uint16, bool) {
	threshold := report.ServingRsrpDBm + a.cfg.OffsetDB + a.cfg.HysteresisDB

	var (
		best     uint16
		bestRsrp float64
		found    bool
	)
	for _, n := range report.Neighbours {
		if n.CellID == cellID || n.RsrpDBm <= threshold {
			continue
		}
		if !found || n.RsrpDBm > bestRsrp {
			best, bestRsrp, found = n.CellID, n.RsrpDBm, true
		}
	}
	return best, found
}
