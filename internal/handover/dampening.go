package handover

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Ping-pong dampening
// -------------------------------------------------------------------------
//
// Each handover decision for a subscriber adds 1 to its penalty. The penalty
// decays exponentially with the configured half-life. Above
// SuppressThreshold further decisions are suppressed until the penalty has
// decayed below ReuseThreshold or MaxSuppressTime has elapsed.

// DampeningConfig configures ping-pong dampening.
type DampeningConfig struct {
	// Enabled controls whether dampening is active. When false every
	// decision passes.
	Enabled bool

	// SuppressThreshold is the penalty at or above which decisions are
	// suppressed.
	SuppressThreshold float64

	// ReuseThreshold is the penalty below which a suppressed subscriber is
	// released. Must be less than SuppressThreshold.
	ReuseThreshold float64

	// MaxSuppressTime bounds a single suppression period.
	MaxSuppressTime time.Duration

	// HalfLife is the time for the penalty to decay by half.
	HalfLife time.Duration
}

// DefaultDampeningConfig returns the dampening defaults: suppress on the
// third handover within a few seconds.
func DefaultDampeningConfig() DampeningConfig {
	return DampeningConfig{
		Enabled:           false,
		SuppressThreshold: 3,
		ReuseThreshold:    2,
		MaxSuppressTime:   30 * time.Second,
		HalfLife:          5 * time.Second,
	}
}

// Dampener tracks handover penalties per subscriber. Safe for concurrent use.
type Dampener struct {
	cfg    DampeningConfig
	subs   map[uint64]*penalty
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

type penalty struct {
	value           float64
	lastUpdate      time.Time
	suppressed      bool
	suppressedSince time.Time
}

// DampenerOption configures optional Dampener parameters.
type DampenerOption func(*Dampener)

// WithDampenerClock sets the time source, for tests.
func WithDampenerClock(now func() time.Time) DampenerOption {
	return func(d *Dampener) {
		d.now = now
	}
}

// NewDampener creates a dampener with the given configuration.
func NewDampener(cfg DampeningConfig, logger *slog.Logger, opts ...DampenerOption) *Dampener {
	d := &Dampener{
		cfg:    cfg,
		subs:   make(map[uint64]*penalty),
		logger: logger.With(slog.String("component", "handover.dampener")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldSuppress records a handover decision for imsi and reports whether
// it must be suppressed. It always returns false when dampening is disabled.
func (d *Dampener) ShouldSuppress(imsi uint64) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	p, ok := d.subs[imsi]
	if !ok {
		p = &penalty{lastUpdate: now}
		d.subs[imsi] = p
	}
	d.decay(p, now)

	if p.suppressed {
		if now.Sub(p.suppressedSince) >= d.cfg.MaxSuppressTime || p.value < d.cfg.ReuseThreshold {
			d.unsuppress(p, imsi)
		}
	}

	p.value += 1.0
	p.lastUpdate = now

	if !p.suppressed && p.value >= d.cfg.SuppressThreshold {
		p.suppressed = true
		p.suppressedSince = now
		d.logger.Warn("subscriber suppressed due to handover ping-pong",
			slog.Uint64("imsi", imsi),
			slog.Float64("penalty", p.value),
			slog.Float64("threshold", d.cfg.SuppressThreshold),
		)
	}

	return p.suppressed
}

// Penalty returns the decayed penalty of imsi.
func (d *Dampener) Penalty(imsi uint64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.subs[imsi]
	if !ok {
		return 0
	}
	d.decay(p, d.now())
	return p.value
}

// Reset forgets imsi, e.g. when the subscriber detaches.
func (d *Dampener) Reset(imsi uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.subs, imsi)
}

// decay applies penalty = penalty * 2^(-elapsed/halfLife).
// Caller must hold d.mu.
func (d *Dampener) decay(p *penalty, now time.Time) {
	if d.cfg.HalfLife <= 0 || p.value == 0 {
		return
	}

	elapsed := now.Sub(p.lastUpdate)
	if elapsed <= 0 {
		return
	}

	p.value *= math.Pow(0.5, float64(elapsed)/float64(d.cfg.HalfLife))
	p.lastUpdate = now

	if p.value < 0.001 {
		p.value = 0
	}
}

// Caller must hold d.mu.
func (d *Dampener) unsuppress(p *penalty, imsi uint64) {
	p.suppressed = false
	p.suppressedSince = time.Time{}
	p.value = 0

	d.logger.Info("subscriber unsuppressed, handover dampening cleared",
		slog.Uint64("imsi", imsi),
	)
}
