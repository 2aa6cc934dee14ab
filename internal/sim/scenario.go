package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Scenario actions.
const (
	ActionAttach        = "attach"
	ActionBearer        = "bearer"
	ActionReleaseBearer = "release_bearer"
	ActionMeasure       = "measure"
	ActionHandover      = "handover"
	ActionDetach        = "detach"
)

// Reported signal strengths of a measure step. The neighbour is reported
// well above the serving cell so that an A3 decider fires.
const (
	measureServingDBm   = -100.0
	measureNeighbourDBm = -85.0
)

// ErrInvalidScenario indicates a scenario step that cannot be executed.
var ErrInvalidScenario = errors.New("invalid scenario")

// Step is one scripted action. After is the delay since the previous step.
type Step struct {
	After  time.Duration `yaml:"after"`
	Action string        `yaml:"action"`
	Imsi   uint64        `yaml:"imsi"`
	Cell   uint16        `yaml:"cell"`
	Target uint16        `yaml:"target"`
	Qci    uint8         `yaml:"qci"`
	Erab   uint8         `yaml:"erab"`
}

// Scenario is an ordered list of steps.
type Scenario struct {
	Steps []Step `yaml:"steps"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := ParseScenario(b)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(b []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every step names a known action and carries the
// fields it needs.
func (s *Scenario) Validate() error {
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (st Step) validate() error {
	if st.Imsi == 0 {
		return fmt.Errorf("%w: %s without imsi", ErrInvalidScenario, st.Action)
	}
	if st.After < 0 {
		return fmt.Errorf("%w: negative delay %s", ErrInvalidScenario, st.After)
	}

	switch st.Action {
	case ActionAttach:
		if st.Cell == 0 {
			return fmt.Errorf("%w: attach without cell", ErrInvalidScenario)
		}
	case ActionBearer:
		if st.Erab == 0 || st.Qci == 0 {
			return fmt.Errorf("%w: bearer needs erab and qci", ErrInvalidScenario)
		}
	case ActionReleaseBearer:
		if st.Erab == 0 {
			return fmt.Errorf("%w: release_bearer without erab", ErrInvalidScenario)
		}
	case ActionMeasure, ActionHandover:
		if st.Target == 0 {
			return fmt.Errorf("%w: %s without target", ErrInvalidScenario, st.Action)
		}
	case ActionDetach:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidScenario, st.Action)
	}
	return nil
}

// -------------------------------------------------------------------------
// Runner
// -------------------------------------------------------------------------

// Runner executes scenarios against a Network.
type Runner struct {
	network *Network
	gateway netip.Addr
	logger  *slog.Logger
}

// RunnerOption configures optional Runner parameters.
type RunnerOption func(*Runner)

// WithGateway sets the uplink tunnel endpoint announced for bearers.
func WithGateway(addr netip.Addr) RunnerOption {
	return func(r *Runner) {
		r.gateway = addr
	}
}

// NewRunner creates a runner acting on network.
func NewRunner(network *Network, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		network: network,
		gateway: netip.IPv4Unspecified(),
		logger:  logger.With(slog.String("component", "sim.scenario")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the steps in order, waiting each step's delay first. It
// stops at the first failing step or when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, sc *Scenario) error {
	for i, st := range sc.Steps {
		if st.After > 0 {
			timer := time.NewTimer(st.After)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := r.Execute(st); err != nil {
			return fmt.Errorf("step %d (%s imsi %d): %w", i, st.Action, st.Imsi, err)
		}
		r.logger.Debug("scenario step done",
			slog.Int("step", i),
			slog.String("action", st.Action),
			slog.Uint64("imsi", st.Imsi),
		)
	}

	r.logger.Info("scenario finished", slog.Int("steps", len(sc.Steps)))
	return nil
}

// Execute performs one step immediately.
func (r *Runner) Execute(st Step) error {
	if err := st.validate(); err != nil {
		return err
	}
	if st.Action == ActionAttach {
		return r.network.Attach(st.Imsi, st.Cell)
	}
	if st.Action == ActionMeasure {
		return r.network.Measure(st.Imsi, measureServingDBm, []rrc.NeighbourMeasurement{
			{CellID: st.Target, RsrpDBm: measureNeighbourDBm},
		})
	}

	t, ok := r.network.Terminal(st.Imsi)
	if !ok {
		return fmt.Errorf("imsi %d: %w", st.Imsi, ErrUnknownTerminal)
	}
	if t.State != TerminalConnected {
		return fmt.Errorf("imsi %d in %s: %w", st.Imsi, t.State, ErrNotConnected)
	}
	cell, ok := r.network.Cell(t.CellID)
	if !ok {
		return fmt.Errorf("cell %d: %w", t.CellID, ErrUnknownCell)
	}

	switch st.Action {
	case ActionBearer:
		_, err := cell.RequestBearerSetup(t.Rnti, rrc.Qos{Qci: st.Qci},
			uint32(st.Erab), uplinkTeid(st.Imsi, st.Erab), r.gateway)
		return err

	case ActionReleaseBearer:
		drb, ok := t.Drbs[st.Erab]
		if !ok {
			return fmt.Errorf("imsi %d e-rab %d: %w", st.Imsi, st.Erab, rrc.ErrUnknownBearer)
		}
		return cell.RequestBearerRelease(t.Rnti, drb)

	case ActionHandover:
		return cell.TriggerHandover(t.Rnti, st.Target)

	case ActionDetach:
		return cell.ReleaseConnection(t.Rnti)
	}
	return nil
}

// uplinkTeid derives the gateway's tunnel of an E-RAB.
func uplinkTeid(imsi uint64, erab uint8) uint32 {
	return uint32(imsi&0xffffff)<<8 | uint32(erab)
}
