package rrcmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gorrc"
	subsystem = "rrc"
)

// Label names for RRC metrics.
const (
	labelCellID    = "cell_id"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelState     = "state"
	labelTimer     = "timer"
	labelPool      = "pool"
	labelReason    = "reason"
	labelRole      = "role"
	labelOutcome   = "outcome"
	labelPeerCell  = "peer_cell"
	labelMessage   = "message"
)

// -------------------------------------------------------------------------
// Collector -- Prometheus RRC Metrics
// -------------------------------------------------------------------------

// Collector holds all RRC Prometheus metrics. It implements
// rrc.MetricsReporter.
type Collector struct {
	// Contexts tracks the number of live terminal contexts per cell.
	Contexts *prometheus.GaugeVec

	// DataBearers tracks the number of data radio bearers per cell.
	DataBearers *prometheus.GaugeVec

	// StateTransitions counts context FSM transitions.
	StateTransitions *prometheus.CounterVec

	// Timeouts counts guard timer expiries by timer kind.
	Timeouts *prometheus.CounterVec

	// InvalidTransitions counts events rejected by the FSM, labeled with
	// the state the context was in.
	InvalidTransitions *prometheus.CounterVec

	// Exhaustions counts identifier pool exhaustion failures.
	Exhaustions *prometheus.CounterVec

	// AdmissionRejects counts refused connection requests and handovers.
	AdmissionRejects *prometheus.CounterVec

	// Handovers counts X2 handover procedure milestones per role.
	Handovers *prometheus.CounterVec

	// X2MessagesSent counts X2 messages written to the network per peer.
	X2MessagesSent *prometheus.CounterVec

	// X2MessagesReceived counts X2 messages read from the network per peer.
	X2MessagesReceived *prometheus.CounterVec

	// X2MessagesDropped counts undecodable or undeliverable X2 messages.
	X2MessagesDropped *prometheus.CounterVec
}

var _ rrc.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all RRC metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Contexts,
		c.DataBearers,
		c.StateTransitions,
		c.Timeouts,
		c.InvalidTransitions,
		c.Exhaustions,
		c.AdmissionRejects,
		c.Handovers,
		c.X2MessagesSent,
		c.X2MessagesReceived,
		c.X2MessagesDropped,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	cellLabels := []string{labelCellID}
	x2Labels := []string{labelCellID, labelPeerCell, labelMessage}

	return &Collector{
		Contexts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "contexts",
			Help:      "Number of live terminal contexts.",
		}, cellLabels),

		DataBearers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "data_bearers",
			Help:      "Number of data radio bearers across all contexts.",
		}, cellLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total terminal context FSM state transitions.",
		}, []string{labelCellID, labelFromState, labelToState}),

		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "timeouts_total",
			Help:      "Total guard timer expiries.",
		}, []string{labelCellID, labelTimer}),

		InvalidTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invalid_transitions_total",
			Help:      "Total events rejected because the context state does not accept them.",
		}, []string{labelCellID, labelState}),

		Exhaustions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resource_exhaustions_total",
			Help:      "Total identifier pool exhaustion failures.",
		}, []string{labelCellID, labelPool}),

		AdmissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "admission_rejects_total",
			Help:      "Total refused connection requests and handover admissions.",
		}, []string{labelCellID, labelReason}),

		Handovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handovers_total",
			Help:      "Total X2 handover milestones by role and outcome.",
		}, []string{labelCellID, labelRole, labelOutcome}),

		X2MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "x2",
			Name:      "messages_sent_total",
			Help:      "Total X2 messages transmitted.",
		}, x2Labels),

		X2MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "x2",
			Name:      "messages_received_total",
			Help:      "Total X2 messages received.",
		}, x2Labels),

		X2MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "x2",
			Name:      "messages_dropped_total",
			Help:      "Total X2 messages dropped on decode or delivery failure.",
		}, x2Labels),
	}
}

func cellLabel(cellID uint16) string {
	return strconv.FormatUint(uint64(cellID), 10)
}

// -------------------------------------------------------------------------
// Context Lifecycle
// -------------------------------------------------------------------------

// RegisterContext increments the live contexts gauge of the cell.
func (c *Collector) RegisterContext(cellID uint16) {
	c.Contexts.WithLabelValues(cellLabel(cellID)).Inc()
}

// UnregisterContext decrements the live contexts gauge of the cell.
func (c *Collector) UnregisterContext(cellID uint16) {
	c.Contexts.WithLabelValues(cellLabel(cellID)).Dec()
}

// SetDataBearers sets the data bearer gauge of the cell.
func (c *Collector) SetDataBearers(cellID uint16, n int) {
	c.DataBearers.WithLabelValues(cellLabel(cellID)).Set(float64(n))
}

// -------------------------------------------------------------------------
// FSM
// -------------------------------------------------------------------------

// RecordStateTransition increments the transition counter with the old and
// new state labels.
func (c *Collector) RecordStateTransition(cellID uint16, from, to rrc.State) {
	c.StateTransitions.WithLabelValues(cellLabel(cellID), from.String(), to.String()).Inc()
}

// IncTimeout counts a guard timer expiry.
func (c *Collector) IncTimeout(cellID uint16, kind rrc.TimerKind) {
	c.Timeouts.WithLabelValues(cellLabel(cellID), kind.String()).Inc()
}

// IncInvalidTransition counts an event refused in state.
func (c *Collector) IncInvalidTransition(cellID uint16, state rrc.State) {
	c.InvalidTransitions.WithLabelValues(cellLabel(cellID), state.String()).Inc()
}

// -------------------------------------------------------------------------
// Resources and Admission
// -------------------------------------------------------------------------

// IncExhaustion counts an allocation failure of pool.
func (c *Collector) IncExhaustion(cellID uint16, pool string) {
	c.Exhaustions.WithLabelValues(cellLabel(cellID), pool).Inc()
}

// IncAdmissionReject counts a refused admission.
func (c *Collector) IncAdmissionReject(cellID uint16, reason string) {
	c.AdmissionRejects.WithLabelValues(cellLabel(cellID), reason).Inc()
}

// IncHandover counts a handover milestone.
func (c *Collector) IncHandover(cellID uint16, role, outcome string) {
	c.Handovers.WithLabelValues(cellLabel(cellID), role, outcome).Inc()
}

// -------------------------------------------------------------------------
// X2 Transport
// -------------------------------------------------------------------------

// IncX2Sent counts an X2 message sent from cellID to peer.
func (c *Collector) IncX2Sent(cellID, peer uint16, kind rrc.MessageKind) {
	c.X2MessagesSent.WithLabelValues(cellLabel(cellID), cellLabel(peer), kind.String()).Inc()
}

// IncX2Received counts an X2 message received by cellID from peer.
func (c *Collector) IncX2Received(cellID, peer uint16, kind rrc.MessageKind) {
	c.X2MessagesReceived.WithLabelValues(cellLabel(cellID), cellLabel(peer), kind.String()).Inc()
}

// IncX2Dropped counts an X2 message dropped by cellID.
func (c *Collector) IncX2Dropped(cellID, peer uint16, kind rrc.MessageKind) {
	c.X2MessagesDropped.WithLabelValues(cellLabel(cellID), cellLabel(peer), kind.String()).Inc()
}
