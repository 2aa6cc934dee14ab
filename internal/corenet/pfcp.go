package corenet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// PortPFCP is the PFCP port (TS 29.244 Section 7.2).
const PortPFCP = "8805"

// Outer header creation descriptions (TS 29.244 Section 8.2.56).
const (
	outerHeaderGTPUIPv4 uint16 = 0x0100
	outerHeaderGTPUIPv6 uint16 = 0x0200
)

// applyActionForward is the FORW flag of Apply Action.
const applyActionForward uint8 = 0x02

const maxPFCPMessage = 1500

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("pfcp client is closed")

	// ErrDialFailed indicates the UDP association towards the UPF failed.
	ErrDialFailed = errors.New("pfcp dial failed")

	// ErrRequestRejected indicates the UPF answered with a cause other than
	// Request accepted.
	ErrRequestRejected = errors.New("pfcp request rejected")

	// ErrUnexpectedResponse indicates a reply of the wrong type.
	ErrUnexpectedResponse = errors.New("unexpected pfcp response")
)

// -------------------------------------------------------------------------
// PFCPClient
// -------------------------------------------------------------------------

// PFCPClientConfig holds connection parameters for the PFCP client.
type PFCPClientConfig struct {
	// UPFAddr is the UPF's PFCP address, "host" or "host:port".
	UPFAddr string

	// NodeID is the local node identity, an IPv4 address or FQDN.
	NodeID string
}

// PFCPClient redirects downlink tunnels on a user plane function with a
// Session Modification Request carrying one Update FAR per bearer. The
// session is identified by the subscriber's IMSI used as SEID.
type PFCPClient struct {
	conn   *net.UDPConn
	nodeID string
	logger *slog.Logger

	mu     sync.Mutex
	seq    uint32
	closed bool
}

var _ PathSwitcher = (*PFCPClient)(nil)

// NewPFCPClient opens a connected UDP socket towards the UPF.
func NewPFCPClient(cfg PFCPClientConfig, logger *slog.Logger) (*PFCPClient, error) {
	if cfg.UPFAddr == "" {
		return nil, fmt.Errorf("create pfcp client: %w: empty address", ErrDialFailed)
	}

	addr := cfg.UPFAddr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, PortPFCP)
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve UPF %s: %w: %w", addr, ErrDialFailed, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial UPF %s: %w: %w", addr, ErrDialFailed, err)
	}

	c := &PFCPClient{
		conn:   conn,
		nodeID: cfg.NodeID,
		logger: logger.With(
			slog.String("component", "corenet.pfcp"),
			slog.String("upf", addr),
		),
	}

	c.logger.Info("pfcp client created")

	return c, nil
}

// SwitchPath sends the modification and waits for the matching response or
// for ctx to expire.
func (c *PFCPClient) SwitchPath(ctx context.Context, req rrc.PathSwitchRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("path switch imsi %d: %w", req.Imsi, ErrClientClosed)
	}

	c.seq = (c.seq + 1) & 0xffffff
	seq := c.seq

	b, err := buildModification(req, c.nodeID, seq).Marshal()
	if err != nil {
		return fmt.Errorf("marshal session modification: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSwitchTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("send session modification: %w", err)
	}
	c.logger.Debug("sent session modification request",
		slog.Uint64("seid", req.Imsi),
		slog.Uint64("seq", uint64(seq)),
		slog.Int("far_count", len(req.Bearers)),
	)

	return c.awaitResponse(seq, req.Imsi)
}

// awaitResponse reads until the response with seq arrives. Stale responses
// of earlier, timed out exchanges are skipped.
func (c *PFCPClient) awaitResponse(seq uint32, imsi uint64) error {
	buf := make([]byte, maxPFCPMessage)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("await session modification response: %w", err)
		}

		msg, err := message.Parse(buf[:n])
		if err != nil {
			c.logger.Debug("ignoring undecodable message", slog.String("error", err.Error()))
			continue
		}

		res, ok := msg.(*message.SessionModificationResponse)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnexpectedResponse, msg.MessageTypeName())
		}
		if res.SequenceNumber != seq {
			continue
		}

		if res.Cause == nil {
			return fmt.Errorf("imsi %d: %w: missing cause", imsi, ErrRequestRejected)
		}
		cause, err := res.Cause.Cause()
		if err != nil {
			return fmt.Errorf("decode cause: %w", err)
		}
		if cause != ie.CauseRequestAccepted {
			return fmt.Errorf("imsi %d: %w: cause %d", imsi, ErrRequestRejected, cause)
		}

		c.logger.Info("downlink path switched", slog.Uint64("seid", imsi))
		return nil
	}
}

// buildModification creates the Session Modification Request pointing
// every bearer's downlink FAR at the new base station.
func buildModification(req rrc.PathSwitchRequest, nodeID string, seq uint32) *message.SessionModificationRequest {
	ies := make([]*ie.IE, 0, len(req.Bearers)+1)
	if nodeID != "" {
		ies = append(ies, nodeIDIE(nodeID))
	}

	for _, b := range req.Bearers {
		ies = append(ies, ie.NewUpdateFAR(
			ie.NewFARID(uint32(b.ErabID)),
			ie.NewApplyAction(applyActionForward),
			ie.NewUpdateForwardingParameters(
				ie.NewDestinationInterface(ie.DstInterfaceAccess),
				outerHeader(req, b.DlGtpTeid),
			),
		))
	}

	return message.NewSessionModificationRequest(0, 0, req.Imsi, seq, 0, ies...)
}

func outerHeader(req rrc.PathSwitchRequest, teid uint32) *ie.IE {
	addr := req.EnbAddr.Unmap()
	if addr.Is6() {
		return ie.NewOuterHeaderCreation(outerHeaderGTPUIPv6, teid, "", addr.String(), 0, 0, 0)
	}
	return ie.NewOuterHeaderCreation(outerHeaderGTPUIPv4, teid, addr.String(), "", 0, 0, 0)
}

func nodeIDIE(nodeID string) *ie.IE {
	if ip := net.ParseIP(nodeID); ip != nil {
		if ip.To4() != nil {
			return ie.NewNodeID(nodeID, "", "")
		}
		return ie.NewNodeID("", nodeID, "")
	}
	return ie.NewNodeID("", "", nodeID)
}

// Close releases the socket. After Close, SwitchPath returns
// ErrClientClosed.
func (c *PFCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close pfcp client: %w", err)
	}

	c.logger.Info("pfcp client closed")

	return nil
}
