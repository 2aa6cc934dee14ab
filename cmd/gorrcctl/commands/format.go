package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gorrc/internal/server"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatContexts renders a slice of contexts in the requested format.
func formatContexts(contexts []server.ContextView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(contexts)
	case formatYAML:
		return marshalYAML(contexts)
	case formatTable:
		return formatContextsTable(contexts)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatContext renders a single context in the requested format.
func formatContext(c server.ContextView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(c)
	case formatYAML:
		return marshalYAML(c)
	case formatTable:
		return formatContextDetail(c)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatEvent renders a context event in the requested format.
func formatEvent(ev server.EventView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.Marshal(ev)
		if err != nil {
			return "", fmt.Errorf("marshal event to JSON: %w", err)
		}
		return string(data), nil
	case formatYAML:
		return marshalYAML(ev)
	case formatTable:
		return formatEventLine(ev), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatContextsTable(contexts []server.ContextView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CELL\tRNTI\tIMSI\tSTATE\tBEARERS\tHANDOVER")

	for _, c := range contexts {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\n",
			c.CellID,
			c.Rnti,
			imsiString(c.Imsi),
			c.State,
			len(c.Bearers),
			handoverSummary(c.Handover),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatContextDetail(c server.ContextView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Cell:\t%d\n", c.CellID)
	fmt.Fprintf(w, "RNTI:\t%d\n", c.Rnti)
	fmt.Fprintf(w, "IMSI:\t%s\n", imsiString(c.Imsi))
	fmt.Fprintf(w, "State:\t%s\n", c.State)
	fmt.Fprintf(w, "Transaction:\t%d\n", c.TransactionID)
	fmt.Fprintf(w, "SRS Config Index:\t%d\n", c.SrsConfigIndex)
	fmt.Fprintf(w, "Transmission Mode:\tTM%d\n", c.TransmissionMode+1)
	fmt.Fprintf(w, "Pending Reconfiguration:\t%t\n", c.PendingReconfiguration)
	fmt.Fprintf(w, "Created:\t%s\n", timeString(c.CreatedAt))
	fmt.Fprintf(w, "Last State Change:\t%s\n", timeString(c.LastStateChange))

	if h := c.Handover; h != nil {
		fmt.Fprintf(w, "Handover:\t%s %d -> %d (target rnti %d, id %s)\n",
			h.Role, h.SourceCellID, h.TargetCellID, h.TargetRnti, h.ID)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	if len(c.Bearers) == 0 {
		return buf.String(), nil
	}

	buf.WriteString("\n")
	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DRB\tE-RAB\tQCI\tLCID\tRLC\tS1-TEID\tFWD-TEID\tBUFFERED")
	for _, b := range c.Bearers {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%#08x\t%s\t%d\n",
			b.DrbID, b.ErabID, b.Qci, b.LogicalChannelID, b.Mode,
			b.GtpTeid, teidString(b.ForwardingTeid), b.Buffered)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatEventLine(ev server.EventView) string {
	line := fmt.Sprintf("[%s] %s  cell=%d  rnti=%d  imsi=%s  %s -> %s",
		timeString(ev.Timestamp),
		ev.Kind,
		ev.CellID,
		ev.Rnti,
		imsiString(ev.Imsi),
		ev.OldState,
		ev.NewState,
	)
	if ev.Reason != "" {
		line += "  reason=" + strconv.Quote(ev.Reason)
	}
	return line
}

// --- Encoders ---

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal to YAML: %w", err)
	}
	return string(data), nil
}

// --- Value helpers ---

func imsiString(imsi uint64) string {
	if imsi == 0 {
		return valueNA
	}
	return strconv.FormatUint(imsi, 10)
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return valueNA
	}
	return t.Format(time.RFC3339)
}

func teidString(teid uint32) string {
	if teid == 0 {
		return "-"
	}
	return fmt.Sprintf("%#08x", teid)
}

func handoverSummary(h *server.HandoverView) string {
	if h == nil {
		return "-"
	}
	return fmt.Sprintf("%s %d->%d", h.Role, h.SourceCellID, h.TargetCellID)
}
