package config_test

import (
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/gorrc/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":50061" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":50061")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}

	if cfg.RRC.SrsPeriodicity != 40 {
		t.Errorf("RRC.SrsPeriodicity = %d, want 40", cfg.RRC.SrsPeriodicity)
	}

	if cfg.RRC.BearerPolicy != "loss_rate_based" {
		t.Errorf("RRC.BearerPolicy = %q, want loss_rate_based", cfg.RRC.BearerPolicy)
	}

	timers := cfg.RRC.Timers
	want := config.TimersConfig{
		ConnectionRequest:  15 * time.Millisecond,
		ConnectionSetup:    150 * time.Millisecond,
		ConnectionRejected: 30 * time.Millisecond,
		HandoverJoining:    200 * time.Millisecond,
		HandoverLeaving:    500 * time.Millisecond,
		PathSwitch:         3 * time.Second,
	}
	if timers != want {
		t.Errorf("RRC.Timers = %+v, want %+v", timers, want)
	}

	if cfg.X2.Mode != config.X2ModeLocal || cfg.Core.Mode != config.CoreModeLoopback {
		t.Errorf("modes = %s/%s, want local/loopback", cfg.X2.Mode, cfg.Core.Mode)
	}

	if len(cfg.Cells) != 1 || cfg.Cells[0].ID != 1 {
		t.Errorf("Cells = %+v, want one cell with id 1", cfg.Cells)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":60000"
log:
  level: "debug"
  format: "text"
rrc:
  srs_periodicity: 80
  default_transmission_mode: 2
  bearer_policy: always_lossless
  transport: real
  admission:
    max_contexts: 100
  timers:
    connection_setup: "300ms"
handover:
  enabled: false
  a3_offset_db: 2.5
  dampening:
    enabled: true
    half_life: "10s"
x2:
  mode: udp
  dscp: 46
core:
  mode: pfcp
  pfcp:
    upf_addr: "192.0.2.50"
    node_id: "192.0.2.1"
cells:
  - id: 1
    x2_addr: "192.0.2.1:36422"
    gtpu_addr: "192.0.2.1"
    neighbours: [2, 3]
peers:
  - id: 2
    x2_addr: "192.0.2.2"
scenario: /etc/gorrc/scenario.yml
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":60000" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":60000")
	}

	if cfg.RRC.SrsPeriodicity != 80 || cfg.RRC.DefaultTransmissionMode != 2 {
		t.Errorf("RRC = %+v", cfg.RRC)
	}

	if cfg.RRC.Transport != "real" || cfg.RRC.Admission.MaxContexts != 100 {
		t.Errorf("RRC transport/admission = %q/%d", cfg.RRC.Transport, cfg.RRC.Admission.MaxContexts)
	}

	if cfg.RRC.Timers.ConnectionSetup != 300*time.Millisecond {
		t.Errorf("Timers.ConnectionSetup = %v, want 300ms", cfg.RRC.Timers.ConnectionSetup)
	}

	// Timers not in the file keep their defaults.
	if cfg.RRC.Timers.HandoverJoining != 200*time.Millisecond {
		t.Errorf("Timers.HandoverJoining = %v, want default 200ms", cfg.RRC.Timers.HandoverJoining)
	}

	if cfg.Handover.Enabled || cfg.Handover.A3OffsetDB != 2.5 {
		t.Errorf("Handover = %+v", cfg.Handover)
	}

	if !cfg.Handover.Dampening.Enabled || cfg.Handover.Dampening.HalfLife != 10*time.Second {
		t.Errorf("Dampening = %+v", cfg.Handover.Dampening)
	}

	if cfg.X2.Mode != config.X2ModeUDP || cfg.X2.DSCP != 46 {
		t.Errorf("X2 = %+v", cfg.X2)
	}

	if cfg.Core.PFCP.UPFAddr != "192.0.2.50" || cfg.Core.PFCP.Timeout != 2*time.Second {
		t.Errorf("Core.PFCP = %+v", cfg.Core.PFCP)
	}

	if len(cfg.Cells) != 1 || len(cfg.Cells[0].Neighbours) != 2 || cfg.Cells[0].Neighbours[1] != 3 {
		t.Fatalf("Cells = %+v", cfg.Cells)
	}

	gtpu, err := cfg.Cells[0].GTPUAddrPort()
	if err != nil || gtpu != netip.MustParseAddrPort("192.0.2.1:2152") {
		t.Errorf("cell GTPUAddrPort = %v, %v", gtpu, err)
	}

	if len(cfg.Peers) != 1 {
		t.Fatalf("Peers = %+v", cfg.Peers)
	}
	peerX2, err := cfg.Peers[0].X2AddrPort()
	if err != nil || peerX2 != netip.MustParseAddrPort("192.0.2.2:36422") {
		t.Errorf("peer X2AddrPort = %v, %v", peerX2, err)
	}
	peerU, err := cfg.Peers[0].GTPUAddrPort()
	if err != nil || peerU != netip.MustParseAddrPort("192.0.2.2:2152") {
		t.Errorf("peer GTPUAddrPort = %v, %v", peerU, err)
	}

	if cfg.Scenario != "/etc/gorrc/scenario.yml" {
		t.Errorf("Scenario = %q", cfg.Scenario)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override admin.addr and log.level.
	// Everything else should inherit from defaults, including the cell list.
	yamlContent := `
admin:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":55555" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.RRC.SrsPeriodicity != 40 {
		t.Errorf("RRC.SrsPeriodicity = %d, want default 40", cfg.RRC.SrsPeriodicity)
	}

	if cfg.Handover.TimeToTrigger != 40*time.Millisecond {
		t.Errorf("Handover.TimeToTrigger = %v, want default 40ms", cfg.Handover.TimeToTrigger)
	}

	if len(cfg.Cells) != 1 || cfg.Cells[0].ID != 1 {
		t.Errorf("Cells = %+v, want default cell 1", cfg.Cells)
	}
}

// TestLoadEnvOverrides cannot run in parallel: it sets process environment.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GORRC_ADMIN_ADDR", ":7000")
	t.Setenv("GORRC_RRC_SRS_PERIODICITY", "160")
	t.Setenv("GORRC_RRC_TIMERS_HANDOVER_JOINING", "1s")
	t.Setenv("GORRC_CORE_PFCP_NODE_ID", "gnb.example")

	path := writeTemp(t, "log:\n  level: debug\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":7000" {
		t.Errorf("Admin.Addr = %q, want :7000", cfg.Admin.Addr)
	}
	if cfg.RRC.SrsPeriodicity != 160 {
		t.Errorf("RRC.SrsPeriodicity = %d, want 160", cfg.RRC.SrsPeriodicity)
	}
	if cfg.RRC.Timers.HandoverJoining != time.Second {
		t.Errorf("Timers.HandoverJoining = %v, want 1s", cfg.RRC.Timers.HandoverJoining)
	}
	if cfg.Core.PFCP.NodeID != "gnb.example" {
		t.Errorf("Core.PFCP.NodeID = %q, want gnb.example", cfg.Core.PFCP.NodeID)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty admin addr",
			modify:  func(cfg *config.Config) { cfg.Admin.Addr = "" },
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name:    "srs periodicity 30",
			modify:  func(cfg *config.Config) { cfg.RRC.SrsPeriodicity = 30 },
			wantErr: config.ErrInvalidSrsPeriodicity,
		},
		{
			name:    "transmission mode 8",
			modify:  func(cfg *config.Config) { cfg.RRC.DefaultTransmissionMode = 8 },
			wantErr: config.ErrInvalidTransmissionMode,
		},
		{
			name:    "bearer policy",
			modify:  func(cfg *config.Config) { cfg.RRC.BearerPolicy = "sometimes" },
			wantErr: config.ErrInvalidBearerPolicy,
		},
		{
			name:    "transport",
			modify:  func(cfg *config.Config) { cfg.RRC.Transport = "carrier-pigeon" },
			wantErr: config.ErrInvalidTransport,
		},
		{
			name:    "negative timer",
			modify:  func(cfg *config.Config) { cfg.RRC.Timers.HandoverLeaving = -time.Millisecond },
			wantErr: config.ErrInvalidTimer,
		},
		{
			name:    "negative path switch timer",
			modify:  func(cfg *config.Config) { cfg.RRC.Timers.PathSwitch = -time.Second },
			wantErr: config.ErrInvalidTimer,
		},
		{
			name:    "negative max contexts",
			modify:  func(cfg *config.Config) { cfg.RRC.Admission.MaxContexts = -1 },
			wantErr: config.ErrInvalidMaxContexts,
		},
		{
			name: "dampening thresholds",
			modify: func(cfg *config.Config) {
				cfg.Handover.Dampening.Enabled = true
				cfg.Handover.Dampening.ReuseThreshold = 5
			},
			wantErr: config.ErrInvalidDampening,
		},
		{
			name:    "x2 mode",
			modify:  func(cfg *config.Config) { cfg.X2.Mode = "sctp" },
			wantErr: config.ErrInvalidX2Mode,
		},
		{
			name:    "dscp",
			modify:  func(cfg *config.Config) { cfg.X2.DSCP = 64 },
			wantErr: config.ErrInvalidDSCP,
		},
		{
			name:    "core mode",
			modify:  func(cfg *config.Config) { cfg.Core.Mode = "gtp" },
			wantErr: config.ErrInvalidCoreMode,
		},
		{
			name:    "pfcp without upf",
			modify:  func(cfg *config.Config) { cfg.Core.Mode = config.CoreModePFCP },
			wantErr: config.ErrEmptyUPFAddr,
		},
		{
			name:    "no cells",
			modify:  func(cfg *config.Config) { cfg.Cells = nil },
			wantErr: config.ErrNoCells,
		},
		{
			name:    "zero cell id",
			modify:  func(cfg *config.Config) { cfg.Cells[0].ID = 0 },
			wantErr: config.ErrInvalidCellID,
		},
		{
			name: "duplicate cell id",
			modify: func(cfg *config.Config) {
				cfg.Cells = append(cfg.Cells, config.CellConfig{ID: 1})
			},
			wantErr: config.ErrDuplicateCellID,
		},
		{
			name: "peer shadows local cell",
			modify: func(cfg *config.Config) {
				cfg.Peers = []config.PeerConfig{{ID: 1, X2Addr: "192.0.2.2"}}
			},
			wantErr: config.ErrDuplicateCellID,
		},
		{
			name: "udp cell without x2 address",
			modify: func(cfg *config.Config) {
				cfg.X2.Mode = config.X2ModeUDP
				cfg.Cells[0].GTPUAddr = "192.0.2.1"
			},
			wantErr: config.ErrEmptyEndpoint,
		},
		{
			name: "peer without address",
			modify: func(cfg *config.Config) {
				cfg.Peers = []config.PeerConfig{{ID: 2}}
			},
			wantErr: config.ErrEmptyEndpoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    netip.AddrPort
		wantErr bool
	}{
		{in: "192.0.2.1", want: netip.MustParseAddrPort("192.0.2.1:36422")},
		{in: "192.0.2.1:1000", want: netip.MustParseAddrPort("192.0.2.1:1000")},
		{in: "2001:db8::1", want: netip.MustParseAddrPort("[2001:db8::1]:36422")},
		{in: "[2001:db8::1]:9", want: netip.MustParseAddrPort("[2001:db8::1]:9")},
		{in: "enb.example", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := config.ParseEndpoint(tt.in, config.DefaultX2Port)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCellTunnelAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cell config.CellConfig
		want netip.Addr
	}{
		{name: "explicit", cell: config.CellConfig{UserPlaneAddr: "198.51.100.1", GTPUAddr: "192.0.2.1"}, want: netip.MustParseAddr("198.51.100.1")},
		{name: "from gtpu", cell: config.CellConfig{GTPUAddr: "192.0.2.1:2152"}, want: netip.MustParseAddr("192.0.2.1")},
		{name: "unset", cell: config.CellConfig{}, want: netip.IPv4Unspecified()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.cell.TunnelAddr()
			if err != nil {
				t.Fatalf("TunnelAddr: %v", err)
			}
			if got != tt.want {
				t.Errorf("TunnelAddr = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimersConfigTimeouts(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	got := cfg.RRC.Timers.Timeouts()
	if got.ConnectionRequest != 15*time.Millisecond || got.HandoverLeaving != 500*time.Millisecond {
		t.Errorf("Timeouts() = %+v", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "gorrc.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
