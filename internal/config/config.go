// Package config manages gorrc daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Default ports of the inter-base-station interfaces.
const (
	DefaultX2Port   = 36422
	DefaultGTPUPort = 2152
)

// X2 and core network modes.
const (
	X2ModeLocal = "local"
	X2ModeUDP   = "udp"

	CoreModeLoopback = "loopback"
	CoreModePFCP     = "pfcp"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gorrc configuration.
type Config struct {
	Admin    AdminConfig    `koanf:"admin"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	RRC      RRCConfig      `koanf:"rrc"`
	Handover HandoverConfig `koanf:"handover"`
	X2       X2Config       `koanf:"x2"`
	Core     CoreConfig     `koanf:"core"`
	Cells    []CellConfig   `koanf:"cells"`
	Peers    []PeerConfig   `koanf:"peers"`

	// Scenario is the path of a YAML scenario played by the terminal
	// emulator after startup. Empty disables the emulator script.
	Scenario string `koanf:"scenario"`
}

// AdminConfig holds the ConnectRPC admin server configuration.
type AdminConfig struct {
	// Addr is the listen address (e.g., ":50061").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RRCConfig holds the cell-wide RRC parameters shared by every cell.
type RRCConfig struct {
	// SrsPeriodicity is the SRS periodicity in subframes.
	SrsPeriodicity uint16 `koanf:"srs_periodicity"`

	// DefaultTransmissionMode is 0..7 for TM1..TM8.
	DefaultTransmissionMode uint8 `koanf:"default_transmission_mode"`

	// BearerPolicy is always_lossless, always_best_effort or loss_rate_based.
	BearerPolicy string `koanf:"bearer_policy"`

	// Transport selects the RRC transport strategy: ideal or real.
	Transport string `koanf:"transport"`

	// RejectWaitTime is the wait time in RRCConnectionReject, in seconds.
	RejectWaitTime uint8 `koanf:"reject_wait_time"`

	Admission AdmissionConfig `koanf:"admission"`
	Timers    TimersConfig    `koanf:"timers"`
}

// AdmissionConfig holds the admission policy.
type AdmissionConfig struct {
	// MaxContexts limits live contexts per cell. Zero admits everything.
	MaxContexts int `koanf:"max_contexts"`
}

// TimersConfig holds the guard timer durations.
type TimersConfig struct {
	ConnectionRequest  time.Duration `koanf:"connection_request"`
	ConnectionSetup    time.Duration `koanf:"connection_setup"`
	ConnectionRejected time.Duration `koanf:"connection_rejected"`
	HandoverJoining    time.Duration `koanf:"handover_joining"`
	HandoverLeaving    time.Duration `koanf:"handover_leaving"`
	PathSwitch         time.Duration `koanf:"path_switch"`
}

// Timeouts converts the timer section into controller guard durations.
func (t TimersConfig) Timeouts() rrc.Timeouts {
	return rrc.Timeouts{
		ConnectionRequest:  t.ConnectionRequest,
		ConnectionSetup:    t.ConnectionSetup,
		ConnectionRejected: t.ConnectionRejected,
		HandoverJoining:    t.HandoverJoining,
		HandoverLeaving:    t.HandoverLeaving,
		PathSwitch:         t.PathSwitch,
	}
}

// HandoverConfig holds the measurement-driven handover parameters.
type HandoverConfig struct {
	// Enabled turns on evaluation of measurement reports.
	Enabled bool `koanf:"enabled"`

	HysteresisDB  float64       `koanf:"hysteresis_db"`
	A3OffsetDB    float64       `koanf:"a3_offset_db"`
	TimeToTrigger time.Duration `koanf:"time_to_trigger"`

	Dampening DampeningConfig `koanf:"dampening"`
}

// DampeningConfig holds the ping-pong dampening parameters.
type DampeningConfig struct {
	Enabled           bool          `koanf:"enabled"`
	SuppressThreshold float64       `koanf:"suppress_threshold"`
	ReuseThreshold    float64       `koanf:"reuse_threshold"`
	HalfLife          time.Duration `koanf:"half_life"`
	MaxSuppressTime   time.Duration `koanf:"max_suppress_time"`
}

// X2Config selects how cells reach each other.
type X2Config struct {
	// Mode is "local" (in-process hub) or "udp".
	Mode string `koanf:"mode"`

	// DSCP marks X2 and GTP-U datagrams in udp mode (0..63).
	DSCP uint8 `koanf:"dscp"`
}

// CoreConfig selects the core network collaborator.
type CoreConfig struct {
	// Mode is "loopback" or "pfcp".
	Mode string `koanf:"mode"`

	PFCP PFCPConfig `koanf:"pfcp"`
}

// PFCPConfig holds the user plane function association in pfcp mode.
type PFCPConfig struct {
	// UPFAddr is "host" or "host:port" of the UPF.
	UPFAddr string `koanf:"upf_addr"`

	// NodeID is the local PFCP node identity.
	NodeID string `koanf:"node_id"`

	// Timeout bounds a single path switch exchange.
	Timeout time.Duration `koanf:"timeout"`
}

// CellConfig describes one cell hosted by the daemon.
type CellConfig struct {
	// ID is the cell identity, also used as physical cell id.
	ID uint16 `koanf:"id"`

	// X2Addr is the X2 control plane address in udp mode.
	X2Addr string `koanf:"x2_addr"`

	// GTPUAddr is the X2 user plane address in udp mode.
	GTPUAddr string `koanf:"gtpu_addr"`

	// UserPlaneAddr is the address announced for S1-U and X2-U tunnels.
	// Empty derives it from GTPUAddr.
	UserPlaneAddr string `koanf:"user_plane_addr"`

	// Neighbours restricts handover targets. Empty allows any known cell.
	Neighbours []uint16 `koanf:"neighbours"`
}

// PeerConfig describes a remote cell reachable over UDP.
type PeerConfig struct {
	ID       uint16 `koanf:"id"`
	X2Addr   string `koanf:"x2_addr"`
	GTPUAddr string `koanf:"gtpu_addr"`
}

// X2AddrPort parses X2Addr, applying the default X2 port.
func (c CellConfig) X2AddrPort() (netip.AddrPort, error) {
	return ParseEndpoint(c.X2Addr, DefaultX2Port)
}

// GTPUAddrPort parses GTPUAddr, applying the default GTP-U port.
func (c CellConfig) GTPUAddrPort() (netip.AddrPort, error) {
	return ParseEndpoint(c.GTPUAddr, DefaultGTPUPort)
}

// TunnelAddr returns the address announced for tunnels.
func (c CellConfig) TunnelAddr() (netip.Addr, error) {
	if c.UserPlaneAddr != "" {
		addr, err := netip.ParseAddr(c.UserPlaneAddr)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("parse user_plane_addr %q: %w", c.UserPlaneAddr, err)
		}
		return addr, nil
	}
	if c.GTPUAddr == "" {
		return netip.IPv4Unspecified(), nil
	}
	ap, err := c.GTPUAddrPort()
	if err != nil {
		return netip.Addr{}, err
	}
	return ap.Addr(), nil
}

// X2AddrPort parses X2Addr, applying the default X2 port.
func (p PeerConfig) X2AddrPort() (netip.AddrPort, error) {
	return ParseEndpoint(p.X2Addr, DefaultX2Port)
}

// GTPUAddrPort parses GTPUAddr, applying the default GTP-U port. An empty
// GTPUAddr reuses the X2 address.
func (p PeerConfig) GTPUAddrPort() (netip.AddrPort, error) {
	if p.GTPUAddr == "" {
		x2, err := p.X2AddrPort()
		if err != nil {
			return netip.AddrPort{}, err
		}
		return netip.AddrPortFrom(x2.Addr(), DefaultGTPUPort), nil
	}
	return ParseEndpoint(p.GTPUAddr, DefaultGTPUPort)
}

// ParseEndpoint parses "addr:port" or a bare "addr" completed with
// defaultPort. IPv6 addresses with a port must be bracketed.
func ParseEndpoint(s string, defaultPort uint16) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPort{}, ErrEmptyEndpoint
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	return netip.AddrPortFrom(addr, defaultPort), nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults: a single
// cell with identity 1 served over the in-process X2 hub and the loopback
// core.
func DefaultConfig() *Config {
	timeouts := rrc.DefaultTimeouts()

	return &Config{
		Admin: AdminConfig{
			Addr: ":50061",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RRC: RRCConfig{
			SrsPeriodicity:          40,
			DefaultTransmissionMode: 0,
			BearerPolicy:            "loss_rate_based",
			Transport:               "ideal",
			Timers: TimersConfig{
				ConnectionRequest:  timeouts.ConnectionRequest,
				ConnectionSetup:    timeouts.ConnectionSetup,
				ConnectionRejected: timeouts.ConnectionRejected,
				HandoverJoining:    timeouts.HandoverJoining,
				HandoverLeaving:    timeouts.HandoverLeaving,
				PathSwitch:         timeouts.PathSwitch,
			},
		},
		Handover: HandoverConfig{
			Enabled:       true,
			HysteresisDB:  1,
			A3OffsetDB:    3,
			TimeToTrigger: 40 * time.Millisecond,
			Dampening: DampeningConfig{
				Enabled:           false,
				SuppressThreshold: 3,
				ReuseThreshold:    2,
				HalfLife:          5 * time.Second,
				MaxSuppressTime:   30 * time.Second,
			},
		},
		X2: X2Config{
			Mode: X2ModeLocal,
		},
		Core: CoreConfig{
			Mode: CoreModeLoopback,
			PFCP: PFCPConfig{
				Timeout: 2 * time.Second,
			},
		},
		Cells: []CellConfig{{ID: 1}},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gorrc configuration.
// Variables are named GORRC_<section>_<key>, e.g., GORRC_ADMIN_ADDR.
const envPrefix = "GORRC_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GORRC_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping follows the key names of the defaults, so
// keys containing underscores map unambiguously:
//
//	GORRC_ADMIN_ADDR                 -> admin.addr
//	GORRC_LOG_LEVEL                  -> log.level
//	GORRC_RRC_SRS_PERIODICITY        -> rrc.srs_periodicity
//	GORRC_RRC_TIMERS_HANDOVER_JOINING -> rrc.timers.handover_joining
//	GORRC_CORE_PFCP_UPF_ADDR         -> core.pfcp.upf_addr
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}
	mapper := newEnvKeyMapper(k.Keys())

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	if err := k.Load(env.Provider(envPrefix, ".", mapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Cells) == 0 {
		cfg.Cells = defaults.Cells
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// newEnvKeyMapper returns a mapper for GORRC_RRC_SRS_PERIODICITY ->
// rrc.srs_periodicity. Known keys are matched with dots folded to
// underscores; anything else falls back to replacing every _ with a dot.
func newEnvKeyMapper(keys []string) func(string) string {
	known := make(map[string]string, len(keys))
	for _, key := range keys {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}

	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key, ok := known[s]; ok {
			return key
		}
		return strings.ReplaceAll(s, "_", ".")
	}
}

// loadDefaults marshals the default config into koanf as the base layer.
// Cells and peers are lists and only come from the file.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":                            defaults.Admin.Addr,
		"metrics.addr":                          defaults.Metrics.Addr,
		"metrics.path":                          defaults.Metrics.Path,
		"log.level":                             defaults.Log.Level,
		"log.format":                            defaults.Log.Format,
		"rrc.srs_periodicity":                   defaults.RRC.SrsPeriodicity,
		"rrc.default_transmission_mode":         defaults.RRC.DefaultTransmissionMode,
		"rrc.bearer_policy":                     defaults.RRC.BearerPolicy,
		"rrc.transport":                         defaults.RRC.Transport,
		"rrc.reject_wait_time":                  defaults.RRC.RejectWaitTime,
		"rrc.admission.max_contexts":            defaults.RRC.Admission.MaxContexts,
		"rrc.timers.connection_request":         defaults.RRC.Timers.ConnectionRequest.String(),
		"rrc.timers.connection_setup":           defaults.RRC.Timers.ConnectionSetup.String(),
		"rrc.timers.connection_rejected":        defaults.RRC.Timers.ConnectionRejected.String(),
		"rrc.timers.handover_joining":           defaults.RRC.Timers.HandoverJoining.String(),
		"rrc.timers.handover_leaving":           defaults.RRC.Timers.HandoverLeaving.String(),
		"rrc.timers.path_switch":                defaults.RRC.Timers.PathSwitch.String(),
		"handover.enabled":                      defaults.Handover.Enabled,
		"handover.hysteresis_db":                defaults.Handover.HysteresisDB,
		"handover.a3_offset_db":                 defaults.Handover.A3OffsetDB,
		"handover.time_to_trigger":              defaults.Handover.TimeToTrigger.String(),
		"handover.dampening.enabled":            defaults.Handover.Dampening.Enabled,
		"handover.dampening.suppress_threshold": defaults.Handover.Dampening.SuppressThreshold,
		"handover.dampening.reuse_threshold":    defaults.Handover.Dampening.ReuseThreshold,
		"handover.dampening.half_life":          defaults.Handover.Dampening.HalfLife.String(),
		"handover.dampening.max_suppress_time":  defaults.Handover.Dampening.MaxSuppressTime.String(),
		"x2.mode":                               defaults.X2.Mode,
		"x2.dscp":                               defaults.X2.DSCP,
		"core.mode":                             defaults.Core.Mode,
		"core.pfcp.upf_addr":                    defaults.Core.PFCP.UPFAddr,
		"core.pfcp.node_id":                     defaults.Core.PFCP.NodeID,
		"core.pfcp.timeout":                     defaults.Core.PFCP.Timeout.String(),
		"scenario":                              defaults.Scenario,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidSrsPeriodicity indicates an unsupported SRS periodicity.
	ErrInvalidSrsPeriodicity = errors.New("rrc.srs_periodicity must be one of 2, 5, 10, 20, 40, 80, 160, 320")

	// ErrInvalidTransmissionMode indicates a transmission mode above TM8.
	ErrInvalidTransmissionMode = errors.New("rrc.default_transmission_mode must be 0..7")

	// ErrInvalidBearerPolicy indicates an unknown bearer policy name.
	ErrInvalidBearerPolicy = errors.New("rrc.bearer_policy is invalid")

	// ErrInvalidTransport indicates a transport other than ideal or real.
	ErrInvalidTransport = errors.New("rrc.transport must be ideal or real")

	// ErrInvalidTimer indicates a negative guard duration.
	ErrInvalidTimer = errors.New("rrc.timers must not be negative")

	// ErrInvalidMaxContexts indicates a negative admission limit.
	ErrInvalidMaxContexts = errors.New("rrc.admission.max_contexts must be >= 0")

	// ErrInvalidDampening indicates inconsistent dampening thresholds.
	ErrInvalidDampening = errors.New("handover.dampening.reuse_threshold must be below suppress_threshold")

	// ErrInvalidX2Mode indicates an x2.mode other than local or udp.
	ErrInvalidX2Mode = errors.New("x2.mode must be local or udp")

	// ErrInvalidDSCP indicates a DSCP outside 0..63.
	ErrInvalidDSCP = errors.New("x2.dscp must be 0..63")

	// ErrInvalidCoreMode indicates a core.mode other than loopback or pfcp.
	ErrInvalidCoreMode = errors.New("core.mode must be loopback or pfcp")

	// ErrEmptyUPFAddr indicates pfcp mode without a UPF address.
	ErrEmptyUPFAddr = errors.New("core.pfcp.upf_addr must not be empty in pfcp mode")

	// ErrNoCells indicates a configuration without cells.
	ErrNoCells = errors.New("at least one cell must be configured")

	// ErrInvalidCellID indicates a zero cell or peer identity.
	ErrInvalidCellID = errors.New("cell id must be nonzero")

	// ErrDuplicateCellID indicates two cells or peers with the same id.
	ErrDuplicateCellID = errors.New("duplicate cell id")

	// ErrEmptyEndpoint indicates a missing address in udp mode.
	ErrEmptyEndpoint = errors.New("endpoint address must not be empty")
)

// ValidX2Modes lists the recognized x2.mode values.
//
//nolint:gochecknoglobals // lookup table.
var ValidX2Modes = map[string]bool{
	X2ModeLocal: true,
	X2ModeUDP:   true,
}

// ValidCoreModes lists the recognized core.mode values.
//
//nolint:gochecknoglobals // lookup table.
var ValidCoreModes = map[string]bool{
	CoreModeLoopback: true,
	CoreModePFCP:     true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if err := validateRRC(cfg.RRC); err != nil {
		return err
	}

	if d := cfg.Handover.Dampening; d.Enabled && d.ReuseThreshold >= d.SuppressThreshold {
		return ErrInvalidDampening
	}

	if !ValidX2Modes[cfg.X2.Mode] {
		return fmt.Errorf("x2.mode %q: %w", cfg.X2.Mode, ErrInvalidX2Mode)
	}
	if cfg.X2.DSCP > 63 {
		return ErrInvalidDSCP
	}

	if !ValidCoreModes[cfg.Core.Mode] {
		return fmt.Errorf("core.mode %q: %w", cfg.Core.Mode, ErrInvalidCoreMode)
	}
	if cfg.Core.Mode == CoreModePFCP && cfg.Core.PFCP.UPFAddr == "" {
		return ErrEmptyUPFAddr
	}

	return validateCells(cfg)
}

func validateRRC(r RRCConfig) error {
	if !rrc.ValidSrsPeriodicity(r.SrsPeriodicity) {
		return fmt.Errorf("rrc.srs_periodicity %d: %w", r.SrsPeriodicity, ErrInvalidSrsPeriodicity)
	}
	if r.DefaultTransmissionMode > 7 {
		return ErrInvalidTransmissionMode
	}
	if _, err := rrc.ParseBearerPolicy(r.BearerPolicy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBearerPolicy, err)
	}
	switch r.Transport {
	case "ideal", "real":
	default:
		return fmt.Errorf("rrc.transport %q: %w", r.Transport, ErrInvalidTransport)
	}
	if r.Admission.MaxContexts < 0 {
		return ErrInvalidMaxContexts
	}

	t := r.Timers
	for _, d := range []time.Duration{
		t.ConnectionRequest, t.ConnectionSetup, t.ConnectionRejected,
		t.HandoverJoining, t.HandoverLeaving, t.PathSwitch,
	} {
		if d < 0 {
			return ErrInvalidTimer
		}
	}
	return nil
}

// validateCells checks identities and, in udp mode, endpoints of cells and
// peers. Cells and peers share one identity space.
func validateCells(cfg *Config) error {
	if len(cfg.Cells) == 0 {
		return ErrNoCells
	}

	udp := cfg.X2.Mode == X2ModeUDP
	seen := make(map[uint16]struct{}, len(cfg.Cells)+len(cfg.Peers))
	claim := func(what string, i int, id uint16) error {
		if id == 0 {
			return fmt.Errorf("%s[%d]: %w", what, i, ErrInvalidCellID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%s[%d] id %d: %w", what, i, id, ErrDuplicateCellID)
		}
		seen[id] = struct{}{}
		return nil
	}

	for i, c := range cfg.Cells {
		if err := claim("cells", i, c.ID); err != nil {
			return err
		}
		if _, err := c.TunnelAddr(); err != nil {
			return fmt.Errorf("cells[%d]: %w", i, err)
		}
		if !udp {
			continue
		}
		if _, err := c.X2AddrPort(); err != nil {
			return fmt.Errorf("cells[%d] x2_addr: %w", i, err)
		}
		if _, err := c.GTPUAddrPort(); err != nil {
			return fmt.Errorf("cells[%d] gtpu_addr: %w", i, err)
		}
	}

	for i, p := range cfg.Peers {
		if err := claim("peers", i, p.ID); err != nil {
			return err
		}
		if _, err := p.X2AddrPort(); err != nil {
			return fmt.Errorf("peers[%d] x2_addr: %w", i, err)
		}
		if _, err := p.GTPUAddrPort(); err != nil {
			return fmt.Errorf("peers[%d] gtpu_addr: %w", i, err)
		}
	}

	return nil
}

// CellIDs returns the identities of the local cells as strings, for logs.
func (c *Config) CellIDs() []string {
	out := make([]string, 0, len(c.Cells))
	for _, cell := range c.Cells {
		out = append(out, strconv.FormatUint(uint64(cell.ID), 10))
	}
	return out
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
