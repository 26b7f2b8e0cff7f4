// Package config provides configuration loading, validation, and hot-reload
// for the node-manager daemon.
//
// Two configuration files with two different wire formats:
//
//   - /var/lib/node-manager/general.conf.json — the fixed-format platform
//     config (GeneralPresets, Gpio, Smart, PowerRange sections): default
//     domain presets, the GPIO line table, the SMaRT power-supply-alert
//     supervisor's sysfs paths, and per-domain power range bounds. Decoded
//     with encoding/json because its shape is part of the on-disk contract,
//     not a daemon-tunable.
//   - /etc/node-manager/tuning.yaml — daemon-local operational tuning
//     (log level/format, metrics bind address, RPC socket path, ledger
//     retention) that is safe to reformat or hand-edit; YAML, the format
//     used for every other daemon-local config file in this codebase.
//
// Hot-reload:
//   - Daemon listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate tuning.yaml only. general.conf.json
//     changes (GPIO table, power ranges) require a restart — they describe
//     hardware wiring, not daemon tuning.
//   - Only the limit-bias knobs (limit_bias_absolute, limit_bias_relative)
//     are pushed into the running AcTotalPower, CpuSubsystem and
//     MemorySubsystem domains; log level/format, metrics address, socket
//     path, storage paths and the ticker period keep their startup values.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The daemon does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (power ranges, retention days, bias values).
//   - File paths must be absolute.
//   - Invalid config on startup: daemon refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// DefaultGeneralConfPath is the default general.conf.json location.
const DefaultGeneralConfPath = "/var/lib/node-manager/general.conf.json"

// DefaultTuningPath is the default daemon tuning config location.
const DefaultTuningPath = "/etc/node-manager/tuning.yaml"

// DefaultLedgerPath mirrors storage.DefaultLedgerPath for use in defaults
// without internal/config depending on internal/storage.
const DefaultLedgerPath = "/var/lib/node-manager/ledger.db"

// DefaultPolicyDir is where persistent policy JSON records live.
const DefaultPolicyDir = "/var/lib/node-manager/policies"

// GeneralConfig is the fixed-format platform config: general.conf.json.
type GeneralConfig struct {
	GeneralPresets GeneralPresets `json:"GeneralPresets"`
	Gpio           GpioConfig     `json:"Gpio"`
	Smart          SmartConfig    `json:"Smart"`
	PowerRange     PowerRange     `json:"PowerRange"`
}

// GeneralPresets holds the default per-domain policy presets created at
// daemon start, before any RPC-created policy exists.
type GeneralPresets struct {
	// HwProtectionMaxRatedWatts seeds HwProtectionAlwaysOn's limit before
	// the first PSU reading arrives.
	HwProtectionMaxRatedWatts float64 `json:"HwProtectionMaxRatedWatts"`

	// DcTotalPowerCapWatts seeds DmtfPlatformPowerCap's limit.
	DcTotalPowerCapWatts float64 `json:"DcTotalPowerCapWatts"`

	// AvailableAccelerators lists the PCIe accelerator device indices
	// present on this platform, used to auto-create one DmtfAccelerator
	// policy per entry.
	AvailableAccelerators []int `json:"AvailableAccelerators"`
}

// GpioLine is one entry in the platform's reserved GPIO line table.
type GpioLine struct {
	Index int    `json:"Index"`
	Name  string `json:"Name"`
}

// GpioConfig is the platform's process-wide reserved GPIO line set.
type GpioConfig struct {
	Lines []GpioLine `json:"Lines"`
}

// SmartConfig holds the SMaRT power-supply-alert supervisor's sysfs paths.
// The supervisor itself is out of scope; node-manager only needs these
// paths to wire the smbalertInterrupt trigger's reading source.
type SmartConfig struct {
	SMBAlertSysfsPath string `json:"SMBAlertSysfsPath"`
	PollIntervalMs    int64  `json:"PollIntervalMs"`
}

// PowerRange bounds, per RAPL domain name, the [min, max] a component
// capability may report — the floor under which a reading-sourced
// capability is clamped before any policy sees it.
type PowerRange struct {
	CpuSubsystemMinWatts    float64 `json:"CpuSubsystemMinWatts"`
	CpuSubsystemMaxWatts    float64 `json:"CpuSubsystemMaxWatts"`
	MemorySubsystemMinWatts float64 `json:"MemorySubsystemMinWatts"`
	MemorySubsystemMaxWatts float64 `json:"MemorySubsystemMaxWatts"`
	PcieMinWatts            float64 `json:"PcieMinWatts"`
	PcieMaxWatts            float64 `json:"PcieMaxWatts"`
	DcTotalMinWatts         float64 `json:"DcTotalMinWatts"`
	DcTotalMaxWatts         float64 `json:"DcTotalMaxWatts"`
}

// LoadGeneralConfig reads and decodes general.conf.json. Its shape is
// spec-fixed, so no defaults are merged in — every field must be present
// in the file or it zero-values, matching encoding/json's usual behavior.
func LoadGeneralConfig(path string) (*GeneralConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadGeneralConfig: read %q: %w", path, err)
	}
	var gc GeneralConfig
	if err := json.Unmarshal(data, &gc); err != nil {
		return nil, fmt.Errorf("config.LoadGeneralConfig: parse %q: %w", path, err)
	}
	if err := ValidateGeneralConfig(&gc); err != nil {
		return nil, fmt.Errorf("config.LoadGeneralConfig: validation failed: %w", err)
	}
	return &gc, nil
}

// ValidateGeneralConfig checks general.conf.json fields for correctness.
func ValidateGeneralConfig(gc *GeneralConfig) error {
	var errs []string

	if gc.GeneralPresets.HwProtectionMaxRatedWatts <= 0 {
		errs = append(errs, "GeneralPresets.HwProtectionMaxRatedWatts must be > 0")
	}
	if gc.GeneralPresets.DcTotalPowerCapWatts <= 0 {
		errs = append(errs, "GeneralPresets.DcTotalPowerCapWatts must be > 0")
	}
	seen := make(map[int]bool)
	for _, idx := range gc.GeneralPresets.AvailableAccelerators {
		if idx < 0 {
			errs = append(errs, fmt.Sprintf("GeneralPresets.AvailableAccelerators contains negative index %d", idx))
		}
		if seen[idx] {
			errs = append(errs, fmt.Sprintf("GeneralPresets.AvailableAccelerators has duplicate index %d", idx))
		}
		seen[idx] = true
	}

	gpioSeen := make(map[int]bool)
	for _, line := range gc.Gpio.Lines {
		if line.Index < 0 {
			errs = append(errs, fmt.Sprintf("Gpio.Lines has negative index %d", line.Index))
		}
		if gpioSeen[line.Index] {
			errs = append(errs, fmt.Sprintf("Gpio.Lines has duplicate index %d", line.Index))
		}
		gpioSeen[line.Index] = true
	}

	if gc.Smart.PollIntervalMs < 0 {
		errs = append(errs, "Smart.PollIntervalMs must be >= 0")
	}

	for name, rng := range map[string][2]float64{
		"CpuSubsystem":    {gc.PowerRange.CpuSubsystemMinWatts, gc.PowerRange.CpuSubsystemMaxWatts},
		"MemorySubsystem": {gc.PowerRange.MemorySubsystemMinWatts, gc.PowerRange.MemorySubsystemMaxWatts},
		"Pcie":            {gc.PowerRange.PcieMinWatts, gc.PowerRange.PcieMaxWatts},
		"DcTotal":         {gc.PowerRange.DcTotalMinWatts, gc.PowerRange.DcTotalMaxWatts},
	} {
		if rng[0] < 0 {
			errs = append(errs, fmt.Sprintf("PowerRange.%sMinWatts must be >= 0", name))
		}
		if rng[1] < rng[0] {
			errs = append(errs, fmt.Sprintf("PowerRange.%sMaxWatts must be >= %sMinWatts", name, name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("general.conf.json validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// TuningConfig is the daemon-local operational tuning config: tuning.yaml.
type TuningConfig struct {
	// TickInterval is the cooperative scheduler's tick period. Default: 100ms.
	TickInterval time.Duration `yaml:"tick_interval"`

	// LimitBiasAbsolute and LimitBiasRelative seed the AcTotalPower,
	// CpuSubsystem and MemorySubsystem domains' bias knobs at startup and on
	// SIGHUP; the other domains keep their own defaults. Both are further
	// adjustable over the RPC surface.
	LimitBiasAbsolute float64 `yaml:"limit_bias_absolute"`
	LimitBiasRelative float64 `yaml:"limit_bias_relative"`

	// Storage configures the audit ledger and policy JSON store.
	Storage StorageConfig `yaml:"storage"`

	// Transport configures the RPC Unix socket.
	Transport TransportConfig `yaml:"transport"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds audit-ledger and policy-store parameters.
type StorageConfig struct {
	// LedgerPath is the absolute path to the BoltDB audit ledger.
	LedgerPath string `yaml:"ledger_path"`

	// RetentionDays is the ledger retention period. Default: 30.
	RetentionDays int `yaml:"retention_days"`

	// PolicyDir is the directory of persisted per-policy JSON files.
	PolicyDir string `yaml:"policy_dir"`
}

// TransportConfig holds the RPC Unix socket parameters.
type TransportConfig struct {
	// SocketPath is the Unix domain socket path for the path-addressed
	// object-tree RPC surface. Permissions: 0600, owned by root.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the RPC socket is active. Default: true.
	Enabled bool `yaml:"enabled"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// DefaultTuning returns a TuningConfig populated with all default values.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		TickInterval:      100 * time.Millisecond,
		LimitBiasAbsolute: 0,
		LimitBiasRelative: 1.0,
		Storage: StorageConfig{
			LedgerPath:    DefaultLedgerPath,
			RetentionDays: 30,
			PolicyDir:     DefaultPolicyDir,
		},
		Transport: TransportConfig{
			SocketPath: "/run/node-manager/rpc.sock",
			Enabled:    true,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// LoadTuning reads and validates tuning.yaml, merging file values onto
// DefaultTuning.
func LoadTuning(path string) (*TuningConfig, error) {
	cfg := DefaultTuning()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadTuning: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.LoadTuning: parse %q: %w", path, err)
	}
	if err := ValidateTuning(&cfg); err != nil {
		return nil, fmt.Errorf("config.LoadTuning: validation failed: %w", err)
	}
	return &cfg, nil
}

// ValidateTuning checks tuning.yaml fields for correctness.
func ValidateTuning(cfg *TuningConfig) error {
	var errs []string

	if cfg.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("tick_interval must be > 0, got %s", cfg.TickInterval))
	}
	if cfg.LimitBiasRelative <= 0 {
		errs = append(errs, fmt.Sprintf("limit_bias_relative must be > 0, got %f", cfg.LimitBiasRelative))
	}
	if cfg.Storage.LedgerPath == "" || !filepath.IsAbs(cfg.Storage.LedgerPath) {
		errs = append(errs, "storage.ledger_path must be an absolute path")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Storage.PolicyDir == "" || !filepath.IsAbs(cfg.Storage.PolicyDir) {
		errs = append(errs, "storage.policy_dir must be an absolute path")
	}
	if cfg.Transport.Enabled && (cfg.Transport.SocketPath == "" || !filepath.IsAbs(cfg.Transport.SocketPath)) {
		errs = append(errs, "transport.socket_path must be an absolute path when transport.enabled is true")
	}
	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug/info/warn/error, got %q", cfg.Observability.LogLevel))
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format must be json or console, got %q", cfg.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("tuning.yaml validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
