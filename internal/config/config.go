// Package config provides configuration loading, validation, and defaults
// for the ransomwarden agent.
//
// Configuration file: /etc/ransomwarden/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - The agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Copy the quarantine threshold and cooldown into the agent's config
//     (agent.Agent.Reload). The running decision loop, detectors and
//     logger keep the values they were started with.
//   - Every other change, including the destructive ones (storage path,
//     control socket path), requires restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (thresholds in [0,1], windows > 0).
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// DefaultConfigPath is the conventional config file location.
const DefaultConfigPath = "/etc/ransomwarden/config.yaml"

// Config is the root configuration structure for ransomwarden.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this agent instance in logs and ledger entries.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	Agent         AgentConfig         `yaml:"agent"`
	Detector      DetectorConfig      `yaml:"detector"`
	Correlation   CorrelationConfig   `yaml:"correlation"`
	Quarantine    QuarantineConfig    `yaml:"quarantine"`
	Budget        BudgetConfig        `yaml:"budget"`
	Storage       StorageConfig       `yaml:"storage"`
	Control       ControlConfig       `yaml:"control"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AgentConfig holds agent-level operational parameters.
type AgentConfig struct {
	// MaxGoroutines is the number of pipeline worker goroutines. Events for
	// the same PID are always routed to the same worker. Default: 4.
	MaxGoroutines int `yaml:"max_goroutines"`

	// EventQueueSize is the in-memory ingestion→pipeline queue depth. If
	// full, new events are dropped and the drop counter is incremented.
	// Default: 10000.
	EventQueueSize int `yaml:"event_queue_size"`

	// MaxTrackedPIDs is validated (>= 1) but not read by any component:
	// the statistics store has a fixed shard count and no cap on tracked
	// PIDs. Default: 8192.
	MaxTrackedPIDs int `yaml:"max_tracked_pids"`

	// StatsIdleEviction is the idle duration after which a PID's statistics
	// are evicted from memory. The spec requires at least 4x the largest
	// detector window. Default: 60s.
	StatsIdleEviction time.Duration `yaml:"stats_idle_eviction"`

	// DecisionInterval is the fixed cadence of the decision loop.
	// Default: 1s.
	DecisionInterval time.Duration `yaml:"decision_interval"`

	// QuarantineCooldown is the minimum interval between two quarantine
	// actions for the same PID. Default: 60s.
	QuarantineCooldown time.Duration `yaml:"quarantine_cooldown"`
}

// DetectorConfig holds the heuristic detector thresholds and windows.
type DetectorConfig struct {
	// EntropyThreshold gates the entropy detector on a normalized [0,1]
	// scale. Default: 0.8.
	EntropyThreshold float64 `yaml:"entropy_threshold"`

	// MassWriteThreshold is the write-count threshold T in the mass-write
	// detector. Default: 50.
	MassWriteThreshold int `yaml:"mass_write_threshold"`

	// MassWriteWindowSeconds bounds how stale stats.last_update may be
	// before the mass-write detector returns 0. Default: 10.
	MassWriteWindowSeconds int64 `yaml:"mass_write_window_seconds"`

	// RenameDeleteThreshold is T_rd in the mass-rename/delete detector.
	// Default: 30.
	RenameDeleteThreshold int `yaml:"rename_delete_threshold"`

	// RenameDeleteWindowSeconds is its staleness window. Default: 10.
	RenameDeleteWindowSeconds int64 `yaml:"rename_delete_window_seconds"`

	// RansomNotePatterns is a case-insensitive substring list checked
	// against file and process paths.
	RansomNotePatterns []string `yaml:"ransom_note_patterns"`

	// EntropySampleCap bounds the per-PID entropy sample ring. Default: 64.
	EntropySampleCap int `yaml:"entropy_sample_cap"`
}

// CorrelationConfig holds the ML correlation engine's parameters.
type CorrelationConfig struct {
	// ModelPath is the classifier artifact location. Empty means no
	// classifier is loaded and the deterministic fallback is always used.
	ModelPath string `yaml:"model_path"`

	// InferenceTimeout is the soft timeout after which the fallback is used
	// and a counter is incremented. Default: 250ms.
	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	// QuarantineThreshold gates the decision loop: ml > this triggers
	// quarantine. Default: 0.7.
	QuarantineThreshold float64 `yaml:"quarantine_threshold"`

	// Scorer names a contrib.AnomalyScorer. The value is loaded but not
	// read by any component: no contrib scorer runs, and the decision
	// loop always gates on the classifier/fallback score.
	Scorer string `yaml:"scorer"`
}

// QuarantineConfig holds the external quarantine helper's invocation
// parameters.
type QuarantineConfig struct {
	// HelperPath is the absolute path of the privileged quarantine binary.
	HelperPath string `yaml:"helper_path"`

	// Timeout is the hard timeout for a single invocation. Default: 5s.
	Timeout time.Duration `yaml:"timeout"`
}

// BudgetConfig holds the optional quarantine-action token bucket.
// Capacity 0 means unlimited (the budget gate is disabled).
type BudgetConfig struct {
	// Capacity is the maximum number of tokens. 0 disables rate limiting.
	// Default: 0.
	Capacity int `yaml:"capacity"`

	// RefillPeriod is the interval between full refills. Default: 60s.
	RefillPeriod time.Duration `yaml:"refill_period"`
}

// StorageConfig holds BoltDB parameters for the telemetry sink.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	// Default: /var/lib/ransomwarden/ransomwarden.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is the retention period for the events bucket; alerts
	// and the other buckets are not pruned. Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// ControlConfig holds the read-through control-plane accessor parameters.
type ControlConfig struct {
	// Enabled controls whether the control socket is active. Default: true.
	Enabled bool `yaml:"enabled"`

	// SocketPath is the Unix domain socket path. Permissions: 0600.
	// Default: /run/ransomwarden/control.sock.
	SocketPath string `yaml:"socket_path"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9090.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// DefaultDBPath is the default BoltDB file location.
const DefaultDBPath = "/var/lib/ransomwarden/ransomwarden.db"

// Defaults returns a Config populated with all default values, matching
// the key table in the configuration reference.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Agent: AgentConfig{
			MaxGoroutines:      4,
			EventQueueSize:     10000,
			MaxTrackedPIDs:     8192,
			StatsIdleEviction:  60 * time.Second,
			DecisionInterval:   time.Second,
			QuarantineCooldown: 60 * time.Second,
		},
		Detector: DetectorConfig{
			EntropyThreshold:          0.8,
			MassWriteThreshold:        50,
			MassWriteWindowSeconds:    10,
			RenameDeleteThreshold:     30,
			RenameDeleteWindowSeconds: 10,
			RansomNotePatterns:        []string{"READ ME", "README", "DECRYPT", "RECOVER", "LOCKED"},
			EntropySampleCap:          64,
		},
		Correlation: CorrelationConfig{
			InferenceTimeout:    250 * time.Millisecond,
			QuarantineThreshold: 0.7,
		},
		Quarantine: QuarantineConfig{
			Timeout: 5 * time.Second,
		},
		Budget: BudgetConfig{
			Capacity:     0,
			RefillPeriod: 60 * time.Second,
		},
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: "/run/ransomwarden/control.sock",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, collecting every
// violation into a single combined error rather than failing fast.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Agent.MaxGoroutines < 1 || cfg.Agent.MaxGoroutines > 64 {
		errs = append(errs, fmt.Sprintf("agent.max_goroutines must be in [1, 64], got %d", cfg.Agent.MaxGoroutines))
	}
	if cfg.Agent.EventQueueSize < 0 {
		errs = append(errs, fmt.Sprintf("agent.event_queue_size must be >= 0, got %d", cfg.Agent.EventQueueSize))
	}
	if cfg.Agent.MaxTrackedPIDs < 1 {
		errs = append(errs, fmt.Sprintf("agent.max_tracked_pids must be >= 1, got %d", cfg.Agent.MaxTrackedPIDs))
	}
	if cfg.Agent.StatsIdleEviction <= 0 {
		errs = append(errs, "agent.stats_idle_eviction must be > 0")
	}
	if cfg.Agent.DecisionInterval <= 0 {
		errs = append(errs, "agent.decision_interval must be > 0")
	}
	if cfg.Agent.QuarantineCooldown < 0 {
		errs = append(errs, "agent.quarantine_cooldown must be >= 0")
	}
	if cfg.Detector.EntropyThreshold < 0.0 || cfg.Detector.EntropyThreshold > 1.0 {
		errs = append(errs, fmt.Sprintf("detector.entropy_threshold must be in [0.0, 1.0], got %f", cfg.Detector.EntropyThreshold))
	}
	if cfg.Detector.MassWriteThreshold < 1 {
		errs = append(errs, "detector.mass_write_threshold must be >= 1")
	}
	if cfg.Detector.MassWriteWindowSeconds < 1 {
		errs = append(errs, "detector.mass_write_window_seconds must be >= 1")
	}
	if cfg.Detector.RenameDeleteThreshold < 1 {
		errs = append(errs, "detector.rename_delete_threshold must be >= 1")
	}
	if cfg.Detector.RenameDeleteWindowSeconds < 1 {
		errs = append(errs, "detector.rename_delete_window_seconds must be >= 1")
	}
	if cfg.Detector.EntropySampleCap < 2 {
		errs = append(errs, "detector.entropy_sample_cap must be >= 2")
	}
	if cfg.Correlation.QuarantineThreshold < 0.0 || cfg.Correlation.QuarantineThreshold > 1.0 {
		errs = append(errs, fmt.Sprintf("correlation.quarantine_threshold must be in [0.0, 1.0], got %f", cfg.Correlation.QuarantineThreshold))
	}
	if cfg.Correlation.InferenceTimeout < 0 {
		errs = append(errs, "correlation.inference_timeout must be >= 0")
	}
	if cfg.Quarantine.HelperPath == "" {
		errs = append(errs, "quarantine.helper_path must not be empty")
	}
	if cfg.Quarantine.Timeout <= 0 {
		errs = append(errs, "quarantine.timeout must be > 0")
	}
	if cfg.Budget.Capacity < 0 {
		errs = append(errs, "budget.capacity must be >= 0")
	}
	if cfg.Budget.Capacity > 0 && cfg.Budget.RefillPeriod < time.Second {
		errs = append(errs, fmt.Sprintf("budget.refill_period must be >= 1s, got %s", cfg.Budget.RefillPeriod))
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Control.Enabled && cfg.Control.SocketPath == "" {
		errs = append(errs, "control.socket_path must not be empty when control.enabled is true")
	}
	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug|info|warn|error, got %q", cfg.Observability.LogLevel))
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format must be one of json|console, got %q", cfg.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
