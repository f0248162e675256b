// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level daemon configuration.
// Maps to the `archon:` root key in YAML.
type GlobalConfig struct {
	Control       ControlConfig       `mapstructure:"control"`
	DataDir       string              `mapstructure:"data_dir"`
	Log           LogConfig           `mapstructure:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	StuckDetector StuckDetectorConfig `mapstructure:"stuck_detector"`
	Notifier      NotifierConfig      `mapstructure:"notifier"`
	ClaudeCLI     ClaudeCLIConfig     `mapstructure:"claude_cli"`
	Defaults      DefaultsConfig      `mapstructure:"defaults"`
}

// ─── Control Plane ───

// ControlConfig contains control plane listener settings.
//
// Socket is the transport (a Unix domain socket). Host/Port are loaded,
// including from ARCHON_HOST/ARCHON_PORT, but the daemon does not open a
// TCP listener: it always listens on the socket.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Stuck Detector ───

// StuckDetectorConfig controls the stuck-detection ticker and thresholds.
// The thresholds are daemon-wide, not per-task, per the design notes.
type StuckDetectorConfig struct {
	ScanIntervalMinutes       int `mapstructure:"scan_interval_minutes"`
	ArchonCheckTimeoutMinutes int `mapstructure:"archon_check_timeout_minutes"`
	ProbeNoOutputMinutes      int `mapstructure:"probe_no_output_minutes"`
	CronExecutionMinutes      int `mapstructure:"cron_execution_minutes"`
}

// ─── Notifier ───

// NotifierConfig selects and configures the outbound notification sink.
type NotifierConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Method       string `mapstructure:"method"` // system / slack / webhook
	WebhookURL   string `mapstructure:"webhook_url"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

// ─── Claude CLI ───

// ClaudeCLIConfig names the supervised CLI binary and optional default model.
type ClaudeCLIConfig struct {
	Path         string `mapstructure:"path"`
	DefaultModel string `mapstructure:"default_model"`
}

// ─── Defaults ───

// DefaultsConfig holds fallback values applied when a task's own config
// omits them.
type DefaultsConfig struct {
	ProbeCheckIntervalMinutes int `mapstructure:"probe_check_interval_minutes"`
	CronCheckIntervalMinutes  int `mapstructure:"cron_check_interval_minutes"`
	MaxAutoCorrections        int `mapstructure:"max_auto_corrections"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `archon: ...`.
type configRoot struct {
	Archon GlobalConfig `mapstructure:"archon"`
}

// Load loads configuration from file.
// The YAML file uses `archon:` as root key; env vars use ARCHON_ prefix
// (e.g., ARCHON_LOG_LEVEL). ARCHON_HOST and ARCHON_PORT are bound
// explicitly since they name the control listener directly rather than
// through the nested key path.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("archon.control.host", "ARCHON_HOST")
	_ = v.BindEnv("archon.control.port", "ARCHON_PORT")

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Archon
	cfg.DataDir = os.ExpandEnv(cfg.DataDir)

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("archon.control.pid_file", "/var/run/archond.pid")
	v.SetDefault("archon.control.socket", "/var/run/archond.sock")

	v.SetDefault("archon.data_dir", "$HOME/.claude/daemon-archon")

	v.SetDefault("archon.log.level", "info")
	v.SetDefault("archon.log.format", "json")
	v.SetDefault("archon.log.outputs.file.enabled", false)
	v.SetDefault("archon.log.outputs.file.path", "/var/log/archon/archond.log")
	v.SetDefault("archon.log.outputs.file.rotation.max_size_mb", 10)
	v.SetDefault("archon.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("archon.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("archon.log.outputs.file.rotation.compress", true)

	v.SetDefault("archon.metrics.enabled", true)
	v.SetDefault("archon.metrics.listen", ":9108")
	v.SetDefault("archon.metrics.path", "/metrics")

	v.SetDefault("archon.stuck_detector.scan_interval_minutes", 5)
	v.SetDefault("archon.stuck_detector.archon_check_timeout_minutes", 5)
	v.SetDefault("archon.stuck_detector.probe_no_output_minutes", 60)
	v.SetDefault("archon.stuck_detector.cron_execution_minutes", 30)

	v.SetDefault("archon.notifier.enabled", true)
	v.SetDefault("archon.notifier.method", "system")

	v.SetDefault("archon.claude_cli.path", "claude")

	v.SetDefault("archon.defaults.probe_check_interval_minutes", 5)
	v.SetDefault("archon.defaults.cron_check_interval_minutes", 60)
	v.SetDefault("archon.defaults.max_auto_corrections", 3)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	validMethods := map[string]bool{"system": true, "slack": true, "webhook": true}
	if cfg.Notifier.Enabled && !validMethods[cfg.Notifier.Method] {
		return fmt.Errorf("invalid notifier method: %s (must be system/slack/webhook)", cfg.Notifier.Method)
	}
	if cfg.Notifier.Method == "slack" && cfg.Notifier.SlackWebhook == "" {
		return fmt.Errorf("notifier.slack_webhook is required when notifier.method=slack")
	}
	if cfg.Notifier.Method == "webhook" && cfg.Notifier.WebhookURL == "" {
		return fmt.Errorf("notifier.webhook_url is required when notifier.method=webhook")
	}

	if cfg.ClaudeCLI.Path == "" {
		cfg.ClaudeCLI.Path = "claude"
	}

	return nil
}
