// Package daemon manages the autodb daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/infra/target"
	"github.com/sitebook/autodb/internal/logging"
)

// DSNEnv overrides database.dsn so credentials can stay out of the file.
const DSNEnv = "AUTODB_DATABASE_DSN"

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig          `toml:"node"`
	Database  DatabaseConfig      `toml:"database"`
	Policy    domain.SafetyPolicy `toml:"policy"`
	Schedule  ScheduleConfig      `toml:"schedule"`
	Collector CollectorConfig     `toml:"collector"`
	Healing   HealingConfig       `toml:"healing"`
	Store     StoreConfig         `toml:"store"`
	API       APIConfig           `toml:"api"`
	Logging   LoggingConfig       `toml:"logging"`
	Telemetry TelemetryConfig     `toml:"telemetry"`
}

// NodeConfig identifies this controller instance in logs.
type NodeConfig struct {
	Name string `toml:"name"`
}

// DatabaseConfig addresses the target database.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	Schema string `toml:"schema"`
	// ExpectedSchema is a YAML schema document. Empty disables drift detection.
	ExpectedSchema string `toml:"expected_schema"`
}

// ScheduleConfig sets cycle cadences as Go durations ("5m", "30m").
type ScheduleConfig struct {
	MonitoringBase string `toml:"monitoring_base"`
	MonitoringMin  string `toml:"monitoring_min"`
	Learning       string `toml:"learning"`
	Maintenance    string `toml:"maintenance"`
}

// CollectorConfig tunes metric collection.
type CollectorConfig struct {
	SlowQueryThreshold string `toml:"slow_query_threshold"`
}

// HealingConfig tunes the fix circuit breaker, table quarantine and the
// incident runbooks.
type HealingConfig struct {
	BreakerThreshold    int    `toml:"breaker_threshold"`
	BreakerReset        string `toml:"breaker_reset"`
	QuarantineAfter     int    `toml:"quarantine_after"`
	QuarantineDuration  string `toml:"quarantine_duration"`
	RemediationAttempts int    `toml:"remediation_attempts"`
}

// StoreConfig locates the persistence store.
type StoreConfig struct {
	Dir         string `toml:"dir"`
	MinFreeDisk string `toml:"min_free_disk"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := AutodbHome()
	return Config{
		Node: NodeConfig{Name: "autodb"},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Policy: domain.DefaultSafetyPolicy(),
		Schedule: ScheduleConfig{
			MonitoringBase: "5m",
			MonitoringMin:  "1m",
			Learning:       "30m",
			Maintenance:    "60m",
		},
		Collector: CollectorConfig{
			SlowQueryThreshold: "500ms",
		},
		Healing: HealingConfig{
			BreakerThreshold:    3,
			BreakerReset:        "15m",
			QuarantineAfter:     2,
			QuarantineDuration:  "6h",
			RemediationAttempts: 1,
		},
		Store: StoreConfig{
			Dir:         homeDir,
			MinFreeDisk: "1GB",
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8470,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $AUTODB_HOME/config.toml, falling back to
// defaults when the file does not exist.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(AutodbHome(), "config.toml"))
}

// LoadConfigFile reads config from path over the defaults. Unknown keys are
// an error so typos in policy fields cannot silently loosen it.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return cfg, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if dsn := os.Getenv(DSNEnv); dsn != "" {
		cfg.Database.DSN = dsn
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if _, err := target.Lookup(c.Database.Driver); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api: port %d out of range", c.API.Port)
	}
	for name, d := range map[string]string{
		"schedule.monitoring_base":       c.Schedule.MonitoringBase,
		"schedule.monitoring_min":        c.Schedule.MonitoringMin,
		"schedule.learning":              c.Schedule.Learning,
		"schedule.maintenance":           c.Schedule.Maintenance,
		"collector.slow_query_threshold": c.Collector.SlowQueryThreshold,
		"healing.breaker_reset":          c.Healing.BreakerReset,
		"healing.quarantine_duration":    c.Healing.QuarantineDuration,
	} {
		if d == "" {
			continue
		}
		if v, err := time.ParseDuration(d); err != nil || v <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, d)
		}
	}
	return nil
}

// SaveConfig writes config to $AUTODB_HOME/config.toml.
func SaveConfig(cfg Config) error {
	homeDir := AutodbHome()
	if err := os.MkdirAll(homeDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(homeDir, "config.toml")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// AutodbHome returns the autodb home directory.
func AutodbHome() string {
	if h := os.Getenv("AUTODB_HOME"); h != "" {
		return h
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".autodb")
}
