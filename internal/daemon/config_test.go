package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8470 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8470)
	}
	if cfg.Policy.MaxAutomaticChanges != 10 {
		t.Errorf("Policy.MaxAutomaticChanges = %d, want 10", cfg.Policy.MaxAutomaticChanges)
	}
	if cfg.Schedule.MonitoringBase != "5m" {
		t.Errorf("Schedule.MonitoringBase = %q, want %q", cfg.Schedule.MonitoringBase, "5m")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	t.Setenv(DSNEnv, "")
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoadConfigFile_Overrides(t *testing.T) {
	t.Setenv(DSNEnv, "")
	path := writeConfig(t, `
[database]
driver = "postgres"
dsn = "postgres://localhost/app"

[policy]
max_automatic_changes = 3
backup_before_actions = true
rollback_on_failure = true
human_approval_required = ["drop_table"]

[schedule]
monitoring_base = "2m"
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Policy.MaxAutomaticChanges != 3 {
		t.Errorf("Policy.MaxAutomaticChanges = %d, want 3", cfg.Policy.MaxAutomaticChanges)
	}
	if len(cfg.Policy.HumanApprovalRequired) != 1 {
		t.Errorf("HumanApprovalRequired = %v, want [drop_table]", cfg.Policy.HumanApprovalRequired)
	}
	if cfg.Schedule.MonitoringBase != "2m" || cfg.Schedule.Learning != "30m" {
		t.Errorf("Schedule = %+v, want monitoring 2m and default learning", cfg.Schedule)
	}
}

func TestLoadConfigFile_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
[policy]
max_automatic_change = 3
`)
	_, err := LoadConfigFile(path)
	if err == nil || !strings.Contains(err.Error(), "policy.max_automatic_change") {
		t.Errorf("LoadConfigFile() error = %v, want unknown key", err)
	}
}

func TestLoadConfigFile_DSNFromEnv(t *testing.T) {
	t.Setenv(DSNEnv, "file:env.db")
	path := writeConfig(t, `
[database]
dsn = "file:disk.db"
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if cfg.Database.DSN != "file:env.db" {
		t.Errorf("Database.DSN = %q, want env value", cfg.Database.DSN)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "db2" }},
		{"negative budget", func(c *Config) { c.Policy.MaxAutomaticChanges = -1 }},
		{"bad duration", func(c *Config) { c.Schedule.Learning = "soon" }},
		{"zero duration", func(c *Config) { c.Healing.BreakerReset = "0s" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad port", func(c *Config) { c.API.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("AUTODB_HOME", t.TempDir())
	t.Setenv(DSNEnv, "")

	cfg := DefaultConfig()
	cfg.API.Port = 9000
	cfg.Policy.MaxAutomaticChanges = 4
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got.API.Port != 9000 || got.Policy.MaxAutomaticChanges != 4 {
		t.Errorf("LoadConfig() = port %d budget %d, want 9000 and 4", got.API.Port, got.Policy.MaxAutomaticChanges)
	}
}

func TestParseStorageSize(t *testing.T) {
	tests := []struct {
		input string
		want  uint64
	}{
		{"50GB", 50 * 1024 * 1024 * 1024},
		{"1TB", 1 * 1024 * 1024 * 1024 * 1024},
		{"100MB", 100 * 1024 * 1024},
		{"512KB", 512 * 1024},
		{"", 1024 * 1024 * 1024}, // Default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseStorageSize(tt.input)
			if got != tt.want {
				t.Errorf("parseStorageSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
