package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sitebook/autodb/internal/controller"
	"github.com/sitebook/autodb/internal/domain"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Store.Dir = dir
	cfg.Database.DSN = filepath.Join(dir, "target.db")
	cfg.Store.MinFreeDisk = "1MB"
	cfg.Logging.Level = "error"
	return cfg
}

func TestNewWithConfig_Wiring(t *testing.T) {
	ctx := context.Background()
	d, err := NewWithConfig(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if got := d.Controller.Status().Status; got != domain.StatusStopped {
		t.Fatalf("Status = %q, want %q", got, domain.StatusStopped)
	}

	if err := d.Controller.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := d.Controller.RunCycle(ctx, controller.CycleMonitoring); err != nil {
		t.Fatalf("RunCycle(monitoring) error: %v", err)
	}
	if err := d.Controller.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	report, err := d.Controller.Report(ctx, controller.ReportMetrics)
	if err != nil {
		t.Fatalf("Report(metrics) error: %v", err)
	}
	if snaps, ok := report.([]domain.MetricsSnapshot); !ok || len(snaps) != 1 {
		t.Errorf("metrics report = %#v, want one snapshot", report)
	}
}

func TestNewWithConfig_RestoresState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	d, err := NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	if err := d.Controller.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := d.Controller.RunCycle(ctx, controller.CycleMonitoring); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if err := d.Controller.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	d.Close()

	d2, err := NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() reopen error: %v", err)
	}
	defer d2.Close()
	report, err := d2.Controller.Report(ctx, controller.ReportMetrics)
	if err != nil {
		t.Fatalf("Report(metrics) error: %v", err)
	}
	if snaps, ok := report.([]domain.MetricsSnapshot); !ok || len(snaps) != 1 {
		t.Errorf("restored metrics = %#v, want one snapshot", report)
	}
}

func TestNewWithConfig_MissingExpectedSchema(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.ExpectedSchema = filepath.Join(cfg.Store.Dir, "absent.yaml")
	if _, err := NewWithConfig(context.Background(), cfg); err == nil {
		t.Error("NewWithConfig() = nil error, want missing schema file")
	}
}

func TestNewOffline_ReadsPersistedState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	d, err := NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	if err := d.Controller.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := d.Controller.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	d.Close()

	off, err := NewOffline(ctx, cfg)
	if err != nil {
		t.Fatalf("NewOffline() error: %v", err)
	}
	defer off.Close()
	if off.Target != nil {
		t.Error("offline daemon should not open the target")
	}
	if got := off.Controller.Status().Status; got != domain.StatusStopped {
		t.Errorf("Status = %q, want %q", got, domain.StatusStopped)
	}
	if _, err := off.Controller.Report(ctx, controller.ReportSummary); err != nil {
		t.Errorf("Report(summary) error: %v", err)
	}
	if _, err := off.Controller.Report(ctx, controller.ReportRollbacks); err != nil {
		t.Errorf("Report(rollbacks) error: %v", err)
	}
	if err := off.Controller.RunCycle(ctx, controller.CycleMonitoring); err == nil {
		t.Error("RunCycle() on offline daemon = nil, want not running")
	}
}
