package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sitebook/autodb/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func find(statuses []Status, name string) *Status {
	for i := range statuses {
		if statuses[i].Name == name {
			return &statuses[i]
		}
	}
	return nil
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	c := NewChecker(
		StoreCheck(db.Ping),
		TargetCheck(func(context.Context) error { return nil }, nil),
		DiskSpaceCheck(dir, 1),
	)
	statuses := c.RunAll(context.Background())
	if len(statuses) != 3 {
		t.Fatalf("RunAll() = %d statuses, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(StoreCheck(func() error { return errors.New("down") }))
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_StoreCheck_Closed(t *testing.T) {
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.Close()

	c := NewChecker(StoreCheck(db.Ping))
	statuses := c.RunAll(context.Background())
	if s := find(statuses, "store"); s == nil || s.Healthy {
		t.Errorf("store check on a closed db = %+v, want unhealthy", s)
	}
	if c.Failing() != 1 {
		t.Errorf("Failing() = %d, want 1", c.Failing())
	}
}

func TestChecker_DiskSpace(t *testing.T) {
	dir := t.TempDir()

	c := NewChecker(DiskSpaceCheck(dir, 1))
	if s := find(c.RunAll(context.Background()), "disk_space"); s == nil || !s.Healthy {
		t.Errorf("disk_space check = %+v, want healthy", s)
	}

	c = NewChecker(DiskSpaceCheck(dir, ^uint64(0)))
	if s := find(c.RunAll(context.Background()), "disk_space"); s == nil || s.Healthy {
		t.Errorf("disk_space check with impossible minimum = %+v, want unhealthy", s)
	}
}

func TestChecker_DiskSpace_NoDir(t *testing.T) {
	c := NewChecker(DiskSpaceCheck(filepath.Join(t.TempDir(), "nonexistent"), 1))
	c.RunAll(context.Background())
	if !c.IsHealthy() {
		t.Error("missing data dir should not fail the disk check")
	}
}

func TestChecker_DiskSpace_FileNotDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("not a dir"), 0644); err != nil {
		t.Fatal(err)
	}
	c := NewChecker(DiskSpaceCheck(path, 1))
	c.RunAll(context.Background())
	if c.IsHealthy() {
		t.Error("disk_space should fail when path is a file")
	}
}

func TestChecker_RecoverRechecks(t *testing.T) {
	up := false
	c := NewChecker(TargetCheck(
		func(context.Context) error {
			if !up {
				return errors.New("connection refused")
			}
			return nil
		},
		func(context.Context) error {
			up = true
			return nil
		},
	))

	statuses := c.RunAll(context.Background())
	if !statuses[0].Healthy || !statuses[0].Recovered {
		t.Errorf("target status = %+v, want healthy and recovered", statuses[0])
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := NewChecker(Check{
		Name: "always_fail",
		CheckFn: func(ctx context.Context) error {
			return os.ErrPermission
		},
	})

	statuses := c.RunAll(context.Background())
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
}

func TestChecker_Add(t *testing.T) {
	c := NewChecker()
	c.Add(Check{Name: "extra", CheckFn: func(context.Context) error { return nil }})
	if len(c.RunAll(context.Background())) != 1 {
		t.Error("added check should run")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	c := NewChecker(Check{Name: "ok", CheckFn: func(context.Context) error { return nil }})
	c.RunAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()
	s1[0].Healthy = false
	if !s2[0].Healthy {
		t.Error("Statuses() should return a copy, not a reference")
	}
}
