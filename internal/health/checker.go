// Package health provides health checks with optional auto-recovery. The
// controller runs them every monitoring cycle and while healing.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/sitebook/autodb/internal/infra/metrics"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 5 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	Recovered bool      `json:"recovered,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	timeout  time.Duration
	now      func() time.Time
}

// NewChecker creates a health checker over checks.
func NewChecker(checks ...Check) *Checker {
	return &Checker{
		checks:  checks,
		timeout: DefaultCheckTimeout,
		now:     time.Now,
	}
}

// Add appends a check.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// RunAll runs every check once, attempting recovery for failing checks and
// re-checking after a successful recovery. Returns the new statuses.
func (c *Checker) RunAll(ctx context.Context) []Status {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{Name: check.Name, CheckedAt: c.now()}
		err := c.run(ctx, check.CheckFn)
		if err != nil && check.RecoverFn != nil {
			metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
			if rerr := c.run(ctx, check.RecoverFn); rerr == nil {
				if err = c.run(ctx, check.CheckFn); err == nil {
					s.Recovered = true
				}
			}
		}
		if err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()

	result := make([]Status, len(statuses))
	copy(result, statuses)
	return result
}

func (c *Checker) run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(ctx)
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	return c.Failing() == 0
}

// Failing returns the number of failing checks in the latest run.
func (c *Checker) Failing() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.statuses {
		if !s.Healthy {
			n++
		}
	}
	return n
}

// ─── Check Implementations ──────────────────────────────────────────────────

// StoreCheck pings the persistence store.
func StoreCheck(ping func() error) Check {
	return Check{
		Name: "store",
		CheckFn: func(ctx context.Context) error {
			return ping()
		},
	}
}

// TargetCheck pings the target database. reconnect, when non-nil, is tried
// once on failure.
func TargetCheck(ping func(context.Context) error, reconnect func(context.Context) error) Check {
	return Check{
		Name:      "target",
		CheckFn:   ping,
		RecoverFn: reconnect,
	}
}

// DiskSpaceCheck fails when the filesystem holding dir has less than
// minFree bytes available.
func DiskSpaceCheck(dir string, minFree uint64) Check {
	return Check{
		Name: "disk_space",
		CheckFn: func(ctx context.Context) error {
			return checkDiskSpace(ctx, dir, minFree)
		},
	}
}

func checkDiskSpace(ctx context.Context, dir string, minFree uint64) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Dir doesn't exist yet, that's fine
		}
		return fmt.Errorf("check disk: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return fmt.Errorf("check disk: %w", err)
	}
	if usage.Free < minFree {
		return fmt.Errorf("disk space low on %s: %d bytes free, need %d", dir, usage.Free, minFree)
	}
	return nil
}
