// Package controller owns the SystemState machine. It schedules the
// monitoring, learning and maintenance cycles, routes issues through the
// gate, heals failed cycles and persists everything after each cycle.
//
//	initializing → running ⇄ learning | optimizing
//	      ↓           ↓
//	    error  →   healing → running | error + emergency mode
//
// Emergency mode halts the scheduler. Only an explicit Start clears it.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/gate"
	"github.com/sitebook/autodb/internal/health"
	"github.com/sitebook/autodb/internal/infra/anomaly"
	"github.com/sitebook/autodb/internal/infra/healing"
	"github.com/sitebook/autodb/internal/infra/metrics"
	"github.com/sitebook/autodb/internal/infra/selfheal"
	"github.com/sitebook/autodb/internal/logging"
)

// Cycle names.
const (
	CycleMonitoring  = "monitoring"
	CycleLearning    = "learning"
	CycleMaintenance = "maintenance"
	cycleInit        = "init"
)

// HealthPenalty is subtracted from the performance score per failing
// health check when computing system health.
const HealthPenalty = 20

// Collector produces one metrics snapshot per monitoring cycle.
type Collector interface {
	Collect(ctx context.Context) (domain.MetricsSnapshot, error)
}

// ScheduleConfig holds the cycle cadences.
type ScheduleConfig struct {
	// MonitoringBase is the monitoring interval at full health; it shrinks
	// proportionally as health drops.
	MonitoringBase time.Duration
	MonitoringMin  time.Duration
	Learning       time.Duration
	Maintenance    time.Duration
}

// DefaultScheduleConfig returns production cadences.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		MonitoringBase: 5 * time.Minute,
		MonitoringMin:  time.Minute,
		Learning:       30 * time.Minute,
		Maintenance:    60 * time.Minute,
	}
}

// Config wires a controller.
type Config struct {
	Collector Collector
	Store     domain.DocumentStore
	Backups   domain.BackupStore
	// Audit backs the rollbacks report. Nil leaves it empty.
	Audit    domain.AuditLog
	Executor domain.FixExecutor
	Policy    domain.SafetyPolicy
	Checker   *health.Checker

	Breaker    *healing.CircuitBreaker
	Quarantine *healing.Quarantine
	Incidents  *selfheal.Tracker
	Anomalies  *anomaly.Detector

	Schedule ScheduleConfig
	Now      func() time.Time
}

// Controller is the root of the control loop.
type Controller struct {
	owner     *stateOwner
	gate      *gate.Gate
	collector Collector
	store     domain.DocumentStore
	audit     domain.AuditLog
	checker   *health.Checker
	incidents *selfheal.Tracker
	anomalies *anomaly.Detector
	sched     ScheduleConfig
	now       func() time.Time

	cycles  map[string]func(context.Context) error
	cycleMu map[string]*sync.Mutex

	lifeMu  sync.Mutex // serializes Start and Stop
	flushMu sync.Mutex

	cronMu   sync.Mutex
	cron     *cron.Cron
	entries  map[cron.EntryID]string
	draining []context.Context
}

// New creates a stopped controller. Call Load before Start to restore
// persisted state.
func New(cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	def := DefaultScheduleConfig()
	if cfg.Schedule.MonitoringBase <= 0 {
		cfg.Schedule.MonitoringBase = def.MonitoringBase
	}
	if cfg.Schedule.MonitoringMin <= 0 {
		cfg.Schedule.MonitoringMin = def.MonitoringMin
	}
	if cfg.Schedule.Learning <= 0 {
		cfg.Schedule.Learning = def.Learning
	}
	if cfg.Schedule.Maintenance <= 0 {
		cfg.Schedule.Maintenance = def.Maintenance
	}
	if cfg.Incidents == nil {
		cfg.Incidents = selfheal.NewTracker(selfheal.Config{Now: cfg.Now})
	}
	if cfg.Anomalies == nil {
		cfg.Anomalies = anomaly.NewDetector(anomaly.DefaultConfig())
	}

	c := &Controller{
		owner:     newStateOwner(cfg.Now),
		collector: cfg.Collector,
		store:     cfg.Store,
		audit:     cfg.Audit,
		checker:   cfg.Checker,
		incidents: cfg.Incidents,
		anomalies: cfg.Anomalies,
		sched:     cfg.Schedule,
		now:       cfg.Now,
	}
	c.gate = gate.New(gate.Config{
		Policy:     cfg.Policy,
		Ledger:     c.owner,
		Executor:   cfg.Executor,
		Backups:    cfg.Backups,
		Breaker:    cfg.Breaker,
		Quarantine: cfg.Quarantine,
	})
	c.cycles = map[string]func(context.Context) error{
		CycleMonitoring:  c.monitoringCycle,
		CycleLearning:    c.learningCycle,
		CycleMaintenance: c.maintenanceCycle,
	}
	c.cycleMu = make(map[string]*sync.Mutex, len(c.cycles))
	for name := range c.cycles {
		c.cycleMu[name] = &sync.Mutex{}
	}
	return c
}

// ReleaseTable lifts the quarantine of table. It reports whether the table
// was quarantined.
func (c *Controller) ReleaseTable(table string) bool {
	q := c.gate.Quarantine()
	if !q.IsQuarantined(table) {
		return false
	}
	q.Release(table)
	logging.Info("[controller] quarantine of %s released by operator", table)
	return true
}

// ResetBreaker closes the fix circuit breaker.
func (c *Controller) ResetBreaker() {
	cb := c.gate.Breaker()
	prev := cb.State()
	cb.Reset()
	logging.Info("[controller] fix breaker reset from %s by operator", prev)
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start initializes the components and schedules all cycles. It fails with
// ErrAlreadyRunning, without touching state, while the controller is active.
// Start is the only way out of emergency mode.
func (c *Controller) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.owner.status().Status.Active() {
		return domain.ErrAlreadyRunning
	}

	c.owner.update(func(s *domain.SystemState) {
		s.Status = domain.StatusInitializing
		s.StartedAt = c.now()
		s.Uptime = 0
		s.EmergencyMode = false
		s.ConsecutiveFailures = 0
	})
	c.owner.endStop()
	logging.Info("[controller] initializing")

	if err := c.initialize(ctx); err != nil {
		logging.Error("[controller] initialization failed: %v", err)
		c.owner.transition(domain.StatusError, domain.StatusInitializing)
		if herr := c.heal(ctx, cycleInit, selfheal.FailInit, err, c.initialize); herr != nil {
			return herr
		}
	} else {
		c.owner.transition(domain.StatusRunning, domain.StatusInitializing)
	}

	if err := c.schedule(); err != nil {
		c.owner.update(func(s *domain.SystemState) { s.Status = domain.StatusError })
		return fmt.Errorf("schedule cycles: %w", err)
	}
	c.refreshNext()
	logging.Info("[controller] running")
	return nil
}

// initialize verifies every dependency is reachable.
func (c *Controller) initialize(ctx context.Context) error {
	if err := c.store.Ping(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.checker == nil {
		return nil
	}
	c.checker.RunAll(ctx)
	if n := c.checker.Failing(); n > 0 {
		return fmt.Errorf("%d health check(s) failing", n)
	}
	return nil
}

// Stop halts scheduling, waits for in-flight cycles to finish their current
// decision and flushes all documents. It is idempotent and valid in every
// state. If ctx expires first, Stop returns its error and may be called again.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.owner.status().Status == domain.StatusStopped {
		return nil
	}
	logging.Info("[controller] stopping")
	drained := c.owner.beginStop()

	c.cronMu.Lock()
	if c.cron != nil {
		c.draining = append(c.draining, c.cron.Stop())
		c.cron = nil
		c.entries = nil
	}
	waits := c.draining
	c.cronMu.Unlock()

	for _, w := range waits {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return fmt.Errorf("stop: waiting for scheduled cycles: %w", ctx.Err())
		}
	}
	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("stop: waiting for in-flight cycles: %w", ctx.Err())
	}

	c.cronMu.Lock()
	c.draining = nil
	c.cronMu.Unlock()

	c.owner.update(func(s *domain.SystemState) {
		if !s.StartedAt.IsZero() {
			s.Uptime = c.now().Sub(s.StartedAt)
		}
		s.Status = domain.StatusStopped
		s.NextScheduledAction = nil
	})
	c.owner.endStop()

	if err := c.flush(ctx); err != nil {
		logging.Error("[controller] final flush failed: %v", err)
		return err
	}
	logging.Info("[controller] stopped")
	return nil
}

// Status returns a deep copy of the system state.
func (c *Controller) Status() domain.SystemState {
	c.refreshNext()
	return c.owner.status()
}

// ─── Scheduling ─────────────────────────────────────────────────────────────

// healthSchedule fires the monitoring cycle more often as health drops.
type healthSchedule struct {
	base, min time.Duration
	health    func() float64
}

// Next implements cron.Schedule.
func (h healthSchedule) Next(t time.Time) time.Time {
	return t.Add(MonitoringInterval(h.base, h.min, h.health()))
}

// MonitoringInterval scales base by health/100, floored at min.
func MonitoringInterval(base, min time.Duration, health float64) time.Duration {
	if health > 100 {
		health = 100
	}
	if health < 0 {
		health = 0
	}
	d := time.Duration(float64(base) * health / 100)
	if d < min {
		return min
	}
	return d
}

func (c *Controller) schedule() error {
	logger := cron.PrintfLogger(logging.Printer{Level: logging.LevelDebug, Prefix: "[cron] "})
	cr := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	entries := make(map[cron.EntryID]string, 3)
	mon := healthSchedule{
		base:   c.sched.MonitoringBase,
		min:    c.sched.MonitoringMin,
		health: func() float64 { return c.owner.status().SystemHealth },
	}
	entries[cr.Schedule(mon, c.job(CycleMonitoring))] = CycleMonitoring

	for name, every := range map[string]time.Duration{
		CycleLearning:    c.sched.Learning,
		CycleMaintenance: c.sched.Maintenance,
	} {
		id, err := cr.AddJob(fmt.Sprintf("@every %s", every), c.job(name))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		entries[id] = name
	}

	c.cronMu.Lock()
	c.cron = cr
	c.entries = entries
	c.cronMu.Unlock()
	cr.Start()
	return nil
}

func (c *Controller) job(name string) cron.Job {
	return cron.FuncJob(func() {
		_ = c.RunCycle(context.Background(), name)
	})
}

// refreshNext records the earliest upcoming scheduled cycle.
func (c *Controller) refreshNext() {
	c.cronMu.Lock()
	cr, entries := c.cron, c.entries
	c.cronMu.Unlock()

	var next *domain.ScheduledAction
	if cr != nil {
		for _, e := range cr.Entries() {
			if e.Next.IsZero() {
				continue
			}
			if next == nil || e.Next.Before(next.At) {
				next = &domain.ScheduledAction{Cycle: entries[e.ID], At: e.Next}
			}
		}
	}
	c.owner.update(func(s *domain.SystemState) {
		if s.Status.Active() {
			s.NextScheduledAction = next
		}
	})
}

// halt stops the scheduler without waiting. Stop waits for it later.
func (c *Controller) halt() {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()
	if c.cron != nil {
		c.draining = append(c.draining, c.cron.Stop())
		c.cron = nil
		c.entries = nil
	}
}

// ─── Cycle Dispatch ─────────────────────────────────────────────────────────

// RunCycle runs one named cycle now. Scheduled jobs call it; operators may
// too. A failed cycle is healed before RunCycle returns.
func (c *Controller) RunCycle(ctx context.Context, name string) error {
	fn, ok := c.cycles[name]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCycle, name)
	}
	st := c.owner.status()
	if st.EmergencyMode {
		return domain.ErrEmergencyMode
	}
	if !st.Status.Active() {
		return domain.ErrNotRunning
	}
	if err := c.owner.enterCycle(); err != nil {
		return err
	}
	defer c.owner.exitCycle()

	mu := c.cycleMu[name]
	mu.Lock()
	defer mu.Unlock()

	started := c.now()
	err := fn(ctx)
	metrics.CycleDuration.WithLabelValues(name).Observe(c.now().Sub(started).Seconds())
	defer c.refreshNext()

	if err == nil {
		metrics.CyclesTotal.WithLabelValues(name, "success").Inc()
		c.owner.update(func(s *domain.SystemState) { s.ConsecutiveFailures = 0 })
		return nil
	}

	metrics.CyclesTotal.WithLabelValues(name, "failure").Inc()
	logging.Error("[controller] %s cycle started %s failed: %v", name, started.Format(time.RFC3339), err)
	if c.owner.isStopping() {
		return err
	}
	return c.heal(ctx, name, selfheal.FailCycle, err, fn)
}
