package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitebook/autodb/internal/api"
	"github.com/sitebook/autodb/internal/collector"
	"github.com/sitebook/autodb/internal/controller"
	"github.com/sitebook/autodb/internal/health"
	"github.com/sitebook/autodb/internal/infra/healing"
	"github.com/sitebook/autodb/internal/infra/selfheal"
	"github.com/sitebook/autodb/internal/infra/sqlite"
	"github.com/sitebook/autodb/internal/infra/target"
	"github.com/sitebook/autodb/internal/logging"
	"github.com/sitebook/autodb/internal/schema"
)

// ShutdownTimeout bounds the graceful stop on a signal.
const ShutdownTimeout = 30 * time.Second

// Daemon is the autodb runtime. It wires together all services.
type Daemon struct {
	Config     Config
	Store      *sqlite.DB
	Target     *target.DB
	Controller *controller.Controller
	Health     *health.Checker
	Server     *api.Server

	logCloser io.Closer
	cancel    context.CancelFunc
}

// New creates a Daemon from $AUTODB_HOME/config.toml.
func New(ctx context.Context) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates a Daemon from an explicit configuration and
// restores persisted controller state. The controller is not started.
func NewWithConfig(ctx context.Context, cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	closer, err := logging.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	d := &Daemon{Config: cfg, logCloser: closer}

	d.Store, err = sqlite.Open(cfg.Store.Dir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	d.Target, err = target.Open(ctx, target.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Schema: cfg.Database.Schema,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open target: %w", err)
	}

	var expected *schema.Document
	if cfg.Database.ExpectedSchema != "" {
		expected, err = schema.LoadFile(cfg.Database.ExpectedSchema)
		if err != nil {
			d.Close()
			return nil, err
		}
	}

	col := collector.New(d.Target, collector.Config{
		SlowQueryThreshold: parseDuration(cfg.Collector.SlowQueryThreshold, 500*time.Millisecond),
		Expected:           expected,
	})

	d.Health = health.NewChecker(
		health.StoreCheck(d.Store.Ping),
		health.TargetCheck(d.Target.Ping, nil),
		health.DiskSpaceCheck(cfg.Store.Dir, parseStorageSize(cfg.Store.MinFreeDisk)),
	)

	breakerCfg := healing.DefaultCircuitBreakerConfig()
	if cfg.Healing.BreakerThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.Healing.BreakerThreshold
	}
	breakerCfg.ResetTimeout = parseDuration(cfg.Healing.BreakerReset, breakerCfg.ResetTimeout)

	quarantineCfg := healing.DefaultQuarantineConfig()
	if cfg.Healing.QuarantineAfter > 0 {
		quarantineCfg.FailureThreshold = cfg.Healing.QuarantineAfter
	}
	quarantineCfg.FailureDuration = parseDuration(cfg.Healing.QuarantineDuration, quarantineCfg.FailureDuration)

	incidentCfg := selfheal.DefaultConfig()
	if cfg.Healing.RemediationAttempts > 0 {
		incidentCfg.MaxRemediationAttempts = cfg.Healing.RemediationAttempts
	}

	def := controller.DefaultScheduleConfig()
	d.Controller = controller.New(controller.Config{
		Collector:  col,
		Store:      d.Store,
		Backups:    d.Store,
		Audit:      d.Store,
		Executor:   d.Target,
		Policy:     cfg.Policy,
		Checker:    d.Health,
		Breaker:    healing.NewCircuitBreaker("fixes", breakerCfg),
		Quarantine: healing.NewQuarantine(quarantineCfg),
		Incidents:  selfheal.NewTracker(incidentCfg),
		Schedule: controller.ScheduleConfig{
			MonitoringBase: parseDuration(cfg.Schedule.MonitoringBase, def.MonitoringBase),
			MonitoringMin:  parseDuration(cfg.Schedule.MonitoringMin, def.MonitoringMin),
			Learning:       parseDuration(cfg.Schedule.Learning, def.Learning),
			Maintenance:    parseDuration(cfg.Schedule.Maintenance, def.Maintenance),
		},
	})
	if err := d.Controller.Load(ctx); err != nil {
		d.Close()
		return nil, err
	}

	d.Server = api.NewServer(d.Controller)
	d.Server.SetChecker(d.Health)
	d.Server.SetAllowedOrigins(cfg.API.CORSOrigins)
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	logging.Info("[daemon] %s ready (target %s schema %s, store %s)", cfg.Node.Name, d.Target.Dialect().Name(), d.Target.SchemaName(), cfg.Store.Dir)
	return d, nil
}

// NewOffline opens only the persistence store and restores controller
// state from it. The returned daemon answers Status and Report without
// reaching the target database; it cannot run cycles.
func NewOffline(ctx context.Context, cfg Config) (*Daemon, error) {
	d := &Daemon{Config: cfg}
	var err error
	d.Store, err = sqlite.Open(cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.Controller = controller.New(controller.Config{
		Store:   d.Store,
		Backups: d.Store,
		Audit:   d.Store,
		Policy:  cfg.Policy,
	})
	if err := d.Controller.Load(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Serve starts the controller and the HTTP server and blocks until a
// signal or ctx cancellation. autostart false leaves the controller
// stopped until POST /api/start.
func (d *Daemon) Serve(ctx context.Context, autostart bool) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	if autostart {
		if err := d.Controller.Start(ctx); err != nil {
			// Emergency mode still serves status so an operator can inspect it.
			logging.Error("[daemon] start controller: %v", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: api.StopTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer shutdownCancel()

		if err := d.Controller.Stop(shutdownCtx); err != nil {
			logging.Error("[daemon] stop controller: %v", err)
		}
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("autodb serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-done
		return err
	}
	<-done
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Target != nil {
		_ = d.Target.Close()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.logCloser != nil {
		_ = d.logCloser.Close()
	}
}

// parseStorageSize converts "1GB" to bytes. Simple parser for config.
func parseStorageSize(s string) uint64 {
	var val uint64
	var unit string
	fmt.Sscanf(s, "%d%s", &val, &unit)
	if val == 0 {
		return 1024 * 1024 * 1024 // Default 1GB
	}
	switch unit {
	case "TB":
		return val * 1024 * 1024 * 1024 * 1024
	case "GB":
		return val * 1024 * 1024 * 1024
	case "MB":
		return val * 1024 * 1024
	case "KB":
		return val * 1024
	default:
		return val * 1024 * 1024 * 1024 // Assume GB
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
