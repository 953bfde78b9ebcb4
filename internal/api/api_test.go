package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sitebook/autodb/internal/controller"
	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/health"
	"github.com/sitebook/autodb/internal/infra/sqlite"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeController struct {
	state    domain.SystemState
	startErr error
	stopErr  error
	cycleErr error
	ran      []string
	held     map[string]bool
	resets   int
}

func (f *fakeController) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.state.Status = domain.StatusRunning
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.state.Status = domain.StatusStopped
	return nil
}

func (f *fakeController) Status() domain.SystemState { return f.state.Clone() }

func (f *fakeController) ReleaseTable(table string) bool {
	if !f.held[table] {
		return false
	}
	delete(f.held, table)
	return true
}

func (f *fakeController) ResetBreaker() { f.resets++ }

func (f *fakeController) Report(_ context.Context, name string) (any, error) {
	if name != controller.ReportSummary {
		return nil, domain.ErrUnknownReport
	}
	return map[string]int{"decisions": f.state.AIDecisions}, nil
}

func (f *fakeController) RunCycle(_ context.Context, name string) error {
	f.ran = append(f.ran, name)
	return f.cycleErr
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ─── Health ─────────────────────────────────────────────────────────────────

func TestAPI_Health(t *testing.T) {
	srv := NewServer(&fakeController{state: domain.DefaultSystemState()})
	w := do(t, srv.Handler(), "GET", "/health")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestAPI_Health_Degraded(t *testing.T) {
	srv := NewServer(&fakeController{state: domain.DefaultSystemState()})
	checker := health.NewChecker(health.Check{
		Name:    "target",
		CheckFn: func(context.Context) error { return errors.New("refused") },
	})
	checker.RunAll(context.Background())
	srv.SetChecker(checker)

	w := do(t, srv.Handler(), "GET", "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), "refused") {
		t.Errorf("body should include the failing check: %s", w.Body.String())
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestAPI_StartStop(t *testing.T) {
	ctl := &fakeController{state: domain.DefaultSystemState()}
	h := NewServer(ctl).Handler()

	w := do(t, h, "POST", "/api/start")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d, body: %s", w.Code, w.Body.String())
	}
	var st domain.SystemState
	json.NewDecoder(w.Body).Decode(&st)
	if st.Status != domain.StatusRunning {
		t.Errorf("Status = %q, want running", st.Status)
	}

	ctl.startErr = domain.ErrAlreadyRunning
	if w := do(t, h, "POST", "/api/start"); w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = do(t, h, "POST", "/api/stop")
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d", w.Code)
	}
	json.NewDecoder(w.Body).Decode(&st)
	if st.Status != domain.StatusStopped {
		t.Errorf("Status = %q, want stopped", st.Status)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnknownCycle, http.StatusNotFound},
		{domain.ErrNotRunning, http.StatusConflict},
		{domain.ErrStopping, http.StatusConflict},
		{domain.ErrEmergencyMode, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		ctl := &fakeController{state: domain.DefaultSystemState(), cycleErr: tt.err}
		w := do(t, NewServer(ctl).Handler(), "POST", "/api/cycles/monitoring")
		if w.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
		var body map[string]map[string]string
		json.NewDecoder(w.Body).Decode(&body)
		if body["error"]["message"] == "" {
			t.Errorf("%v: missing error message", tt.err)
		}
	}
}

func TestAPI_RunCycle(t *testing.T) {
	ctl := &fakeController{state: domain.DefaultSystemState()}
	w := do(t, NewServer(ctl).Handler(), "POST", "/api/cycles/learning")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(ctl.ran) != 1 || ctl.ran[0] != "learning" {
		t.Errorf("ran = %v, want [learning]", ctl.ran)
	}
}

// ─── Reports ────────────────────────────────────────────────────────────────

func TestAPI_Reports(t *testing.T) {
	ctl := &fakeController{state: domain.DefaultSystemState()}
	ctl.state.AIDecisions = 7
	h := NewServer(ctl).Handler()

	w := do(t, h, "GET", "/api/reports/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]int
	json.NewDecoder(w.Body).Decode(&body)
	if body["decisions"] != 7 {
		t.Errorf("decisions = %d, want 7", body["decisions"])
	}

	if w := do(t, h, "GET", "/api/reports/quarterly"); w.Code != http.StatusNotFound {
		t.Errorf("unknown report status = %d, want 404", w.Code)
	}

	w = do(t, h, "GET", "/api/reports")
	var names map[string][]string
	json.NewDecoder(w.Body).Decode(&names)
	if len(names["reports"]) != len(controller.ReportNames()) {
		t.Errorf("reports = %v", names["reports"])
	}
}

// ─── Healing Overrides ──────────────────────────────────────────────────────

func TestAPI_ReleaseTable(t *testing.T) {
	ctl := &fakeController{state: domain.DefaultSystemState(), held: map[string]bool{"orders": true}}
	h := NewServer(ctl).Handler()

	w := do(t, h, "DELETE", "/api/quarantine/orders")
	if w.Code != http.StatusOK {
		t.Fatalf("release = %d: %s", w.Code, w.Body.String())
	}
	if ctl.held["orders"] {
		t.Error("orders still quarantined")
	}
	if w := do(t, h, "DELETE", "/api/quarantine/orders"); w.Code != http.StatusNotFound {
		t.Errorf("second release = %d, want 404", w.Code)
	}
}

func TestAPI_ResetBreaker(t *testing.T) {
	ctl := &fakeController{state: domain.DefaultSystemState()}
	if w := do(t, NewServer(ctl).Handler(), "POST", "/api/breaker/reset"); w.Code != http.StatusOK {
		t.Fatalf("reset = %d", w.Code)
	}
	if ctl.resets != 1 {
		t.Errorf("resets = %d, want 1", ctl.resets)
	}
}

func TestAPI_Metrics(t *testing.T) {
	srv := NewServer(&fakeController{state: domain.DefaultSystemState()})
	if w := do(t, srv.Handler(), "GET", "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("disabled metrics status = %d, want 404", w.Code)
	}
	srv.EnableMetrics()
	w := do(t, srv.Handler(), "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "autodb_") {
		t.Error("metrics output should contain autodb_ series")
	}
}

func TestAPI_CORS(t *testing.T) {
	srv := NewServer(&fakeController{state: domain.DefaultSystemState()})
	req := httptest.NewRequest("OPTIONS", "/api/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

// ─── Against a Real Controller ──────────────────────────────────────────────

type emptyCollector struct{}

func (emptyCollector) Collect(context.Context) (domain.MetricsSnapshot, error) {
	return domain.MetricsSnapshot{
		ID:               "snap",
		Timestamp:        time.Now(),
		PerformanceScore: 100,
		HealthStatus:     domain.HealthExcellent,
	}, nil
}

func TestAPI_WithController(t *testing.T) {
	store, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer store.Close()

	ctl := controller.New(controller.Config{
		Collector: emptyCollector{},
		Store:     store,
		Backups:   store,
		Audit:     store,
		Policy:    domain.DefaultSafetyPolicy(),
	})
	h := NewServer(ctl).Handler()

	if w := do(t, h, "POST", "/api/cycles/monitoring"); w.Code != http.StatusConflict {
		t.Errorf("cycle before start = %d, want 409", w.Code)
	}
	if w := do(t, h, "POST", "/api/start"); w.Code != http.StatusOK {
		t.Fatalf("start = %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, h, "POST", "/api/start"); w.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", w.Code)
	}
	if w := do(t, h, "POST", "/api/cycles/monitoring"); w.Code != http.StatusOK {
		t.Errorf("cycle = %d: %s", w.Code, w.Body.String())
	}
	w := do(t, h, "GET", "/api/reports/metrics")
	var snaps []domain.MetricsSnapshot
	json.NewDecoder(w.Body).Decode(&snaps)
	if len(snaps) != 1 {
		t.Errorf("snapshots = %d, want 1", len(snaps))
	}
	w = do(t, h, "GET", "/api/reports/rollbacks")
	var audit controller.RollbacksReport
	json.NewDecoder(w.Body).Decode(&audit)
	if w.Code != http.StatusOK || audit.Backups == nil {
		t.Errorf("rollbacks = %d %+v", w.Code, audit)
	}
	if w := do(t, h, "DELETE", "/api/quarantine/orders"); w.Code != http.StatusNotFound {
		t.Errorf("release unquarantined = %d, want 404", w.Code)
	}
	if w := do(t, h, "POST", "/api/stop"); w.Code != http.StatusOK {
		t.Errorf("stop = %d", w.Code)
	}
}
