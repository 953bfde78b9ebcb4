// Package api provides the HTTP surface the dashboard and CLI use to drive
// the controller. It only ever reads state copies; mutations go through
// Start, Stop, RunCycle and the two healing overrides.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitebook/autodb/internal/controller"
	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/health"
	"github.com/sitebook/autodb/internal/logging"
)

// Controller is the control surface the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() domain.SystemState
	Report(ctx context.Context, name string) (any, error)
	RunCycle(ctx context.Context, name string) error
	ReleaseTable(table string) bool
	ResetBreaker()
}

// StopTimeout bounds how long POST /api/stop waits for in-flight cycles.
const StopTimeout = 2 * time.Minute

// Server is the autodb HTTP API server.
type Server struct {
	ctl            Controller
	checker        *health.Checker
	metricsEnabled bool
	allowedOrigins []string
}

// NewServer creates a new API server.
func NewServer(ctl Controller) *Server {
	return &Server{ctl: ctl, allowedOrigins: []string{"*"}}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetChecker makes /health report the health check results.
func (s *Server) SetChecker(c *health.Checker) { s.checker = c }

// SetAllowedOrigins restricts CORS origins.
func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) > 0 {
		s.allowedOrigins = origins
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/cycles/{name}", s.handleRunCycle)
		r.Get("/reports", s.handleReportNames)
		r.Get("/reports/{name}", s.handleReport)
		r.Delete("/quarantine/{table}", s.handleReleaseTable)
		r.Post("/breaker/reset", s.handleResetBreaker)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		render.JSON(w, r, map[string]string{"status": "ok"})
		return
	}
	statuses := s.checker.Statuses()
	status := "ok"
	if !s.checker.IsHealthy() {
		status = "degraded"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, map[string]any{"status": status, "checks": statuses})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.ctl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Start(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, s.ctl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), StopTimeout)
	defer cancel()
	if err := s.ctl.Stop(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, s.ctl.Status())
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.ctl.RunCycle(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, s.ctl.Status())
}

func (s *Server) handleReportNames(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string][]string{"reports": controller.ReportNames()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.ctl.Report(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, rep)
}

func (s *Server) handleReleaseTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !s.ctl.ReleaseTable(table) {
		writeError(w, r, fmt.Errorf("%w: %s", domain.ErrNotQuarantined, table))
		return
	}
	render.JSON(w, r, map[string]any{"table": table, "released": true})
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	s.ctl.ResetBreaker()
	render.JSON(w, r, s.ctl.Status())
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownReport), errors.Is(err, domain.ErrUnknownCycle),
		errors.Is(err, domain.ErrNotQuarantined):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrStopping):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmergencyMode):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.Error("[api] %s %s: %v", r.Method, r.URL.Path, err)
	}
	render.Status(r, code)
	render.JSON(w, r, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    http.StatusText(code),
		},
	})
}
