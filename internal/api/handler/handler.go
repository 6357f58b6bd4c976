// Package handler provides HTTP handlers for all API endpoints.
// Trigger endpoints always answer 200 with a run summary; failures inside a
// run are reported in the body, not the status.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mndd/notifier/internal/api/respond"
	"github.com/mndd/notifier/internal/notifications"
)

const (
	runTimeout      = 5 * time.Minute
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// Runner runs evaluators by name.
type Runner interface {
	Run(ctx context.Context, name string) (notifications.RunSummary, error)
	Names() []string
}

// Intake delivers ad-hoc notify requests.
type Intake interface {
	Handle(ctx context.Context, req notifications.Request) (notifications.RunSummary, error)
}

// RunLog reads persisted run summaries.
type RunLog interface {
	RecentRuns(ctx context.Context, evaluator string, limit int) ([]notifications.RunSummary, error)
}

// HealthChecker is one dependency whose reachability /health reports.
type HealthChecker func(ctx context.Context) error

// Deps are the handler's collaborators. RunLog and checks may be nil.
type Deps struct {
	Runner  Runner
	Intake  Intake
	RunLog  RunLog
	DBCheck HealthChecker
	Version string
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	deps Deps
}

// New creates a Handler with shared dependencies.
func New(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// detach keeps a run going if the caller hangs up; a half-finished run is
// safe but wasteful.
func detach(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), runTimeout)
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns service name, version, status and registered evaluators.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":       "MNDD Notifier",
		"version":    h.deps.Version,
		"status":     "running",
		"docs":       "/docs",
		"evaluators": h.deps.Runner.Names(),
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.deps.DBCheck == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"database":  "not configured",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err := h.deps.DBCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListEvaluators lists the evaluators that can be triggered.
// @Summary List evaluators
// @Tags triggers
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /triggers [get]
func (h *Handler) ListEvaluators(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"evaluators": h.deps.Runner.Names(),
	})
}

// Trigger runs one evaluator pass synchronously. Repeating a trigger is
// always safe.
// @Summary Run an evaluator
// @Description Runs one pass of the named evaluator and returns its summary. Failures inside the run are reported in the summary with status 200.
// @Tags triggers
// @Produce json
// @Param evaluator path string true "Evaluator name, e.g. reminders, leaders, digests, publications, daily:verse, birthdays"
// @Success 200 {object} notifications.RunSummary
// @Failure 404 {object} respond.ErrorResponse
// @Router /triggers/{evaluator} [post]
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := pathValue(r, "evaluator")

	ctx, cancel := detach(r)
	defer cancel()

	sum, err := h.deps.Runner.Run(ctx, name)
	if errors.Is(err, notifications.ErrUnknownEvaluator) {
		respond.WriteErrorDetail(w, http.StatusNotFound, "UNKNOWN_EVALUATOR", "No evaluator named "+name, err.Error())
		return
	}
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "RUN_FAILED", "Evaluator run failed", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, sum)
}

// Notify delivers an ad-hoc notification.
// @Summary Send a notification
// @Description Delivers a notification to the selected audience. Requests with the same id are delivered at most once.
// @Tags notify
// @Accept json
// @Produce json
// @Param request body notifications.Request true "Notify request"
// @Success 200 {object} notifications.RunSummary
// @Failure 400 {object} respond.ErrorResponse
// @Router /notify [post]
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifications.Request
	if err := decodeJSON(r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", err.Error())
		return
	}

	ctx, cancel := detach(r)
	defer cancel()

	sum, err := h.deps.Intake.Handle(ctx, req)
	if errors.Is(err, notifications.ErrInvalidRequest) {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid notify request", err.Error())
		return
	}
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "NOTIFY_FAILED", "Notify request failed", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, sum)
}

// RecentRuns returns persisted summaries for an evaluator.
// @Summary Recent runs
// @Tags triggers
// @Produce json
// @Param evaluator path string true "Evaluator name"
// @Param limit query int false "Max rows (default 20, max 200)"
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} respond.ErrorResponse
// @Router /runs/{evaluator} [get]
func (h *Handler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.RunLog == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "RUN_LOG_DISABLED", "Run log is not configured")
		return
	}
	name := pathValue(r, "evaluator")
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.deps.RunLog.RecentRuns(r.Context(), name, limit)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "QUERY_FAILED", "Could not load runs", err.Error())
		return
	}
	if runs == nil {
		runs = []notifications.RunSummary{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"evaluator": name,
		"runs":      runs,
	})
}
