package daemon

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petal-labs/arbor/bus"
	"github.com/petal-labs/arbor/registry"
	"github.com/petal-labs/arbor/sse"
)

// ServerConfig controls admin HTTP server dependencies.
type ServerConfig struct {
	Scheduler *Scheduler
	Store     bus.EventStore
	Registry  *registry.Registry

	// Bus enables the SSE stream route when set together with Store.
	Bus bus.EventBus

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server exposes health, metrics, the node-type catalog, schedules and
// stored run events.
type Server struct {
	scheduler *Scheduler
	store     bus.EventStore
	stream    http.Handler
	reg       *registry.Registry
	metrics   http.Handler
	logger    *slog.Logger
}

// NewServer constructs an admin server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Registry == nil {
		cfg.Registry = registry.Global()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var stream http.Handler
	if cfg.Store != nil && cfg.Bus != nil {
		h := sse.NewHandler(cfg.Store, cfg.Bus)
		h.RunID = func(r *http.Request) string { return chi.URLParam(r, "runID") }
		stream = h
	}
	return &Server{
		stream:    stream,
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		reg:       cfg.Registry,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Handler returns an http.Handler exposing the admin API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/node-types", s.handleNodeTypes)
		r.Get("/schedules", s.handleListSchedules)
		r.Post("/schedules/{name}/run", s.handleTriggerSchedule)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}/events", s.handleRunEvents)
		r.Get("/runs/{runID}/nodes", s.handleRunNodes)
		if s.stream != nil {
			r.Method(http.MethodGet, "/runs/{runID}/stream", s.stream)
		}
	})
	return r
}

type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type apiErrorResponse struct {
	Error apiErrorDetail `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNodeTypes(w http.ResponseWriter, r *http.Request) {
	all := s.reg.All()
	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		all = s.reg.ByCategory(category)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_types": all,
	})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	var schedules []ScheduleState
	if s.scheduler != nil {
		schedules = s.scheduler.Schedules()
	}
	if schedules == nil {
		schedules = []ScheduleState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
	})
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "no schedules configured", nil)
		return
	}
	name := chi.URLParam(r, "name")
	report, err := s.scheduler.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, ErrUnknownSchedule):
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "RUN_FAILED", err.Error(), report)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []string{}})
		return
	}
	ids, err := s.store.RunIDs(r.Context())
	if err != nil {
		s.logger.Error("list runs", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": ids})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "no event store configured", nil)
		return
	}
	runID := chi.URLParam(r, "runID")

	var after uint64
	if v, ok := queryParam(r, "after"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_QUERY", "after must be a non-negative integer", nil)
			return
		}
		after = n
	}
	limit := 0
	if v, ok := queryParam(r, "limit"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	events, err := s.store.List(r.Context(), runID, after, limit)
	if err != nil {
		s.logger.Error("list run events", "run_id", runID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	if len(events) == 0 && after == 0 {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "run "+runID+" has no events", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": events,
	})
}

// handleRunNodes reports every node run of a tree run with its parent and
// outcome, in start order.
func (s *Server) handleRunNodes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "no event store configured", nil)
		return
	}
	runID := chi.URLParam(r, "runID")
	runs, err := bus.NodeRuns(r.Context(), s.store, runID)
	if err != nil {
		s.logger.Error("list node runs", "run_id", runID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
		return
	}
	if len(runs) == 0 {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "run "+runID+" has no node runs", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"nodes":  runs,
	})
}

func queryParam(r *http.Request, key string) (string, bool) {
	values, ok := r.URL.Query()[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
