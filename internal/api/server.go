// Package api exposes the export trigger and run history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/period"
	"github.com/sells-group/o2c-export/internal/pipeline"
	"github.com/sells-group/o2c-export/internal/store"
)

// Starter launches background runs and serves their progress.
type Starter interface {
	Start(ctx context.Context, per period.Period, trigger model.Trigger) (*model.Run, error)
	Snapshot(runID string, since int) (pipeline.Snapshot, bool)
	Active() string
}

// RunReader is the read side of store.Store.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListStages(ctx context.Context, runID string) ([]model.RunStage, error)
}

// Options configures the router.
type Options struct {
	CutoffDay      int
	AllowedOrigins []string

	// TriggerRate and TriggerBurst bound POST /runs. Zero disables limiting.
	TriggerRate  rate.Limit
	TriggerBurst int
}

// Server holds the HTTP handlers.
type Server struct {
	runs    Starter
	store   RunReader
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger
}

// NewServer creates a Server.
func NewServer(runs Starter, st RunReader, opts Options) *Server {
	s := &Server{
		runs:  runs,
		store: st,
		opts:  opts,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "api")),
	}
	if opts.TriggerRate > 0 {
		burst := opts.TriggerBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.TriggerRate, burst)
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	}))

	r.Get("/health", s.health)
	r.Route("/runs", func(r chi.Router) {
		r.With(s.throttle).Post("/", s.startRun)
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"active_run": s.runs.Active(),
	})
}

type startRequest struct {
	Month string `json:"month"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	per, err := period.Resolve(req.Month, s.now(), s.opts.CutoffDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.runs.Start(r.Context(), per, model.TriggerAPI)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeError(w, http.StatusConflict, "an export run is already in progress")
		return
	case err != nil:
		s.log.Error("api: start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	s.log.Info("api: run started", zap.String("run_id", run.ID), zap.String("period", run.Period))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"run":    run,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Period: q.Get("period"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.log.Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	since, err := intParam(r.URL.Query().Get("since"), 0)
	if err != nil || since < 0 {
		writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error("api: get run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	stages, err := s.store.ListStages(r.Context(), id)
	if err != nil {
		s.log.Error("api: list stages", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stages")
		return
	}

	// Progress only exists for runs started by this process. While the job is
	// held, its own completion decides done; the store turns terminal first.
	lines := []string{}
	done := run.Status.Terminal()
	if snap, ok := s.runs.Snapshot(id, since); ok {
		done = snap.Done
		if snap.Lines != nil {
			lines = snap.Lines
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":      run,
		"stages":   stages,
		"progress": lines,
		"next":     since + len(lines),
		"done":     done,
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many run requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
