// Package http serves the worker's operational endpoints: liveness,
// readiness, scheduler job status with manual runs, and the event
// dead letter queue. Ledger operations are not exposed here.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latetrack/late-ledger/internal/infrastructure/messaging"
	"github.com/latetrack/late-ledger/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains ops server configuration.
type Config struct {
	// Addr to listen on (default: ":8081").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8081",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobRunner is the part of the scheduler the server uses.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	History(limit int) []scheduler.JobResult
	RunNow(ctx context.Context, jobName string) (scheduler.JobResult, error)
}

// DeadLetters exposes failed event deliveries.
type DeadLetters interface {
	Size() int
	Entries() []messaging.DeadLetterEntry
}

// Dependencies of the ops server. Jobs and DeadLetters may be nil.
type Dependencies struct {
	Health      *HealthChecker
	Jobs        JobRunner
	DeadLetters DeadLetters
	Logger      *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the ops HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	router     *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewServer creates a server. Call Start to listen.
func NewServer(config Config, deps Dependencies) *Server {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker("", 0)
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With("component", "ops_http"),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /healthz", s.handleLive)
	s.router.HandleFunc("GET /readyz", s.handleReady)

	s.router.HandleFunc("GET /jobs", s.handleListJobs)
	s.router.HandleFunc("GET /jobs/history", s.handleJobHistory)
	s.router.HandleFunc("POST /jobs/{name}/run", s.handleRunJob)

	s.router.HandleFunc("GET /dead-letters", s.handleDeadLetters)
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = s.loggingMiddleware(h)
	h = s.recoveryMiddleware(h)
	h = s.requestIDMiddleware(h)
	return h
}

// ──────────────────────────────────────────────────────────────────────────────
// Middleware
// ──────────────────────────────────────────────────────────────────────────────

type contextKey string

const contextKeyRequestID contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		level := slog.LevelDebug
		if rw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(r.Context()),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotFound, "scheduler_disabled", "scheduler is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Jobs.ListJobs())
}

// jobResultView is scheduler.JobResult with the error as text.
type jobResultView struct {
	JobName     string    `json:"job_name"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Manual      bool      `json:"manual,omitempty"`
}

func newJobResultView(r scheduler.JobResult) jobResultView {
	v := jobResultView{
		JobName:     r.JobName,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.Duration.Milliseconds(),
		Success:     r.Success,
		Manual:      r.Manual,
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	return v
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotFound, "scheduler_disabled", "scheduler is not running")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	history := s.deps.Jobs.History(limit)
	out := make([]jobResultView, 0, len(history))
	for _, h := range history {
		out = append(out, newJobResultView(h))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotFound, "scheduler_disabled", "scheduler is not running")
		return
	}
	name := r.PathValue("name")

	result, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, http.StatusNotFound, "job_not_found", fmt.Sprintf("no job named %q", name))
		return
	case errors.Is(err, scheduler.ErrJobInProgress):
		writeJSONError(w, http.StatusConflict, "job_in_progress", "job is already running")
		return
	}

	s.logger.Info("job run requested", "job", name, "success", result.Success, "request_id", requestID(r.Context()))
	code := http.StatusOK
	if !result.Success {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, newJobResultView(result))
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		writeJSON(w, http.StatusOK, map[string]any{"size": 0})
		return
	}

	type entry struct {
		Handler   string    `json:"handler"`
		EventType string    `json:"event_type"`
		RollNo    string    `json:"roll_no,omitempty"`
		Error     string    `json:"error"`
		FailedAt  time.Time `json:"failed_at"`
	}
	entries := s.deps.DeadLetters.Entries()
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		item := entry{Handler: e.Handler, Error: e.Error, FailedAt: e.FailedAt}
		if e.Event != nil {
			item.EventType = string(e.Event.EventType())
			item.RollNo = e.Event.AggregateID()
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"size": len(out), "entries": out})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// StartAsync listens in a goroutine. The channel yields a listen error, if
// any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.Info("ops server listening", "addr", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
