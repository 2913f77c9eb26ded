package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/config"
	"github.com/JakeFAU/ingest-progress/internal/ingest"
	"github.com/JakeFAU/ingest-progress/internal/metrics"
	"github.com/JakeFAU/ingest-progress/internal/stream"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

const (
	readinessTimeout = 2 * time.Second
	maxBodyBytes     = 10 << 20
)

// TaskRegistry is the task store the handlers read and create tasks in.
type TaskRegistry interface {
	CreateTask(taskType string) task.Task
	GetTask(id string) (task.Task, bool)
	ListTasks() map[string]task.Task
	FailTask(id, message string) bool
}

// Streamer follows one task until it ends.
type Streamer interface {
	Serve(ctx context.Context, taskID string, w stream.Writer) error
}

// JobSubmitter hands ingestion jobs to the worker pool without blocking.
type JobSubmitter interface {
	Submit(job ingest.Job) error
}

// RequestIDGenerator mints ids for requests that arrive without one.
type RequestIDGenerator interface {
	NewRequestID() (string, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// StatsFunc reports service counters for GET /api/stats.
type StatsFunc func(ctx context.Context) map[string]any

// Option customizes a Server.
type Option func(*Server)

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithStats adds service counters to /api/stats.
func WithStats(fn StatsFunc) Option {
	return func(s *Server) {
		s.stats = fn
	}
}

// WithRequestIDs sets the request id generator.
func WithRequestIDs(gen RequestIDGenerator) Option {
	return func(s *Server) {
		s.requestIDs = gen
	}
}

// Server wires HTTP handlers to the task registry, stream handler and
// worker pool.
type Server struct {
	router     chi.Router
	tasks      TaskRegistry
	streams    Streamer
	jobs       JobSubmitter
	requestIDs RequestIDGenerator
	checks     map[string]ReadinessCheck
	stats      StatsFunc
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tasks TaskRegistry,
	streams Streamer,
	jobs JobSubmitter,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		tasks:   tasks,
		streams: streams,
		jobs:    jobs,
		checks:  make(map[string]ReadinessCheck),
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Streams stay open for the life of a task; http.TimeoutHandler
		// would buffer and cut them.
		r.Get("/tasks/{task_id}/stream", s.streamTask)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout()))
			r.Get("/tasks", s.listTasks)
			r.Get("/tasks/{task_id}", s.getTask)
			r.Get("/stats", s.getStats)
			r.Route("/ingest", func(r chi.Router) {
				r.Post("/webpage/async", s.ingestWebpage)
				r.Post("/webpages/async", s.ingestWebpages)
				r.Post("/sitemap/async", s.ingestSitemap)
				r.Post("/recursive/async", s.ingestRecursive)
				r.Post("/text/async", s.ingestText)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	byStatus := map[task.Status]int{}
	all := s.tasks.ListTasks()
	for _, t := range all {
		byStatus[t.Status]++
	}
	payload := map[string]any{
		"tasks_total":     len(all),
		"tasks_by_status": byStatus,
	}
	if s.stats != nil {
		for k, v := range s.stats(r.Context()) {
			payload[k] = v
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" && s.requestIDs != nil {
			if id, err := s.requestIDs.NewRequestID(); err == nil {
				reqID = id
			}
		}
		if reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", requestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are gone once encoding starts; a failure here means the client left.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
