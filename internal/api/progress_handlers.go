package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/metrics"
	"github.com/JakeFAU/ingest-progress/internal/stream"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

// listTasks returns the bare snapshot map keyed by task id.
func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.ListTasks())
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	snap, ok := s.tasks.GetTask(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", taskID))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) streamTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("clear write deadline", zap.Error(err))
	}

	sw := &sseWriter{w: w, rc: rc}
	metrics.StreamOpened()
	defer metrics.StreamClosed()

	err := s.streams.Serve(r.Context(), taskID, sw)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrTaskNotFound) && !sw.started:
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", taskID))
	default:
		s.logger.Debug("stream ended",
			zap.String("task_id", taskID),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
	}
}

// sseWriter frames task snapshots as Server-Sent Events. Headers are sent
// with the first frame so a missing task can still be answered with 404.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func (s *sseWriter) WriteSnapshot(snapshot task.Task) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.write("data: " + string(data) + "\n\n")
}

func (s *sseWriter) WriteHeartbeat() error {
	return s.write(": heartbeat\n\n")
}

func (s *sseWriter) write(frame string) error {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}
