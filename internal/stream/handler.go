// Package stream drives a single observer connection for one task: it sends
// the current snapshot, relays live updates, and emits heartbeats while the
// task is idle, until the task reaches a terminal status.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/task"
)

// DefaultHeartbeat is the idle interval between keep-alive comments.
const DefaultHeartbeat = 30 * time.Second

// ErrTaskNotFound is returned by Serve when the task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Reader looks up task snapshots.
type Reader interface {
	GetTask(id string) (task.Task, bool)
}

// Subscriber manages delivery channels for a task id.
type Subscriber interface {
	NewChannel() chan task.Task
	Subscribe(taskID string, ch chan task.Task)
	Unsubscribe(taskID string, ch chan task.Task)
}

// Writer renders stream frames onto a transport.
type Writer interface {
	WriteSnapshot(snapshot task.Task) error
	WriteHeartbeat() error
}

// Handler serves task streams.
type Handler struct {
	reader    Reader
	hub       Subscriber
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewHandler constructs a Handler. A non-positive heartbeat selects DefaultHeartbeat.
func NewHandler(reader Reader, hub Subscriber, heartbeat time.Duration, logger *zap.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, hub: hub, heartbeat: heartbeat, logger: logger}
}

// Serve streams taskID to w until the task is terminal, the task disappears,
// ctx is cancelled, or a write fails. The subscription is released on every
// return path.
func (h *Handler) Serve(ctx context.Context, taskID string, w Writer) error {
	current, ok := h.reader.GetTask(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	ch := h.hub.NewChannel()
	h.hub.Subscribe(taskID, ch)
	defer h.hub.Unsubscribe(taskID, ch)

	// Re-read after subscribing so no commit falls between the two.
	if latest, ok := h.reader.GetTask(taskID); ok {
		current = latest
	}
	if err := w.WriteSnapshot(current); err != nil {
		return fmt.Errorf("write initial snapshot: %w", err)
	}
	if current.Status.IsTerminal() {
		return nil
	}
	last := current.Revision

	timer := time.NewTimer(h.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stream observer left", zap.String("task_id", taskID))
			return nil

		case snap := <-ch:
			if snap.Revision <= last {
				continue
			}
			if err := w.WriteSnapshot(snap); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			last = snap.Revision
			if snap.Status.IsTerminal() {
				return nil
			}
			resetTimer(timer, h.heartbeat)

		case <-timer.C:
			if err := w.WriteHeartbeat(); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
			latest, ok := h.reader.GetTask(taskID)
			if !ok {
				h.logger.Debug("streamed task was reaped", zap.String("task_id", taskID))
				return nil
			}
			if latest.Status.IsTerminal() {
				if latest.Revision > last {
					if err := w.WriteSnapshot(latest); err != nil {
						return fmt.Errorf("write final snapshot: %w", err)
					}
				}
				return nil
			}
			timer.Reset(h.heartbeat)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
