// Package progress defines the lifecycle events recorded for tasks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/ingest-progress/internal/task"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported lifecycle stages.
const (
	StageCreated  Stage = "TASK_CREATED"
	StageProgress Stage = "TASK_PROGRESS"
	StageDone     Stage = "TASK_DONE"
	StageError    Stage = "TASK_ERROR"
	StageReaped   Stage = "TASK_REAPED"
)

// Event captures a single task lifecycle change.
type Event struct {
	// TS is the UTC timestamp recorded by the registry.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Task is a detached snapshot taken when the event was recorded.
	Task task.Task
	// Dur is the time since the task was created.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Task.ID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCreated, StageProgress, StageReaped:
	case StageDone:
		if e.Task.Status != task.StatusCompleted {
			return fmt.Errorf("done event requires completed task, got %q", e.Task.Status)
		}
	case StageError:
		if e.Task.Status != task.StatusFailed {
			return fmt.Errorf("error event requires failed task, got %q", e.Task.Status)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes out a task.
func (e Event) Terminal() bool {
	return e.Stage == StageDone || e.Stage == StageError
}

// NewEvent builds an Event for snap at ts.
func NewEvent(stage Stage, snap task.Task, ts time.Time) Event {
	dur := ts.Sub(snap.CreatedAt)
	if dur < 0 || snap.CreatedAt.IsZero() {
		dur = 0
	}
	return Event{TS: ts, Stage: stage, Task: snap, Dur: dur}
}
