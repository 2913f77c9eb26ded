package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/task"
)

// Reporter is the write side of the task registry as seen by workers. Calls
// against unknown or finished tasks are ignored.
type Reporter interface {
	UpdateProgress(id string, u task.ProgressUpdate) bool
	CompleteTask(id string, result map[string]any) bool
	FailTask(id, message string) bool
}

// Milestone is a coarse progress checkpoint.
type Milestone struct {
	Step       string
	Percentage float64
}

// Report sends m with optional item counts. Pass a negative count to leave it
// unchanged.
func Report(r Reporter, taskID string, m Milestone, processed, total int) {
	u := task.ProgressUpdate{Step: m.Step, Percentage: task.Float(m.Percentage)}
	if processed >= 0 {
		u.ItemsProcessed = task.Int(processed)
	}
	if total >= 0 {
		u.TotalItems = task.Int(total)
	}
	r.UpdateProgress(taskID, u)
}

// WorkFunc performs a job and returns the result stored on completion.
type WorkFunc func(ctx context.Context) (map[string]any, error)

// Run executes fn and guarantees the task ends terminal: a nil error completes
// it with the returned result, an error or panic fails it with a readable
// message, and a cancelled ctx fails it even if fn ignored cancellation.
// The returned error mirrors what was reported.
func Run(ctx context.Context, r Reporter, taskID string, fn WorkFunc, logger *zap.Logger) (err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("ingest worker panicked",
				zap.String("task_id", taskID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
			r.FailTask(taskID, err.Error())
		}
	}()

	result, err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		r.FailTask(taskID, FailureMessage(err))
		return err
	}
	r.CompleteTask(taskID, result)
	return nil
}

// ErrPanic marks failures caused by a recovered panic.
var ErrPanic = errors.New("internal error")

// FailureMessage renders err for the task's error field.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "task cancelled: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "task timed out: " + err.Error()
	default:
		return err.Error()
	}
}
