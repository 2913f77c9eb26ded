package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/registry"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

func TestRunCompletesWithResult(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	id := reg.CreateTask("text_ingest").ID

	err := Run(context.Background(), reg, id, func(context.Context) (map[string]any, error) {
		return map[string]any{"chunks_created": 3}, nil
	}, nil)
	require.NoError(t, err)

	got, _ := reg.GetTask(id)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.Equal(t, map[string]any{"chunks_created": 3}, got.Result)
}

func TestRunFailsOnError(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	id := reg.CreateTask("t").ID
	boom := errors.New("disk full")

	err := Run(context.Background(), reg, id, func(context.Context) (map[string]any, error) {
		return nil, boom
	}, nil)
	require.ErrorIs(t, err, boom)

	got, _ := reg.GetTask(id)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Equal(t, "disk full", got.Error)
}

func TestRunConvertsPanicToFailure(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	id := reg.CreateTask("t").ID

	err := Run(context.Background(), reg, id, func(context.Context) (map[string]any, error) {
		panic("index out of range")
	}, nil)
	require.ErrorIs(t, err, ErrPanic)

	got, _ := reg.GetTask(id)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Contains(t, got.Error, "index out of range")
}

func TestRunFailsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	id := reg.CreateTask("t").ID
	ctx, cancel := context.WithCancel(context.Background())

	err := Run(ctx, reg, id, func(context.Context) (map[string]any, error) {
		cancel()
		return map[string]any{"ignored": true}, nil
	}, nil)
	require.ErrorIs(t, err, context.Canceled)

	got, _ := reg.GetTask(id)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Contains(t, got.Error, "task cancelled")
}

func TestRunUnknownTaskIsHarmless(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, Run(context.Background(), reg, "ghost", func(context.Context) (map[string]any, error) {
		return nil, nil
	}, nil))
	require.Zero(t, reg.Len())
}

func TestReportLeavesNegativeCountsUnset(t *testing.T) {
	t.Parallel()

	rec := &recordingReporter{}
	Report(rec, "x", Milestone{"Loading", 10}, -1, 4)
	require.Len(t, rec.updates, 1)
	u := rec.updates[0]
	require.Equal(t, "Loading", u.Step)
	require.Nil(t, u.ItemsProcessed)
	require.Equal(t, 4, *u.TotalItems)
	require.Equal(t, 10.0, *u.Percentage)
}

func TestFailureMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "boom", FailureMessage(errors.New("boom")))
	require.Contains(t, FailureMessage(context.DeadlineExceeded), "timed out")
}
