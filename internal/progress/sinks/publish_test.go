package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/publisher/memory"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

// TestPublishSinkForwardsTerminalEvents ensures only finished tasks are published.
func TestPublishSinkForwardsTerminalEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, "ingest-tasks", nil)
	now := time.Now()
	base := task.Task{ID: "feedf00d", Type: "webpage_ingest", CreatedAt: now}

	done := base
	done.Status = task.StatusCompleted
	done.Result = map[string]any{"chunks_created": 3}

	batch := []progress.Event{
		progress.NewEvent(progress.StageCreated, base, now),
		progress.NewEvent(progress.StageProgress, base, now.Add(time.Second)),
		progress.NewEvent(progress.StageDone, done, now.Add(2*time.Second)),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "ingest-tasks", msgs[0].Topic)
	note, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, progress.StageDone, note.Event)
	require.Equal(t, "feedf00d", note.Task.ID)
	require.Equal(t, int64(2000), note.TookMS)
}

// TestPublishSinkHandlesErrors surfaces publisher failures back to the caller.
func TestPublishSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	boom := errors.New("broker down")
	pub.FailNext(boom)
	sink := NewPublishSink(pub, "t", nil)
	now := time.Now()
	failed := task.Task{ID: "x1", Status: task.StatusFailed, Error: "boom", CreatedAt: now}

	err := sink.Consume(context.Background(), []progress.Event{
		progress.NewEvent(progress.StageError, failed, now),
		progress.NewEvent(progress.StageError, failed, now),
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, pub.Messages(), 1)
}

func TestPublishSinkNilPublisher(t *testing.T) {
	t.Parallel()

	sink := NewPublishSink(nil, "t", nil)
	now := time.Now()
	done := task.Task{ID: "x1", Status: task.StatusCompleted, CreatedAt: now}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{progress.NewEvent(progress.StageDone, done, now)}))
}
