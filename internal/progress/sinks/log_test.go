package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	now := time.Now()
	batch := []progress.Event{
		progress.NewEvent(progress.StageCreated, task.Task{ID: "a1", Type: "webpage_ingest", Status: task.StatusPending, CreatedAt: now}, now),
		progress.NewEvent(progress.StageError, task.Task{ID: "a1", Type: "webpage_ingest", Status: task.StatusFailed, Error: "disk full", CreatedAt: now}, now),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "task event", entries[0].Message)
	require.Equal(t, "a1", entries[0].ContextMap()["task_id"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "disk full", entries[1].ContextMap()["error"])
}
