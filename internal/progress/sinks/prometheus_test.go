package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	created := time.Now()
	ok := task.Task{ID: "aaaa0001", Type: "webpage_ingest", Status: task.StatusPending, CreatedAt: created}
	bad := task.Task{ID: "aaaa0002", Type: "sitemap_ingest", Status: task.StatusPending, CreatedAt: created}
	stale := task.Task{ID: "aaaa0003", Type: "text_ingest", Status: task.StatusPending, CreatedAt: created}

	okDone := ok
	okDone.Status = task.StatusCompleted
	badDone := bad
	badDone.Status = task.StatusFailed

	batch := []progress.Event{
		progress.NewEvent(progress.StageCreated, ok, created),
		progress.NewEvent(progress.StageCreated, bad, created),
		progress.NewEvent(progress.StageCreated, stale, created),
		progress.NewEvent(progress.StageProgress, ok, created.Add(time.Second)),
		progress.NewEvent(progress.StageDone, okDone, created.Add(15*time.Second)),
		progress.NewEvent(progress.StageError, badDone, created.Add(2*time.Second)),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksCreated.WithLabelValues("webpage_ingest")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksFinished.WithLabelValues("webpage_ingest", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksFinished.WithLabelValues("sitemap_ingest", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksRunning))
	require.Equal(t, 2, testutil.CollectAndCount(sink.taskRuntime, "ingest_task_runtime_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.NewEvent(progress.StageReaped, stale, created.Add(25*time.Hour)),
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksReaped))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.tasksRunning))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
