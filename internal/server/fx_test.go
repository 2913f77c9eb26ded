package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ingest-progress/internal/config"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Progress.MetricsSink = false
	cfg.Progress.LogSink = false
	cfg.Ingest.Workers = 2
	cfg.Ingest.RateLimitRPS = 0
	cfg.Database.Driver = config.DatabaseSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "chunks.db")
	return cfg
}

func TestAppRunsTextIngestionToCompletion(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.dispatch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		require.NoError(t, app.Close(context.Background()))
	})

	body := []byte(`{"documents":[{"source":"notes.txt","content":"first paragraph\n\nsecond paragraph"}]}`)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest/text/async", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	id := accepted["task_id"].(string)

	require.Eventually(t, func() bool {
		snap, ok := app.registry.GetTask(id)
		return ok && snap.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := app.registry.GetTask(id)
	require.Equal(t, task.StatusCompleted, snap.Status, snap.Error)
	require.InDelta(t, 100.0, snap.Progress.Percentage, 0.001)

	// Notifications leave through the batched progress hub.
	var stats map[string]any
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		stats = nil
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			return false
		}
		return stats["notifications_published"] == float64(1)
	}, 5*time.Second, 20*time.Millisecond)
	require.Greater(t, stats["vector_store_count"], float64(0))

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRejectsBadLogLevel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Logging.Level = "chatty"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "logger init failed")
}
