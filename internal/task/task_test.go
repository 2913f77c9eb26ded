package task

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.status.IsTerminal(), string(tt.status))
		require.True(t, tt.status.Valid())
	}
	require.False(t, Status("canceled").Valid())
}

func TestProgressUpdateApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		start  Progress
		update ProgressUpdate
		want   Progress
	}{
		{
			name:   "derived from counts",
			update: ProgressUpdate{Step: "loading", ItemsProcessed: Int(5), TotalItems: Int(10)},
			want:   Progress{CurrentStep: "loading", Percentage: 50, ItemsProcessed: 5, TotalItems: 10},
		},
		{
			name:   "explicit wins over derived",
			update: ProgressUpdate{Step: "embed", Percentage: Float(80), ItemsProcessed: Int(1), TotalItems: Int(10)},
			want:   Progress{CurrentStep: "embed", Percentage: 80, ItemsProcessed: 1, TotalItems: 10},
		},
		{
			name:   "explicit clamped high",
			update: ProgressUpdate{Step: "x", Percentage: Float(250)},
			want:   Progress{CurrentStep: "x", Percentage: 100},
		},
		{
			name:   "explicit clamped low",
			start:  Progress{Percentage: 40},
			update: ProgressUpdate{Step: "x", Percentage: Float(-3)},
			want:   Progress{CurrentStep: "x", Percentage: 0},
		},
		{
			name:   "derived capped at 100",
			update: ProgressUpdate{Step: "x", ItemsProcessed: Int(15), TotalItems: Int(10)},
			want:   Progress{CurrentStep: "x", Percentage: 100, ItemsProcessed: 15, TotalItems: 10},
		},
		{
			name:   "no total keeps previous percentage",
			start:  Progress{CurrentStep: "old", Percentage: 42},
			update: ProgressUpdate{Step: "new"},
			want:   Progress{CurrentStep: "new", Percentage: 42},
		},
		{
			name:   "counts carried over from previous call",
			start:  Progress{ItemsProcessed: 2, TotalItems: 4, Percentage: 50},
			update: ProgressUpdate{Step: "more", ItemsProcessed: Int(3)},
			want:   Progress{CurrentStep: "more", Percentage: 75, ItemsProcessed: 3, TotalItems: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := tt.start
			tt.update.Apply(&p)
			require.Equal(t, tt.want, p)
		})
	}
}

func TestClampPercentageNaN(t *testing.T) {
	t.Parallel()

	require.Zero(t, ClampPercentage(math.NaN()))
	require.Equal(t, 100.0, ClampPercentage(math.Inf(1)))
}

func TestCloneDoesNotAliasResult(t *testing.T) {
	t.Parallel()

	orig := Task{ID: "abc", Result: map[string]any{
		"chunks": 5,
		"nested": map[string]any{"files": []any{"a.pdf"}},
	}}
	cp := orig.Clone()
	cp.Result["chunks"] = 6
	cp.Result["nested"].(map[string]any)["files"].([]any)[0] = "b.pdf"

	require.Equal(t, 5, orig.Result["chunks"])
	require.Equal(t, "a.pdf", orig.Result["nested"].(map[string]any)["files"].([]any)[0])
}

func TestTaskWireFormat(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tk := Task{
		ID:        "a1b2c3d4",
		Type:      "webpage_ingest",
		Status:    StatusProcessing,
		Progress:  Progress{CurrentStep: "Chunking", Percentage: 33.3333, ItemsProcessed: 1, TotalItems: 3},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Second),
	}
	data, err := json.Marshal(tk)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	require.Equal(t, "a1b2c3d4", body["id"])
	require.Equal(t, "webpage_ingest", body["task_type"])
	require.Equal(t, "processing", body["status"])
	require.Nil(t, body["result"])
	require.Nil(t, body["error"])
	require.Equal(t, "2024-05-01T12:00:00Z", body["created_at"])
	progress := body["progress"].(map[string]any)
	require.Equal(t, 33.33, progress["percentage"])
	require.Equal(t, "Chunking", progress["current_step"])

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, tk.ID, decoded.ID)
	require.Equal(t, tk.Type, decoded.Type)
	require.True(t, tk.UpdatedAt.Equal(decoded.UpdatedAt))
}

func TestTaskWireFormatFailed(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Task{ID: "x", Status: StatusFailed, Error: "disk full"})
	require.NoError(t, err)

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "disk full", decoded.Error)
	require.Nil(t, decoded.Result)
}

func TestTaskUnmarshalRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	var decoded Task
	err := json.Unmarshal([]byte(`{"id":"x","status":"canceled","progress":{}}`), &decoded)
	require.ErrorContains(t, err, "unknown status")
}
