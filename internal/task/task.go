// Package task defines the tracked unit of background work and its wire form.
package task

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

// Task status values. Completed and Failed are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Progress captures how far a task has advanced.
type Progress struct {
	// CurrentStep is a human-readable label for the active milestone.
	CurrentStep string
	// Percentage is always kept within [0,100].
	Percentage float64
	// ItemsProcessed counts finished units within the current step.
	ItemsProcessed int
	// TotalItems is the number of units expected for the current step.
	TotalItems int
}

// Task is one tracked unit of background work.
type Task struct {
	ID        string
	Type      string
	Status    Status
	Progress  Progress
	Result    map[string]any
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Revision increases by one on every applied mutation. It orders
	// snapshots of the same task and is not part of the wire format.
	Revision uint64
}

// Clone returns a deep copy so callers never alias registry-owned state.
func (t Task) Clone() Task {
	cp := t
	cp.Result = CloneResult(t.Result)
	return cp
}

// CloneResult deep-copies a result payload. Nested maps and slices produced by
// JSON decoding are copied; other values are shared as-is.
func CloneResult(result map[string]any) map[string]any {
	if result == nil {
		return nil
	}
	return cloneValue(result).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case map[string]string:
		return maps.Clone(val)
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// ProgressUpdate carries one UpdateProgress call. Nil pointers mean the caller
// did not supply that field.
type ProgressUpdate struct {
	Step           string
	Percentage     *float64
	ItemsProcessed *int
	TotalItems     *int
}

// Apply folds the update into p. An explicit percentage wins over the value
// derived from item counts; with no explicit value and no total the previous
// percentage is kept.
func (u ProgressUpdate) Apply(p *Progress) {
	if u.ItemsProcessed != nil {
		p.ItemsProcessed = max(0, *u.ItemsProcessed)
	}
	if u.TotalItems != nil {
		p.TotalItems = max(0, *u.TotalItems)
	}
	p.CurrentStep = u.Step

	switch {
	case u.Percentage != nil:
		p.Percentage = ClampPercentage(*u.Percentage)
	case p.TotalItems > 0:
		derived := float64(p.ItemsProcessed) / float64(p.TotalItems) * 100
		p.Percentage = ClampPercentage(derived)
	}
}

// ClampPercentage bounds v to [0,100]; NaN becomes 0.
func ClampPercentage(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(v, 100))
}

// Float returns a pointer to v for use in ProgressUpdate literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v for use in ProgressUpdate literals.
func Int(v int) *int { return &v }

type progressJSON struct {
	CurrentStep    string  `json:"current_step"`
	Percentage     float64 `json:"percentage"`
	ItemsProcessed int     `json:"items_processed"`
	TotalItems     int     `json:"total_items"`
}

type taskJSON struct {
	ID        string         `json:"id"`
	TaskType  string         `json:"task_type"`
	Status    Status         `json:"status"`
	Progress  progressJSON   `json:"progress"`
	Result    map[string]any `json:"result"`
	Error     *string        `json:"error"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MarshalJSON renders the snapshot wire format shared by polling and streaming.
func (t Task) MarshalJSON() ([]byte, error) {
	out := taskJSON{
		ID:       t.ID,
		TaskType: t.Type,
		Status:   t.Status,
		Progress: progressJSON{
			CurrentStep:    t.Progress.CurrentStep,
			Percentage:     math.Round(t.Progress.Percentage*100) / 100,
			ItemsProcessed: t.Progress.ItemsProcessed,
			TotalItems:     t.Progress.TotalItems,
		},
		Result:    t.Result,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Error != "" {
		errText := t.Error
		out.Error = &errText
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	return data, nil
}

// UnmarshalJSON parses the snapshot wire format, mainly for stream clients.
func (t *Task) UnmarshalJSON(data []byte) error {
	var in taskJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal task: %w", err)
	}
	if !in.Status.Valid() {
		return fmt.Errorf("unmarshal task: unknown status %q", in.Status)
	}
	*t = Task{
		ID:     in.ID,
		Type:   in.TaskType,
		Status: in.Status,
		Progress: Progress{
			CurrentStep:    in.Progress.CurrentStep,
			Percentage:     in.Progress.Percentage,
			ItemsProcessed: in.Progress.ItemsProcessed,
			TotalItems:     in.Progress.TotalItems,
		},
		Result:    in.Result,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}
	if in.Error != nil {
		t.Error = *in.Error
	}
	return nil
}
