// Package registry owns the authoritative state of every ingestion task in
// the process. All mutations go through a Registry; readers only ever see
// detached snapshots.
//
// A mutation updates the map under the write lock, takes a snapshot, and then
// hands the snapshot to the subscription notifier and the lifecycle emitter
// after the map lock is released. Fan-out for successive mutations of one task
// happens in the same order the mutations were applied; deliveries for
// different tasks never wait on each other.
//
// Task ids are never reissued within the lifetime of a Registry, even after
// the task they named has been reaped.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/clock/system"
	"github.com/JakeFAU/ingest-progress/internal/id/uuid"
	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

const maxIDAttempts = 8

// Defaults for the background reaper.
const (
	DefaultMaxAge       = 24 * time.Hour
	DefaultReapInterval = 10 * time.Minute
)

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies candidate task ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Notifier receives every committed snapshot. Implementations must not block
// and must not call back into the Registry: the next mutation of the same
// task holds the registry write lock while it waits for the previous delivery.
type Notifier interface {
	Notify(taskID string, snapshot task.Task)
	Drop(taskID string) int
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithIDGenerator overrides the task id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Registry) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithNotifier attaches the live-observer fan-out.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithEmitter attaches the lifecycle event pipeline.
func WithEmitter(e progress.Emitter) Option {
	return func(r *Registry) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry is the in-memory task table. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	// lanes serialize delivery per task so observers see mutations in commit
	// order. A lane is acquired while mu is held and never the other way around.
	lanes map[string]*sync.Mutex
	// issued holds every id handed out, live or reaped.
	issued map[string]struct{}

	clock    Clock
	ids      IDGenerator
	notifier Notifier
	emitter  progress.Emitter
	logger   *zap.Logger

	fallbackSeq atomic.Uint64
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tasks:    make(map[string]*task.Task),
		lanes:    make(map[string]*sync.Mutex),
		issued:   make(map[string]struct{}),
		clock:    system.New(),
		ids:      uuid.New(),
		notifier: nopNotifier{},
		emitter:  nopEmitter{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateTask registers a new pending task and returns a snapshot of it.
func (r *Registry) CreateTask(taskType string) task.Task {
	r.mu.Lock()
	now := r.clock.Now()
	id := r.uniqueIDLocked()
	t := &task.Task{
		ID:        id,
		Type:      taskType,
		Status:    task.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Revision:  1,
	}
	r.tasks[id] = t
	r.lanes[id] = &sync.Mutex{}
	snap := t.Clone()
	r.publishLocked(progress.StageCreated, snap, now)

	r.logger.Debug("task created", zap.String("task_id", id), zap.String("task_type", taskType))
	return snap
}

// GetTask returns a snapshot of the task with id.
func (r *Registry) GetTask(id string) (task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return t.Clone(), true
}

// ListTasks returns a snapshot of every live task keyed by id.
func (r *Registry) ListTasks() map[string]task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]task.Task, len(r.tasks))
	for id, t := range r.tasks {
		out[id] = t.Clone()
	}
	return out
}

// Len reports the number of live tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// UpdateProgress applies u to the task and moves it to processing. It returns
// false without side effects when the task is unknown or already terminal.
func (r *Registry) UpdateProgress(id string, u task.ProgressUpdate) bool {
	return r.mutate(id, progress.StageProgress, func(t *task.Task) {
		u.Apply(&t.Progress)
		t.Status = task.StatusProcessing
	})
}

// CompleteTask marks the task completed at 100% and stores a copy of result.
// It returns false when the task is unknown or already terminal.
func (r *Registry) CompleteTask(id string, result map[string]any) bool {
	stored := task.CloneResult(result)
	if stored == nil {
		stored = map[string]any{}
	}
	return r.mutate(id, progress.StageDone, func(t *task.Task) {
		t.Status = task.StatusCompleted
		t.Progress.Percentage = 100
		t.Result = stored
	})
}

// FailTask marks the task failed with message. It returns false when the task
// is unknown or already terminal.
func (r *Registry) FailTask(id, message string) bool {
	if message == "" {
		message = "unknown error"
	}
	return r.mutate(id, progress.StageError, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.Error = message
	})
}

// ReapOlderThan removes every task created more than maxAge ago, regardless
// of status, and tears down its subscriptions. It returns the number removed.
func (r *Registry) ReapOlderThan(maxAge time.Duration) int {
	now := r.clock.Now()
	cutoff := now.Add(-maxAge)

	r.mu.Lock()
	var (
		reaped []task.Task
		lanes  []*sync.Mutex
	)
	for id, t := range r.tasks {
		if t.CreatedAt.Before(cutoff) {
			lane := r.lanes[id]
			lane.Lock()
			lanes = append(lanes, lane)
			reaped = append(reaped, t.Clone())
			delete(r.tasks, id)
			delete(r.lanes, id)
		}
	}
	r.mu.Unlock()

	for i, snap := range reaped {
		r.notifier.Drop(snap.ID)
		r.emitter.Emit(progress.NewEvent(progress.StageReaped, snap, now))
		lanes[i].Unlock()
	}
	return len(reaped)
}

// RunReaper sweeps aged tasks every interval until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ReapOlderThan(maxAge); n > 0 {
				r.logger.Info("reaped aged tasks",
					zap.Int("count", n),
					zap.Duration("max_age", maxAge),
				)
			}
		}
	}
}

func (r *Registry) mutate(id string, stage progress.Stage, apply func(*task.Task)) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok || t.Status.IsTerminal() {
		r.mu.Unlock()
		return false
	}
	apply(t)
	now := r.clock.Now()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
	t.Revision++
	r.publishLocked(stage, t.Clone(), now)
	return true
}

// publishLocked releases mu and delivers snap. The caller must hold mu.
func (r *Registry) publishLocked(stage progress.Stage, snap task.Task, now time.Time) {
	lane := r.lanes[snap.ID]
	lane.Lock()
	r.mu.Unlock()
	defer lane.Unlock()

	r.notifier.Notify(snap.ID, snap)
	r.emitter.Emit(progress.NewEvent(stage, snap, now))
}

func (r *Registry) uniqueIDLocked() string {
	for range maxIDAttempts {
		id, err := r.ids.NewID()
		if err != nil {
			r.logger.Warn("task id generation failed", zap.Error(err))
			break
		}
		if _, taken := r.issued[id]; !taken && id != "" {
			r.issued[id] = struct{}{}
			return id
		}
	}
	for {
		id := fmt.Sprintf("t%07x", r.fallbackSeq.Add(1))
		if _, taken := r.issued[id]; !taken {
			r.issued[id] = struct{}{}
			return id
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, task.Task) {}
func (nopNotifier) Drop(string) int          { return 0 }

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}
