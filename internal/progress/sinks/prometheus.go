package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/ingest-progress/internal/progress"
)

// PrometheusSink exports task lifecycle metrics. It owns the collectors for
// tasks created, finished, running, reaped, and their runtime.
type PrometheusSink struct {
	tasksCreated  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	tasksRunning  prometheus.Gauge
	tasksReaped   prometheus.Counter
	taskRuntime   *prometheus.HistogramVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_tasks_created_total",
			Help: "Total tasks created partitioned by task type.",
		}, []string{"task_type"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_tasks_finished_total",
			Help: "Total tasks that reached a terminal status partitioned by type and result.",
		}, []string{"task_type", "result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_tasks_running",
			Help: "Current number of tasks that are pending or processing.",
		}),
		tasksReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_tasks_reaped_total",
			Help: "Total tasks evicted by the reaper.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_task_runtime_seconds",
			Help:    "Wall time from creation to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksCreated,
		s.tasksFinished,
		s.tasksRunning,
		s.tasksReaped,
		s.taskRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register task collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	id := evt.Task.ID
	switch evt.Stage {
	case progress.StageCreated:
		s.tasksCreated.WithLabelValues(typeLabel(evt.Task.Type)).Inc()
		if s.tracker.start(id) {
			s.tasksRunning.Inc()
		}
	case progress.StageDone:
		s.finish(evt, "success")
	case progress.StageError:
		s.finish(evt, "error")
	case progress.StageReaped:
		s.tasksReaped.Inc()
		if s.tracker.complete(id) {
			s.tasksRunning.Dec()
		}
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.tasksFinished.WithLabelValues(typeLabel(evt.Task.Type), result).Inc()
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.Task.ID) {
		s.tasksRunning.Dec()
	}
}

func typeLabel(taskType string) string {
	if taskType == "" {
		return "unknown"
	}
	return taskType
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
