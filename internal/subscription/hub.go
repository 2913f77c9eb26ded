// Package subscription fans task snapshots out to live observers. Delivery is
// best-effort: a full observer channel loses the update instead of blocking
// the producer or any other observer.
package subscription

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/logging"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

// DefaultBufferSize is the per-observer channel capacity.
const DefaultBufferSize = 100

const dropLogInterval = 5 * time.Second

// Config controls observer buffering.
//   - BufferSize: capacity of channels created by NewChannel (default 100).
//     When a channel is full the newest update is dropped for that observer.
//   - Logger: optional structured logger used for overflow warnings.
type Config struct {
	BufferSize int
	Logger     *zap.Logger
}

// Hub maps task ids to subscribed observer channels. It is safe for
// concurrent use and never blocks in Notify.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[chan task.Task]struct{}
	bufferSize int
	logger     *zap.Logger

	dropped     atomic.Int64
	pending     atomic.Int64
	dropLimiter *logging.Throttle
}

// NewHub builds an empty Hub.
func NewHub(cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:        make(map[string]map[chan task.Task]struct{}),
		bufferSize:  cfg.BufferSize,
		logger:      logger,
		dropLimiter: &logging.Throttle{Interval: dropLogInterval},
	}
}

// BufferSize returns the configured channel capacity.
func (h *Hub) BufferSize() int {
	return h.bufferSize
}

// NewChannel allocates a bounded delivery channel sized for this hub.
func (h *Hub) NewChannel() chan task.Task {
	return make(chan task.Task, h.bufferSize)
}

// Subscribe registers ch for updates to taskID.
func (h *Hub) Subscribe(taskID string, ch chan task.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[chan task.Task]struct{})
		h.subs[taskID] = set
	}
	set[ch] = struct{}{}
}

// Unsubscribe removes ch from taskID. Calling it for an unknown or already
// removed channel is a no-op.
func (h *Hub) Unsubscribe(taskID string, ch chan task.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[taskID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.subs, taskID)
	}
}

// Drop removes every subscription for taskID and returns how many were removed.
func (h *Hub) Drop(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.subs[taskID])
	delete(h.subs, taskID)
	return n
}

// Notify delivers snapshot to every channel subscribed to taskID without
// blocking. Each observer receives its own copy.
func (h *Hub) Notify(taskID string, snapshot task.Task) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.subs[taskID]
	if len(set) == 0 {
		return
	}
	for ch := range set {
		select {
		case ch <- snapshot.Clone():
		default:
			h.recordDrop(taskID)
		}
	}
}

// Count returns the number of live subscriptions for taskID.
func (h *Hub) Count(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

// Topics returns the number of task ids with at least one subscriber.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the total number of updates discarded due to full channels.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) recordDrop(taskID string) {
	h.dropped.Add(1)
	h.pending.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		count := h.pending.Swap(0)
		h.logger.Warn("task updates dropped for slow observer",
			zap.String("task_id", taskID),
			zap.Int64("dropped", count),
		)
	}
}
