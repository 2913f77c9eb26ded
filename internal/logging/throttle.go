package logging

import (
	"sync/atomic"
	"time"
)

// Throttle gates repetitive log lines to at most one per Interval. The zero
// value with Interval unset allows every call.
type Throttle struct {
	Interval time.Duration
	last     atomic.Int64
}

// Allow reports whether a log line may be written at now.
func (t *Throttle) Allow(now time.Time) bool {
	if t == nil || t.Interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := t.last.Load()
	if last != 0 && nano-last < t.Interval.Nanoseconds() {
		return false
	}
	return t.last.CompareAndSwap(last, nano)
}
