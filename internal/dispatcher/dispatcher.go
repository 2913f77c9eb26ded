// Package dispatcher manages worker fan-out over the ingestion job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
	"github.com/JakeFAU/ingest-progress/internal/metrics"
	queuemem "github.com/JakeFAU/ingest-progress/internal/queue/memory"
	"github.com/JakeFAU/ingest-progress/internal/worker"
)

// ErrBusy is returned by Submit when the queue has no free slot.
var ErrBusy = errors.New("work queue full")

// Queue is the producing side of the job queue.
type Queue interface {
	TryEnqueue(job ingest.Job) error
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit queues job without blocking. A full queue yields ErrBusy.
func (d *Dispatcher) Submit(job ingest.Job) error {
	err := d.queue.TryEnqueue(job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queuemem.ErrFull):
		metrics.ObserveQueueRejected()
		return fmt.Errorf("%w: task %s", ErrBusy, job.TaskID)
	default:
		return fmt.Errorf("queue enqueue: %w", err)
	}
}
