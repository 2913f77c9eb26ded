// Package worker executes queued ingestion jobs and drives each task to a
// terminal state.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/ingest"
	"github.com/JakeFAU/ingest-progress/internal/metrics"
	queuemem "github.com/JakeFAU/ingest-progress/internal/queue/memory"
)

// Queue is the consuming side of the job queue.
type Queue interface {
	Dequeue(ctx context.Context) (ingest.Job, error)
}

// Processor runs one job, reporting progress through r.
type Processor interface {
	Process(ctx context.Context, r ingest.Reporter, job ingest.Job) (map[string]any, error)
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single job; zero means no limit.
	JobTimeout time.Duration
}

// Worker consumes queue items and runs them through the Processor.
type Worker struct {
	id        int
	queue     Queue
	processor Processor
	reporter  ingest.Reporter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, queue Queue, processor Processor, reporter ingest.Reporter, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		reporter:  reporter,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queuemem.ErrClosed) {
				w.logger.Debug("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("task_id", job.TaskID), zap.String("kind", string(job.Kind)))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job ingest.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := ingest.Run(jobCtx, w.reporter, job.TaskID, func(ctx context.Context) (map[string]any, error) {
		if w.processor == nil {
			return nil, errors.New("no job processor configured")
		}
		return w.processor.Process(ctx, w.reporter, job)
	}, w.logger)

	fields := []zap.Field{
		zap.String("task_id", job.TaskID),
		zap.String("kind", string(job.Kind)),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		metrics.ObserveJob(string(job.Kind), "failed")
		w.logger.Warn("job failed", append(fields, zap.Error(err))...)
		return
	}
	metrics.ObserveJob(string(job.Kind), "completed")
	w.logger.Info("job completed", fields...)
}
