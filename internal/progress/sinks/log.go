package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/progress"
)

// LogSink writes one structured line per lifecycle event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Failures are
// logged at warn level so they stand out in production output.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("task_id", evt.Task.ID),
			zap.String("task_type", evt.Task.Type),
			zap.String("stage", string(evt.Stage)),
			zap.String("status", string(evt.Task.Status)),
			zap.String("step", evt.Task.Progress.CurrentStep),
			zap.Float64("percentage", evt.Task.Progress.Percentage),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage == progress.StageError {
			s.logger.Warn("task failed", append(fields, zap.String("error", evt.Task.Error))...)
			continue
		}
		s.logger.Info("task event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
