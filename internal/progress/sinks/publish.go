package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/task"
)

// Publisher sends a payload to a named topic and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the payload published when a task finishes.
type Notification struct {
	Event  progress.Stage `json:"event"`
	Task   task.Task      `json:"task"`
	TookMS int64          `json:"took_ms"`
}

// PublishSink forwards terminal task snapshots to a Publisher so downstream
// systems learn about finished ingestions without polling.
type PublishSink struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink constructs a PublishSink. A nil publisher yields a sink that
// ignores every batch.
func NewPublishSink(pub Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes each terminal event in order. Every event is attempted;
// failures are joined and returned.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		msg := Notification{Event: evt.Stage, Task: evt.Task, TookMS: evt.Dur.Milliseconds()}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish task %s: %w", evt.Task.ID, err))
			continue
		}
		s.logger.Debug("task notification published",
			zap.String("task_id", evt.Task.ID),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
