package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishDeclaresQueueOnce(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	pub := New(ch, "ingest-tasks")
	pub.now = func() time.Time { return time.Unix(100, 0) }

	id1, err := pub.Publish(context.Background(), "", map[string]int{"chunks": 5})
	require.NoError(t, err)
	id2, err := pub.Publish(context.Background(), "ingest-tasks", "again")
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.Equal(t, []string{"ingest-tasks"}, ch.declared)
	require.Equal(t, []string{"ingest-tasks", "ingest-tasks"}, ch.keys)

	msg := ch.published[0]
	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.Equal(t, id1, msg.MessageId)
	require.JSONEq(t, `{"chunks":5}`, string(msg.Body))
	require.Equal(t, time.Unix(100, 0).UTC(), msg.Timestamp)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeChannel{declareErr: errors.New("access refused")}, "q").Publish(context.Background(), "", 1)
	require.ErrorContains(t, err, "declare queue q")

	_, err = New(&fakeChannel{publishErr: errors.New("channel closed")}, "q").Publish(context.Background(), "", 1)
	require.ErrorContains(t, err, "publish to q")

	_, err = New(&fakeChannel{}, "").Publish(context.Background(), "", 1)
	require.ErrorContains(t, err, "topic is not configured")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(&fakeChannel{}, "q").Publish(ctx, "", 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseStopsPublishing(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	pub := New(ch, "q")

	require.NoError(t, pub.Close())
	require.True(t, ch.closed)
	_, err := pub.Publish(context.Background(), "", 1)
	require.ErrorContains(t, err, "closed")
	require.NoError(t, pub.Close())
}

func TestDialRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Dial("", "q")
	require.Error(t, err)
}
