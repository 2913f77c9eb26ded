package redis

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// recordHook answers commands locally so no server is needed.
type recordHook struct {
	mu   sync.Mutex
	args [][]any
	err  error
}

func (h *recordHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *recordHook) ProcessHook(goredis.ProcessHook) goredis.ProcessHook {
	return func(_ context.Context, cmd goredis.Cmder) error {
		h.mu.Lock()
		h.args = append(h.args, cmd.Args())
		h.mu.Unlock()
		if h.err != nil {
			cmd.SetErr(h.err)
			return h.err
		}
		switch c := cmd.(type) {
		case *goredis.StringCmd:
			c.SetVal("1700000000000-0")
		case *goredis.StatusCmd:
			c.SetVal("PONG")
		}
		return nil
	}
}

func (h *recordHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func newTestPublisher(t *testing.T, hook *recordHook) *Publisher {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(hook)
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "ingest-tasks", 0)
}

func TestPublishAppendsToStream(t *testing.T) {
	t.Parallel()
	hook := &recordHook{}
	pub := newTestPublisher(t, hook)

	id, err := pub.Publish(context.Background(), "", map[string]string{"task_id": "a1b2c3d4"})
	require.NoError(t, err)
	require.Equal(t, "1700000000000-0", id)

	require.Len(t, hook.args, 1)
	args := hook.args[0]
	require.Equal(t, "xadd", args[0])
	require.Equal(t, "ingest-tasks", args[1])
	require.Contains(t, args, "maxlen")
	require.Contains(t, args, `{"task_id":"a1b2c3d4"}`)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	hook := &recordHook{err: errors.New("connection refused")}
	pub := newTestPublisher(t, hook)
	_, err := pub.Publish(context.Background(), "done", "x")
	require.ErrorContains(t, err, "xadd done")

	noTopic := New(goredis.NewClient(&goredis.Options{}), "", 0)
	_, err = noTopic.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is not configured")

	_, err = pub.Publish(context.Background(), "done", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestPing(t *testing.T) {
	t.Parallel()
	pub := newTestPublisher(t, &recordHook{})

	require.NoError(t, pub.Ping(context.Background()))
	require.NoError(t, pub.Close())
}

func TestDialRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := Dial(Config{})
	require.Error(t, err)

	pub, err := Dial(Config{Addr: "127.0.0.1:6379", DefaultTopic: "t"})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}
