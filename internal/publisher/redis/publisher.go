// Package redis appends task notifications to Redis streams, one stream per
// topic, so consumers can read them with XREAD or a consumer group.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultMaxLen caps each stream; older entries are trimmed approximately.
const DefaultMaxLen = 10000

// Config addresses the Redis server.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DefaultTopic string
	MaxLen       int64
}

// Publisher writes JSON payloads with XADD.
type Publisher struct {
	client       goredis.UniversalClient
	defaultTopic string
	maxLen       int64
	ownsClient   bool
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client goredis.UniversalClient, defaultTopic string, maxLen int64) *Publisher {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Publisher{client: client, defaultTopic: defaultTopic, maxLen: maxLen}
}

// Dial creates a client for cfg. Close releases it.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	p := New(client, cfg.DefaultTopic, cfg.MaxLen)
	p.ownsClient = true
	return p, nil
}

// Publish marshals payload to JSON and appends it to the stream named topic
// (or the default topic when empty). It returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("redis publisher is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("redis topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: true,
		Values: []any{"content_type", "application/json", "data", string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", topic, err)
	}
	return id, nil
}

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client if Dial created it.
func (p *Publisher) Close() error {
	if !p.ownsClient || p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
