// Package rabbitmq publishes task notifications to RabbitMQ queues through the
// default exchange, one durable queue per topic.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends persistent JSON messages.
type Publisher struct {
	mu           sync.Mutex
	ch           Channel
	conn         *amqp.Connection
	defaultTopic string
	declared     map[string]struct{}
	now          func() time.Time
}

// New wraps an open channel. The caller keeps ownership of the connection.
func New(ch Channel, defaultTopic string) *Publisher {
	return &Publisher{
		ch:           ch,
		defaultTopic: defaultTopic,
		declared:     make(map[string]struct{}),
		now:          time.Now,
	}
}

// Dial connects to url and opens a channel. Close releases both.
func Dial(url, defaultTopic string) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p := New(ch, defaultTopic)
	p.conn = conn
	return p, nil
}

// Publish marshals payload to JSON and sends it to the queue named topic (or
// the default topic when empty). It returns the generated message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("amqp topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return "", errors.New("amqp publisher is closed")
	}
	if _, ok := p.declared[topic]; !ok {
		if _, err := p.ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			return "", fmt.Errorf("declare queue %s: %w", topic, err)
		}
		p.declared[topic] = struct{}{}
	}
	id := uuid.NewString()
	err = p.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    p.now().UTC(),
		Body:         data,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Close closes the channel and, when Dial opened it, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close amqp channel: %w", err))
		}
		p.ch = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close amqp connection: %w", err))
		}
		p.conn = nil
	}
	return errors.Join(errs...)
}
