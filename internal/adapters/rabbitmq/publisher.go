// Package rabbitmq publishes forwarded chat events to RabbitMQ queues.
package rabbitmq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Config selects the broker and the queue layout.
type Config struct {
	URL    string
	Queue  string
	Prefix string
	// SpecificEvents get their own queue, named {prefix}_{event}.
	SpecificEvents []string
}

// QueueFor returns the queue an event type is published to.
func (c Config) QueueFor(eventType string) string {
	for _, e := range c.SpecificEvents {
		if strings.TrimSpace(e) == eventType {
			return c.Prefix + "_" + strings.ToLower(eventType)
		}
	}
	return c.Prefix + "_" + c.Queue
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = "chat_events"
	}
	if c.Prefix == "" {
		c.Prefix = "chatbridge"
	}
	return c
}

// Publisher owns one connection and one channel. Publish is safe for
// concurrent use.
type Publisher struct {
	cfg      Config
	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	declared map[string]bool
}

// Dial connects to cfg.URL and opens a channel.
func Dial(cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq url is empty")
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	log.Info().Str("queue", cfg.Queue).Str("prefix", cfg.Prefix).Strs("specificEvents", cfg.SpecificEvents).Msg("RabbitMQ connection established")
	return &Publisher{cfg: cfg, conn: conn, ch: ch, declared: map[string]bool{}}, nil
}

// Publish sends body to the queue of eventType, declaring it durable on first use.
func (p *Publisher) Publish(ctx context.Context, eventType string, body []byte) error {
	queue := p.cfg.QueueFor(eventType)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return fmt.Errorf("rabbitmq channel is closed")
	}
	if !p.declared[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("could not declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}
	err := p.ch.PublishWithContext(ctx, "", queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Type:         eventType,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("could not publish to %s: %w", queue, err)
	}
	log.Debug().Str("queue", queue).Str("eventType", eventType).Msg("Published message to RabbitMQ")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
