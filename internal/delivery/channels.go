package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"chatbridge/internal/adapters/rabbitmq"
)

// Publisher is the RabbitMQ side the rabbit channel needs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, body []byte) error
}

// RabbitChannel publishes the event envelope to RabbitMQ.
type RabbitChannel struct {
	pub Publisher
}

func NewRabbitChannel(pub Publisher) *RabbitChannel { return &RabbitChannel{pub: pub} }

func (c *RabbitChannel) Name() string { return "rabbitmq" }

func (c *RabbitChannel) Deliver(ctx context.Context, ev *Event) error {
	body, err := envelopeOf(ev)
	if err != nil {
		return err
	}
	return c.pub.Publish(ctx, ev.EventType, body)
}

var _ Publisher = (*rabbitmq.Publisher)(nil)

// WebhookChannel posts the event envelope as JSON to a URL.
type WebhookChannel struct {
	client *resty.Client
	url    string
}

func NewWebhookChannel(client *resty.Client, url string) *WebhookChannel {
	return &WebhookChannel{client: client, url: url}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, ev *Event) error {
	body, err := envelopeOf(ev)
	if err != nil {
		return err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Event-Type", ev.EventType).
		SetHeader("X-Event-Id", ev.ID).
		SetBody(body).
		Post(c.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook answered %s", resp.Status())
	}
	return nil
}

type envelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
	Data      any    `json:"data"`
}

func envelopeOf(ev *Event) ([]byte, error) {
	return json.Marshal(envelope{
		ID:        ev.ID,
		Type:      ev.EventType,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		Data:      ev.Payload,
	})
}
