// Package deadletter publishes inbound events that could not be persisted to
// a durable queue for later inspection and replay.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// Envelope is the wire form of one dead-lettered event.
type Envelope struct {
	ID       string              `json:"id"`
	Reason   string              `json:"reason"`
	FailedAt time.Time           `json:"failed_at"`
	Event    domain.InboundEvent `json:"event"`
}

// Publisher emits dead-lettered events to a durable topic exchange. Routing
// keys are "deadletter.<provider_type>" so replay tooling can consume one
// provider at a time.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	log      zerolog.Logger
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{
		conn:     conn,
		exchange: exchange,
		log:      log.With().Str("component", "deadletter").Logger(),
	}, nil
}

// Publish sends one failed event to the exchange. A short-lived channel per
// publish keeps the connection usable after broker-side channel errors.
func (p *Publisher) Publish(ctx context.Context, ev domain.InboundEvent, reason string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	env := Envelope{
		ID:       uuid.NewString(),
		Reason:   reason,
		FailedAt: time.Now().UTC(),
		Event:    ev,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	key := "deadletter." + string(ev.ProviderType)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.FailedAt,
		Body:         body,
	})
	if err == nil {
		p.log.Info().
			Str("key", key).
			Str("shop_id", ev.ShopID).
			Str("reason", reason).
			Msg("event dead-lettered")
	}
	return err
}

// Close shuts the broker connection.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

// Noop discards dead-lettered events, logging each one. Used when no broker
// is configured; the log line is then the only trace of the lost event.
type Noop struct {
	Log zerolog.Logger
}

// Publish logs and drops the event.
func (n Noop) Publish(_ context.Context, ev domain.InboundEvent, reason string) error {
	n.Log.Error().
		Str("shop_id", ev.ShopID).
		Str("external_message_id", ev.ExternalMessageID).
		Str("reason", reason).
		Msg("dead-letter broker not configured, event dropped")
	return nil
}
