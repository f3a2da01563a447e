package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DefaultExchange is used when no exchange name is configured.
const DefaultExchange = "ledger.events"

// AMQPPublisher publishes events to a durable topic exchange, routed by event
// type. A channel is not safe for concurrent publishes, so Publish serializes.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	now      func() time.Time
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Info().Str("exchange", exchange).Msg("Connected to AMQP")
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange, now: time.Now}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, data any) error {
	msg, err := newPublishing(eventType, data, p.now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		eventType,  // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// newPublishing wraps data in the same envelope the Redis stream carries.
func newPublishing(eventType string, data any, now time.Time) (amqp091.Publishing, error) {
	body, err := json.Marshal(Event{Type: eventType, Timestamp: now.UTC(), Data: data})
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    now,
		Type:         eventType,
		Body:         body,
	}, nil
}

func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
