package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types
const (
	TransactionRecorded = "transaction.recorded"
	TransactionDeleted  = "transaction.deleted"
)

// DefaultStream is used when no stream name is configured.
const DefaultStream = "ledger-events"

// Event is the envelope written to the stream.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TransactionEvent is the payload of both transaction event types.
type TransactionEvent struct {
	TransactionID string `json:"transactionId"`
	DriverID      string `json:"driverId"`
	Type          string `json:"type"`
	Direction     string `json:"direction"`
	Amount        int64  `json:"amount"`
	SignedAmount  int64  `json:"signedAmount"`
	NewBalance    int64  `json:"newBalance"`
	WeekNumber    int    `json:"weekNumber"`
	Year          int    `json:"year"`
	CreatedAt     string `json:"createdAt"`
}

// Publisher appends events to a Redis stream. A nil client makes every
// Publish a no-op so the service runs without Redis.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
}

func NewPublisher(client *redis.Client, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream, maxLen: 100000, now: time.Now}
}

// Enabled reports whether events actually leave the process.
func (p *Publisher) Enabled() bool { return p != nil && p.client != nil }

func (p *Publisher) Publish(ctx context.Context, eventType string, data any) error {
	if !p.Enabled() {
		return nil
	}

	event := Event{
		Type:      eventType,
		Timestamp: p.now().UTC(),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  eventType,
			"event": eventJSON,
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
