package ledger

import (
	"context"
	"time"

	"github.com/fleetops/driver-ledger/internal/pkg/events"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
	"github.com/fleetops/driver-ledger/internal/pkg/metrics"
)

const publishTimeout = 2 * time.Second

// MetricsObserver feeds ledger counters.
type MetricsObserver struct{}

func (MetricsObserver) TransactionRecorded(_ context.Context, r Receipt) {
	t := r.Transaction
	metrics.TransactionsRecorded.WithLabelValues(t.Type.String(), string(t.Direction)).Inc()
	metrics.AmountRecorded.WithLabelValues(string(t.Direction)).Add(float64(t.Amount))
}

func (MetricsObserver) TransactionDeleted(_ context.Context, r Receipt) {
	metrics.TransactionsDeleted.WithLabelValues(r.Transaction.Type.String()).Inc()
}

// EventPublisher is satisfied by events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// EventObserver forwards committed writes to an event stream. Publishing
// failures are logged; the write has already committed.
type EventObserver struct {
	pub EventPublisher
}

func NewEventObserver(pub EventPublisher) *EventObserver {
	return &EventObserver{pub: pub}
}

func (o *EventObserver) TransactionRecorded(ctx context.Context, r Receipt) {
	o.publish(ctx, events.TransactionRecorded, r)
}

func (o *EventObserver) TransactionDeleted(ctx context.Context, r Receipt) {
	o.publish(ctx, events.TransactionDeleted, r)
}

func (o *EventObserver) publish(ctx context.Context, eventType string, r Receipt) {
	// The request may be cancelled the moment the handler returns.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	t := r.Transaction
	payload := events.TransactionEvent{
		TransactionID: t.ID.String(),
		DriverID:      t.DriverID.String(),
		Type:          t.Type.String(),
		Direction:     string(t.Direction),
		Amount:        t.Amount,
		SignedAmount:  t.SignedAmount,
		NewBalance:    r.NewBalance,
		WeekNumber:    t.WeekNumber,
		Year:          t.Year,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := o.pub.Publish(pctx, eventType, payload); err != nil {
		logger.FromContext(ctx).Warn().Err(err).
			Str("event", eventType).
			Str("transaction_id", payload.TransactionID).
			Msg("failed to publish ledger event")
	}
}
