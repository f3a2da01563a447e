package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/period"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
)

const (
	maxDescriptionLen = 500
	maxReferenceLen   = 128
	// maxClockSkew tolerates callers whose clocks run slightly ahead. Such
	// timestamps are recorded as now so a replay at now includes them.
	maxClockSkew = 5 * time.Minute
)

// AppendInput describes a new ledger entry.
type AppendInput struct {
	DriverID uuid.UUID
	Amount   int64
	Type     TransactionType
	// Direction is required for adjustments and otherwise must be empty or
	// equal to the type's fixed direction.
	Direction Direction
	// CreatedAt defaults to now and may be backdated.
	CreatedAt   *time.Time
	ReferenceID string
	Description string
	// ReversesID names the transaction a reversal undoes.
	ReversesID *uuid.UUID
}

// QueryInput selects active transactions.
type QueryInput struct {
	DriverID *uuid.UUID
	Filter   period.Filter
	Limit    int
	Offset   int
}

// Observer is told about committed ledger writes. Observers run after the
// commit and cannot fail the write.
type Observer interface {
	TransactionRecorded(ctx context.Context, r Receipt)
	TransactionDeleted(ctx context.Context, r Receipt)
}

type Options struct {
	// AutoProvision creates an account the first time a driver is seen.
	AutoProvision bool
}

// Ledger is the append-mostly transaction log.
type Ledger struct {
	store     Store
	accounts  *Registry
	balances  *BalanceEngine
	periods   *period.Classifier
	opts      Options
	observers []Observer
}

func NewLedger(store Store, accounts *Registry, balances *BalanceEngine, periods *period.Classifier, opts Options) *Ledger {
	return &Ledger{
		store:    store,
		accounts: accounts,
		balances: balances,
		periods:  periods,
		opts:     opts,
	}
}

// Observe registers o. Not safe to call concurrently with writes.
func (l *Ledger) Observe(o Observer) {
	l.observers = append(l.observers, o)
}

func (l *Ledger) validate(in AppendInput, now time.Time) error {
	if in.DriverID == uuid.Nil {
		return ErrInvalidDriver
	}
	if in.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !in.Type.Valid() {
		return ErrInvalidType
	}
	if in.Direction != "" && !in.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, in.Direction)
	}
	if len(in.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrFieldTooLong, maxDescriptionLen)
	}
	if len(in.ReferenceID) > maxReferenceLen {
		return fmt.Errorf("%w: reference_id exceeds %d characters", ErrFieldTooLong, maxReferenceLen)
	}
	if in.CreatedAt != nil && in.CreatedAt.After(now.Add(maxClockSkew)) {
		return ErrFutureTimestamp
	}

	switch in.Type.rule() {
	case ruleCredit, ruleDebit:
		fixed, _ := in.Type.FixedDirection()
		if in.Direction != "" && in.Direction != fixed {
			return fmt.Errorf("%w: %s is always %s", ErrInvalidDirection, in.Type, fixed)
		}
	case ruleCallerChosen:
		if in.Direction == "" {
			return ErrDirectionRequired
		}
	case ruleOppositeOfOriginal:
		if in.ReversesID == nil || *in.ReversesID == uuid.Nil {
			return ErrReversalMissing
		}
		if in.Direction != "" {
			return fmt.Errorf("%w: reversal direction is taken from the original", ErrInvalidDirection)
		}
	}
	if in.ReversesID != nil && in.Type != TransactionTypeReversal {
		return ErrReversesNotAllowed
	}
	return nil
}

// resolveDirection applies the type's rule. Reversals read the original inside
// the account scope so a concurrent delete or reversal cannot race the check.
func (l *Ledger) resolveDirection(ctx context.Context, tx AccountTx, in AppendInput) (Direction, error) {
	switch in.Type.rule() {
	case ruleCredit:
		return DirectionCredit, nil
	case ruleDebit:
		return DirectionDebit, nil
	case ruleCallerChosen:
		return in.Direction, nil
	case ruleOppositeOfOriginal:
		orig, err := tx.Transaction(ctx, *in.ReversesID)
		if err != nil {
			if errors.Is(err, ErrTransactionNotFound) {
				return "", ErrReversalTarget
			}
			return "", err
		}
		if !orig.Active() || orig.DriverID != in.DriverID || orig.Type == TransactionTypeReversal {
			return "", ErrReversalTarget
		}
		reversed, err := tx.ReversedAmount(ctx, orig.ID)
		if err != nil {
			return "", err
		}
		if reversed+in.Amount > orig.Amount {
			return "", fmt.Errorf("%w: %d of %d remaining", ErrReversalExceeded, orig.Amount-reversed, orig.Amount)
		}
		return orig.Direction.Opposite(), nil
	}
	return "", ErrInvalidType
}

// Append validates and records a transaction and moves the cached balance by
// its signed amount in the same serialized step.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (*Receipt, error) {
	now := l.periods.Now()
	if err := l.validate(in, now); err != nil {
		return nil, err
	}

	createdAt := now
	if in.CreatedAt != nil && !in.CreatedAt.After(now) {
		createdAt = *in.CreatedAt
	}
	week := l.periods.Classify(createdAt)

	var create *Account
	if l.opts.AutoProvision {
		t := l.accounts.template(in.DriverID)
		create = &t
	}

	var receipt Receipt
	err := l.store.WithinAccount(ctx, in.DriverID, create, func(ctx context.Context, tx AccountTx) error {
		direction, err := l.resolveDirection(ctx, tx, in)
		if err != nil {
			return err
		}

		row := Transaction{
			ID:           uuid.New(),
			DriverID:     in.DriverID,
			Amount:       in.Amount,
			Type:         in.Type,
			Direction:    direction,
			SignedAmount: direction.Sign(in.Amount),
			WeekNumber:   week.Number,
			Year:         week.Year,
			ReversesID:   in.ReversesID,
			Description:  strings.TrimSpace(in.Description),
			CreatedAt:    createdAt.UTC(),
			RecordedAt:   now.UTC(),
		}
		if ref := strings.TrimSpace(in.ReferenceID); ref != "" {
			row.ReferenceID = &ref
		}

		if err := tx.Insert(ctx, &row); err != nil {
			return err
		}
		balance, err := l.balances.ApplyDelta(ctx, tx, row.SignedAmount)
		if err != nil {
			return err
		}
		receipt = Receipt{Transaction: row, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("driver_id", in.DriverID.String()).
		Str("transaction_id", receipt.Transaction.ID.String()).
		Str("type", in.Type.String()).
		Int64("signed_amount", receipt.Transaction.SignedAmount).
		Int64("new_balance", receipt.NewBalance).
		Msg("ledger transaction recorded")

	for _, o := range l.observers {
		o.TransactionRecorded(ctx, receipt)
	}
	return &receipt, nil
}

// SoftDelete marks a transaction deleted and reverses its contribution to the
// cached balance. Deleting twice fails with ErrTransactionNotFound.
func (l *Ledger) SoftDelete(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	if id == uuid.Nil {
		return nil, ErrTransactionNotFound
	}
	existing, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Active() {
		return nil, ErrTransactionNotFound
	}

	now := l.periods.Now().UTC()
	var receipt Receipt
	err = l.store.WithinAccount(ctx, existing.DriverID, nil, func(ctx context.Context, tx AccountTx) error {
		current, err := tx.Transaction(ctx, id)
		if err != nil {
			return err
		}
		if !current.Active() {
			return ErrTransactionNotFound
		}
		if current.Type != TransactionTypeReversal {
			reversed, err := tx.ReversedAmount(ctx, id)
			if err != nil {
				return err
			}
			if reversed > 0 {
				return ErrHasActiveReversals
			}
		}

		if err := tx.MarkDeleted(ctx, id, now); err != nil {
			return err
		}
		balance, err := l.balances.ApplyDelta(ctx, tx, -current.SignedAmount)
		if err != nil {
			return err
		}
		current.DeletedAt = &now
		receipt = Receipt{Transaction: *current, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("driver_id", receipt.Transaction.DriverID.String()).
		Str("transaction_id", id.String()).
		Int64("reverted_amount", -receipt.Transaction.SignedAmount).
		Int64("new_balance", receipt.NewBalance).
		Msg("ledger transaction soft-deleted")

	for _, o := range l.observers {
		o.TransactionDeleted(ctx, receipt)
	}
	return &receipt, nil
}

// Query lists active transactions, newest first unless the week filter says
// otherwise, with the filter's row cap applied on top of Limit.
func (l *Ledger) Query(ctx context.Context, in QueryInput) ([]Transaction, error) {
	if in.Offset < 0 {
		return nil, ErrInvalidPage
	}
	pred := l.periods.Resolve(in.Filter)
	return l.store.ListTransactions(ctx, TransactionFilter{
		DriverID:  in.DriverID,
		Predicate: pred,
		Limit:     pred.Limit(in.Limit),
		Offset:    in.Offset,
	})
}

// Get returns a transaction including soft-deleted ones, for audit.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	if id == uuid.Nil {
		return nil, ErrTransactionNotFound
	}
	return l.store.GetTransaction(ctx, id)
}

// Accounts exposes the registry the ledger provisions into.
func (l *Ledger) Accounts() *Registry { return l.accounts }

// Balances exposes the engine the ledger writes through.
func (l *Ledger) Balances() *BalanceEngine { return l.balances }
