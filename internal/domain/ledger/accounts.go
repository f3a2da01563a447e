package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/period"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
)

// Registry holds one spending account per driver. It never writes the
// cached balance; that belongs to BalanceEngine.
type Registry struct {
	store        Store
	periods      *period.Classifier
	defaultLimit int64
	observers    []LimitObserver
}

// LimitObserver is told after a spending limit changes.
type LimitObserver interface {
	SpendingLimitChanged(ctx context.Context, driverID uuid.UUID, limit int64)
}

func NewRegistry(store Store, periods *period.Classifier, defaultLimit int64) *Registry {
	if defaultLimit < 0 {
		defaultLimit = 0
	}
	return &Registry{store: store, periods: periods, defaultLimit: defaultLimit}
}

// template is the account inserted for a driver seen for the first time.
func (r *Registry) template(driverID uuid.UUID) Account {
	now := r.periods.Now().UTC()
	return Account{
		DriverID:      driverID,
		SpendingLimit: r.defaultLimit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// GetOrCreate is idempotent; a new account starts at balance 0.
func (r *Registry) GetOrCreate(ctx context.Context, driverID uuid.UUID) (*Account, error) {
	if driverID == uuid.Nil {
		return nil, ErrInvalidDriver
	}
	acc, created, err := r.store.CreateAccount(ctx, r.template(driverID))
	if err != nil {
		return nil, err
	}
	if created {
		logger.FromContext(ctx).Info().Str("driver_id", driverID.String()).Int64("spending_limit", acc.SpendingLimit).Msg("spending account provisioned")
	}
	return acc, nil
}

// Provision creates the account if needed and, when limit is set, applies it.
func (r *Registry) Provision(ctx context.Context, driverID uuid.UUID, limit *int64) (*Account, error) {
	if limit != nil && *limit < 0 {
		return nil, ErrInvalidLimit
	}
	acc, err := r.GetOrCreate(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if limit == nil || acc.SpendingLimit == *limit {
		return acc, nil
	}
	if err := r.SetSpendingLimit(ctx, driverID, *limit); err != nil {
		return nil, err
	}
	return r.Get(ctx, driverID)
}

// Observe registers o. Not safe to call concurrently with writes.
func (r *Registry) Observe(o LimitObserver) {
	r.observers = append(r.observers, o)
}

func (r *Registry) Get(ctx context.Context, driverID uuid.UUID) (*Account, error) {
	if driverID == uuid.Nil {
		return nil, ErrInvalidDriver
	}
	return r.store.GetAccount(ctx, driverID)
}

func (r *Registry) List(ctx context.Context) ([]Account, error) {
	return r.store.ListAccounts(ctx)
}

// SetSpendingLimit is informational: transactions may still push the balance past it.
func (r *Registry) SetSpendingLimit(ctx context.Context, driverID uuid.UUID, limit int64) error {
	if driverID == uuid.Nil {
		return ErrInvalidDriver
	}
	if limit < 0 {
		return ErrInvalidLimit
	}
	if err := r.store.UpdateSpendingLimit(ctx, driverID, limit); err != nil {
		return err
	}
	logger.FromContext(ctx).Info().Str("driver_id", driverID.String()).Int64("spending_limit", limit).Msg("spending limit updated")
	for _, o := range r.observers {
		o.SpendingLimitChanged(ctx, driverID, limit)
	}
	return nil
}
