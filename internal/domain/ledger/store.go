package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/period"
)

// TransactionFilter selects active transactions for listing.
type TransactionFilter struct {
	DriverID  *uuid.UUID
	Predicate period.Predicate
	// Limit of 0 means unbounded.
	Limit  int
	Offset int
}

// Store is the persistence boundary of the ledger. Read methods never return
// soft-deleted rows except GetTransaction, which serves audit lookups.
type Store interface {
	// WithinAccount runs fn serialized against every other writer of driverID.
	// When create is non-nil a missing account is inserted from it first;
	// otherwise a missing account yields ErrAccountNotFound. Nothing fn did
	// persists if it returns an error.
	WithinAccount(ctx context.Context, driverID uuid.UUID, create *Account, fn func(ctx context.Context, tx AccountTx) error) error

	// CreateAccount inserts acc unless the driver already has an account.
	// It returns the stored account and whether it was created.
	CreateAccount(ctx context.Context, acc Account) (*Account, bool, error)
	GetAccount(ctx context.Context, driverID uuid.UUID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	UpdateSpendingLimit(ctx context.Context, driverID uuid.UUID, limit int64) error

	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// SumActive sums signed amounts with created_at <= asOf.
	SumActive(ctx context.Context, driverID uuid.UUID, asOf time.Time) (int64, error)
	// BalanceSnapshot reads the cached balance and SumActive at asOf from one
	// consistent view of the account.
	BalanceSnapshot(ctx context.Context, driverID uuid.UUID, asOf time.Time) (cached, replayed int64, err error)
	// SumActiveDebits sums debit magnitudes with created_at in [from, to].
	SumActiveDebits(ctx context.Context, driverID uuid.UUID, from, to time.Time) (int64, error)
}

// AccountTx is the serialized scope opened by Store.WithinAccount.
type AccountTx interface {
	Account() Account
	// Transaction looks up a transaction, deleted or not, inside the scope.
	Transaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// ReversedAmount sums the amounts of active reversals of originalID.
	ReversedAmount(ctx context.Context, originalID uuid.UUID) (int64, error)
	Insert(ctx context.Context, t *Transaction) error
	// MarkDeleted soft-deletes an active transaction or returns ErrTransactionNotFound.
	MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error
	// AddToBalance atomically increments the cached balance. Only BalanceEngine calls it.
	AddToBalance(ctx context.Context, delta int64) (int64, error)
}
