package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// activeOnly is the SQL form of Transaction.Active.
const activeOnly = "deleted_at IS NULL"

const transactionColumns = `
	id, driver_id, amount, transaction_type, direction, signed_amount, week_number, year,
	reference_id, reverses_id, description, created_at, recorded_at, deleted_at`

// PostgresStore persists the ledger in PostgreSQL. Per-driver serialization
// is a SELECT ... FOR UPDATE on the account row inside a READ COMMITTED
// transaction; the balance itself moves with an atomic increment.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) WithinAccount(ctx context.Context, driverID uuid.UUID, create *Account, fn func(ctx context.Context, tx AccountTx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapPgError(err, "begin tx")
	}
	defer tx.Rollback()

	if create != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO driver_spending_accounts (driver_id, current_balance, spending_limit, created_at, updated_at)
			VALUES ($1, 0, $2, $3, $3)
			ON CONFLICT (driver_id) DO NOTHING
		`, driverID, create.SpendingLimit, create.CreatedAt); err != nil {
			return mapPgError(err, "provision account")
		}
	}

	var acc Account
	err = tx.GetContext(ctx, &acc, `
		SELECT driver_id, current_balance, spending_limit, created_at, updated_at
		FROM driver_spending_accounts
		WHERE driver_id = $1
		FOR UPDATE
	`, driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return mapPgError(err, "lock account")
	}

	if err := fn(ctx, &pgAccountTx{tx: tx, account: acc}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPgError(err, "commit tx")
	}
	return nil
}

func (r *PostgresStore) CreateAccount(ctx context.Context, acc Account) (*Account, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var created Account
	err := r.db.GetContext(ctx2, &created, `
		INSERT INTO driver_spending_accounts (driver_id, current_balance, spending_limit, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $3)
		ON CONFLICT (driver_id) DO NOTHING
		RETURNING driver_id, current_balance, spending_limit, created_at, updated_at
	`, acc.DriverID, acc.SpendingLimit, acc.CreatedAt)
	if err == nil {
		return &created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, mapPgError(err, "create account")
	}

	existing, err := r.GetAccount(ctx, acc.DriverID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresStore) GetAccount(ctx context.Context, driverID uuid.UUID) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var acc Account
	err := r.db.GetContext(ctx2, &acc, `
		SELECT driver_id, current_balance, spending_limit, created_at, updated_at
		FROM driver_spending_accounts
		WHERE driver_id = $1
	`, driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, mapPgError(err, "get account")
	}
	return &acc, nil
}

func (r *PostgresStore) ListAccounts(ctx context.Context) ([]Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	accounts := make([]Account, 0)
	err := r.db.SelectContext(ctx2, &accounts, `
		SELECT driver_id, current_balance, spending_limit, created_at, updated_at
		FROM driver_spending_accounts
		ORDER BY driver_id::text
	`)
	if err != nil {
		return nil, mapPgError(err, "list accounts")
	}
	return accounts, nil
}

func (r *PostgresStore) UpdateSpendingLimit(ctx context.Context, driverID uuid.UUID, limit int64) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE driver_spending_accounts
		SET spending_limit = $2, updated_at = now()
		WHERE driver_id = $1
	`, driverID, limit)
	if err != nil {
		return mapPgError(err, "update spending limit")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PostgresStore) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return getTransaction(ctx2, r.db, id, false)
}

func (r *PostgresStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query, args := buildListQuery(filter)
	transactions := make([]Transaction, 0)
	if err := r.db.SelectContext(ctx2, &transactions, query, args...); err != nil {
		return nil, mapPgError(err, "list transactions")
	}
	return transactions, nil
}

// buildListQuery renders a TransactionFilter; split out so it can be tested
// without a database.
func buildListQuery(filter TransactionFilter) (string, []interface{}) {
	base := "SELECT" + transactionColumns + "\nFROM driver_transactions\nWHERE " + activeOnly
	args := make([]interface{}, 0, 6)
	idx := 1

	if filter.DriverID != nil {
		base += fmt.Sprintf(" AND driver_id = $%d", idx)
		args = append(args, *filter.DriverID)
		idx++
	}
	p := filter.Predicate
	switch {
	case p.Exact != nil:
		base += fmt.Sprintf(" AND year = $%d AND week_number = $%d", idx, idx+1)
		args = append(args, p.Exact.Year, p.Exact.Number)
		idx += 2
	case p.Before != nil:
		base += fmt.Sprintf(" AND year = $%d AND week_number < $%d", idx, idx+1)
		args = append(args, p.Before.Year, p.Before.Number)
		idx += 2
	}

	if p.WeekOrder {
		base += " ORDER BY year DESC, week_number DESC, created_at DESC, id DESC"
	} else {
		base += " ORDER BY created_at DESC, id DESC"
	}

	if filter.Limit > 0 {
		base += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
		idx++
	}
	if filter.Offset > 0 {
		base += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}
	return strings.TrimSpace(base), args
}

func (r *PostgresStore) SumActive(ctx context.Context, driverID uuid.UUID, asOf time.Time) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sum int64
	err := r.db.GetContext(ctx2, &sum, `
		SELECT COALESCE(SUM(signed_amount), 0)
		FROM driver_transactions
		WHERE driver_id = $1 AND created_at <= $2 AND `+activeOnly, driverID, asOf)
	if err != nil {
		return 0, mapPgError(err, "sum active")
	}
	return sum, nil
}

func (r *PostgresStore) BalanceSnapshot(ctx context.Context, driverID uuid.UUID, asOf time.Time) (int64, int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row struct {
		Cached   int64 `db:"current_balance"`
		Replayed int64 `db:"replayed"`
	}
	err := r.db.GetContext(ctx2, &row, `
		SELECT a.current_balance,
			(SELECT COALESCE(SUM(t.signed_amount), 0)
			 FROM driver_transactions t
			 WHERE t.driver_id = a.driver_id AND t.created_at <= $2 AND t.`+activeOnly+`) AS replayed
		FROM driver_spending_accounts a
		WHERE a.driver_id = $1
	`, driverID, asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, 0, mapPgError(err, "balance snapshot")
	}
	return row.Cached, row.Replayed, nil
}

func (r *PostgresStore) SumActiveDebits(ctx context.Context, driverID uuid.UUID, from, to time.Time) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sum int64
	err := r.db.GetContext(ctx2, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM driver_transactions
		WHERE driver_id = $1 AND direction = $2 AND created_at >= $3 AND created_at <= $4 AND `+activeOnly,
		driverID, string(DirectionDebit), from, to)
	if err != nil {
		return 0, mapPgError(err, "sum debits")
	}
	return sum, nil
}

type pgAccountTx struct {
	tx      *sqlx.Tx
	account Account
}

func (t *pgAccountTx) Account() Account { return t.account }

func (t *pgAccountTx) Transaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return getTransaction(ctx, t.tx, id, true)
}

func (t *pgAccountTx) ReversedAmount(ctx context.Context, originalID uuid.UUID) (int64, error) {
	var sum int64
	err := t.tx.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM driver_transactions
		WHERE reverses_id = $1 AND `+activeOnly, originalID)
	if err != nil {
		return 0, mapPgError(err, "sum reversals")
	}
	return sum, nil
}

func (t *pgAccountTx) Insert(ctx context.Context, row *Transaction) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO driver_transactions (`+transactionColumns+`)
		VALUES (
			:id, :driver_id, :amount, :transaction_type, :direction, :signed_amount, :week_number, :year,
			:reference_id, :reverses_id, :description, :created_at, :recorded_at, :deleted_at
		)
	`, row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: duplicate transaction id %s", ErrConflict, row.ID)
		}
		return mapPgError(err, "insert transaction")
	}
	return nil
}

func (t *pgAccountTx) MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE driver_transactions
		SET deleted_at = $3
		WHERE id = $1 AND driver_id = $2 AND `+activeOnly, id, t.account.DriverID, at)
	if err != nil {
		return mapPgError(err, "soft delete")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (t *pgAccountTx) AddToBalance(ctx context.Context, delta int64) (int64, error) {
	var balance int64
	err := t.tx.GetContext(ctx, &balance, `
		UPDATE driver_spending_accounts
		SET current_balance = current_balance + $2, updated_at = now()
		WHERE driver_id = $1
		RETURNING current_balance
	`, t.account.DriverID, delta)
	if err != nil {
		return 0, mapPgError(err, "apply balance delta")
	}
	t.account.CurrentBalance = balance
	return balance, nil
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, forUpdate bool) (*Transaction, error) {
	query := "SELECT" + transactionColumns + "\nFROM driver_transactions WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row Transaction
	err := sqlx.GetContext(ctx, q, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, mapPgError(err, "get transaction")
	}
	return &row, nil
}

// mapPgError turns lock and serialization failures into ErrConflict and
// everything else into ErrInternal, keeping the driver error in the chain.
func mapPgError(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
