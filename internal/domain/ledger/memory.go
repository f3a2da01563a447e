package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/period"
)

// MemoryStore keeps the ledger in process. Writers of one driver are
// serialized by a per-driver mutex; everything a WithinAccount callback does
// is staged and applied in one step when it returns nil.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	txs      map[uuid.UUID]*Transaction
	byDriver map[uuid.UUID][]uuid.UUID
	locks    map[uuid.UUID]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*Account),
		txs:      make(map[uuid.UUID]*Transaction),
		byDriver: make(map[uuid.UUID][]uuid.UUID),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryStore) driverLock(driverID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[driverID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[driverID] = l
	}
	return l
}

func (s *MemoryStore) WithinAccount(ctx context.Context, driverID uuid.UUID, create *Account, fn func(ctx context.Context, tx AccountTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.driverLock(driverID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	acc, ok := s.accounts[driverID]
	var snapshot Account
	if ok {
		snapshot = *acc
	}
	s.mu.RUnlock()

	tx := &memoryTx{store: s, deletes: make(map[uuid.UUID]time.Time)}
	if !ok {
		if create == nil {
			return ErrAccountNotFound
		}
		snapshot = *create
		snapshot.DriverID = driverID
		tx.created = true
	}
	tx.account = snapshot

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	driverID := tx.account.DriverID
	if tx.created {
		acc := tx.account
		acc.CurrentBalance = 0
		s.accounts[driverID] = &acc
	}
	for _, t := range tx.inserts {
		row := t
		s.txs[row.ID] = &row
		s.byDriver[driverID] = append(s.byDriver[driverID], row.ID)
	}
	for id, at := range tx.deletes {
		row := *s.txs[id]
		deletedAt := at
		row.DeletedAt = &deletedAt
		s.txs[id] = &row
	}
	if tx.delta != 0 || len(tx.inserts) > 0 || len(tx.deletes) > 0 {
		acc := s.accounts[driverID]
		acc.CurrentBalance += tx.delta
		if !tx.updatedAt.IsZero() {
			acc.UpdatedAt = tx.updatedAt
		}
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, acc Account) (*Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l := s.driverLock(acc.DriverID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[acc.DriverID]; ok {
		out := *existing
		return &out, false, nil
	}
	acc.CurrentBalance = 0
	stored := acc
	s.accounts[acc.DriverID] = &stored
	return &acc, true, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, driverID uuid.UUID) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[driverID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, *acc)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DriverID.String() < out[j].DriverID.String()
	})
	return out, nil
}

func (s *MemoryStore) UpdateSpendingLimit(ctx context.Context, driverID uuid.UUID, limit int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[driverID]
	if !ok {
		return ErrAccountNotFound
	}
	acc.SpendingLimit = limit
	acc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	out := *t
	return &out, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []Transaction
	collect := func(t *Transaction) {
		if t.Active() && filter.Predicate.Matches(period.Week{Number: t.WeekNumber, Year: t.Year}) {
			out = append(out, *t)
		}
	}
	if filter.DriverID != nil {
		for _, id := range s.byDriver[*filter.DriverID] {
			collect(s.txs[id])
		}
	} else {
		for _, t := range s.txs {
			collect(t)
		}
	}
	s.mu.RUnlock()

	sortTransactions(out, filter.Predicate.WeekOrder)

	if filter.Offset >= len(out) {
		return []Transaction{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// sortTransactions orders newest first, optionally grouping by week first.
// Ties on created_at fall back to the id so pages are stable.
func sortTransactions(txs []Transaction, weekOrder bool) {
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if weekOrder {
			if a.Year != b.Year {
				return a.Year > b.Year
			}
			if a.WeekNumber != b.WeekNumber {
				return a.WeekNumber > b.WeekNumber
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})
}

func (s *MemoryStore) SumActive(ctx context.Context, driverID uuid.UUID, asOf time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, id := range s.byDriver[driverID] {
		t := s.txs[id]
		if t.Active() && !t.CreatedAt.After(asOf) {
			sum += t.SignedAmount
		}
	}
	return sum, nil
}

func (s *MemoryStore) BalanceSnapshot(ctx context.Context, driverID uuid.UUID, asOf time.Time) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[driverID]
	if !ok {
		return 0, 0, ErrAccountNotFound
	}
	var sum int64
	for _, id := range s.byDriver[driverID] {
		t := s.txs[id]
		if t.Active() && !t.CreatedAt.After(asOf) {
			sum += t.SignedAmount
		}
	}
	return acc.CurrentBalance, sum, nil
}

func (s *MemoryStore) SumActiveDebits(ctx context.Context, driverID uuid.UUID, from, to time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, id := range s.byDriver[driverID] {
		t := s.txs[id]
		if !t.Active() || t.Direction != DirectionDebit {
			continue
		}
		if t.CreatedAt.Before(from) || t.CreatedAt.After(to) {
			continue
		}
		sum += t.Amount
	}
	return sum, nil
}

type memoryTx struct {
	store     *MemoryStore
	account   Account
	created   bool
	inserts   []Transaction
	deletes   map[uuid.UUID]time.Time
	delta     int64
	updatedAt time.Time
}

func (tx *memoryTx) Account() Account { return tx.account }

func (tx *memoryTx) Transaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	for _, t := range tx.inserts {
		if t.ID == id {
			out := t
			return &out, nil
		}
	}
	t, err := tx.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if at, ok := tx.deletes[id]; ok {
		deletedAt := at
		t.DeletedAt = &deletedAt
	}
	return t, nil
}

func (tx *memoryTx) ReversedAmount(ctx context.Context, originalID uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var sum int64
	reverses := func(t *Transaction) bool {
		return t.Active() && t.ReversesID != nil && *t.ReversesID == originalID
	}

	tx.store.mu.RLock()
	for _, id := range tx.store.byDriver[tx.account.DriverID] {
		t := tx.store.txs[id]
		if _, deleted := tx.deletes[id]; deleted {
			continue
		}
		if reverses(t) {
			sum += t.Amount
		}
	}
	tx.store.mu.RUnlock()

	for i := range tx.inserts {
		if reverses(&tx.inserts[i]) {
			sum += tx.inserts[i].Amount
		}
	}
	return sum, nil
}

func (tx *memoryTx) Insert(ctx context.Context, t *Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.DriverID != tx.account.DriverID {
		return fmt.Errorf("%w: transaction driver does not match locked account", ErrInternal)
	}
	if _, err := tx.Transaction(ctx, t.ID); err == nil {
		return fmt.Errorf("%w: duplicate transaction id %s", ErrConflict, t.ID)
	}
	tx.inserts = append(tx.inserts, *t)
	tx.updatedAt = t.RecordedAt
	return nil
}

func (tx *memoryTx) MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	t, err := tx.Transaction(ctx, id)
	if err != nil {
		return err
	}
	if !t.Active() || t.DriverID != tx.account.DriverID {
		return ErrTransactionNotFound
	}
	tx.deletes[id] = at
	tx.updatedAt = at
	return nil
}

func (tx *memoryTx) AddToBalance(ctx context.Context, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx.delta += delta
	tx.account.CurrentBalance += delta
	return tx.account.CurrentBalance, nil
}
