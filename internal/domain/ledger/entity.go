package ledger

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction is the accounting side of a transaction.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionCredit {
		return DirectionDebit
	}
	return DirectionCredit
}

// Sign applies the direction to a magnitude: credits are positive, debits negative.
func (d Direction) Sign(amount int64) int64 {
	if d == DirectionDebit {
		return -amount
	}
	return amount
}

// TransactionType is the closed set of ledger entry kinds.
type TransactionType uint8

const (
	TransactionTypeTopUp TransactionType = iota
	TransactionTypeExpense
	TransactionTypeRefund
	TransactionTypeManualDebit
	TransactionTypeAdjustment
	TransactionTypeReversal

	transactionTypeCount
)

// directionRule says where a type's direction comes from.
type directionRule uint8

const (
	ruleCredit directionRule = iota + 1
	ruleDebit
	// ruleCallerChosen requires the caller to supply the direction.
	ruleCallerChosen
	// ruleOppositeOfOriginal takes the inverse of the reversed transaction.
	ruleOppositeOfOriginal
)

var transactionTypeNames = [...]string{
	TransactionTypeTopUp:       "topup",
	TransactionTypeExpense:     "expense",
	TransactionTypeRefund:      "refund",
	TransactionTypeManualDebit: "manual_debit",
	TransactionTypeAdjustment:  "adjustment",
	TransactionTypeReversal:    "reversal",
}

var directionRules = [...]directionRule{
	TransactionTypeTopUp:       ruleCredit,
	TransactionTypeExpense:     ruleDebit,
	TransactionTypeRefund:      ruleCredit,
	TransactionTypeManualDebit: ruleDebit,
	TransactionTypeAdjustment:  ruleCallerChosen,
	TransactionTypeReversal:    ruleOppositeOfOriginal,
}

// Both tables must have exactly one entry per type. A new type added without
// updating them makes one of these array lengths negative and fails to compile.
var (
	_ [len(transactionTypeNames) - int(transactionTypeCount)]struct{}
	_ [int(transactionTypeCount) - len(transactionTypeNames)]struct{}
	_ [len(directionRules) - int(transactionTypeCount)]struct{}
	_ [int(transactionTypeCount) - len(directionRules)]struct{}
)

// TransactionTypes lists every type in declaration order.
func TransactionTypes() []TransactionType {
	out := make([]TransactionType, 0, transactionTypeCount)
	for t := TransactionType(0); t < transactionTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// ParseTransactionType maps a wire name to a type.
func ParseTransactionType(s string) (TransactionType, error) {
	for i, name := range transactionTypeNames {
		if name == s {
			return TransactionType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidType, s)
}

func (t TransactionType) Valid() bool { return t < transactionTypeCount }

func (t TransactionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("TransactionType(%d)", uint8(t))
	}
	return transactionTypeNames[t]
}

// FixedDirection returns the direction implied by the type alone, if any.
func (t TransactionType) FixedDirection() (Direction, bool) {
	if !t.Valid() {
		return "", false
	}
	switch directionRules[t] {
	case ruleCredit:
		return DirectionCredit, true
	case ruleDebit:
		return DirectionDebit, true
	}
	return "", false
}

func (t TransactionType) rule() directionRule { return directionRules[t] }

func (t TransactionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, uint8(t))
	}
	return []byte(transactionTypeNames[t]), nil
}

func (t *TransactionType) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value stores the type by name.
func (t TransactionType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, uint8(t))
	}
	return transactionTypeNames[t], nil
}

func (t *TransactionType) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return t.UnmarshalText([]byte(v))
	case []byte:
		return t.UnmarshalText(v)
	}
	return fmt.Errorf("%w: cannot scan %T", ErrInvalidType, src)
}

// Account is a driver's spending account. CurrentBalance is a cache of the
// active ledger sum and is only changed through BalanceEngine.
type Account struct {
	DriverID       uuid.UUID `db:"driver_id" json:"driver_id"`
	CurrentBalance int64     `db:"current_balance" json:"current_balance"`
	SpendingLimit  int64     `db:"spending_limit" json:"spending_limit"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is a ledger row. Only DeletedAt changes after insertion.
type Transaction struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	DriverID     uuid.UUID       `db:"driver_id" json:"driver_id"`
	Amount       int64           `db:"amount" json:"amount"`
	Type         TransactionType `db:"transaction_type" json:"transaction_type"`
	Direction    Direction       `db:"direction" json:"direction"`
	SignedAmount int64           `db:"signed_amount" json:"signed_amount"`
	WeekNumber   int             `db:"week_number" json:"week_number"`
	Year         int             `db:"year" json:"year"`
	ReferenceID  *string         `db:"reference_id" json:"reference_id,omitempty"`
	ReversesID   *uuid.UUID      `db:"reverses_id" json:"reverses_id,omitempty"`
	Description  string          `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	RecordedAt   time.Time       `db:"recorded_at" json:"recorded_at"`
	DeletedAt    *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Active is the single soft-delete predicate. Every balance, overdraft and
// trend computation goes through it (or its SQL twin, activeOnly).
func (t *Transaction) Active() bool {
	return t.DeletedAt == nil
}

// Receipt is the result of a ledger write.
type Receipt struct {
	Transaction Transaction `json:"transaction"`
	NewBalance  int64       `json:"new_balance"`
}

// Drift is the outcome of comparing the cached balance with a full replay.
type Drift struct {
	DriverID      uuid.UUID `json:"driver_id"`
	Cached        int64     `json:"cached"`
	Reconstructed int64     `json:"reconstructed"`
}

func (d Drift) Consistent() bool { return d.Cached == d.Reconstructed }
