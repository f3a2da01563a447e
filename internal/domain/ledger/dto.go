package ledger

import (
	"time"

	"github.com/google/uuid"
)

// CreateTransactionRequest is the body of POST /transactions.
type CreateTransactionRequest struct {
	DriverID        string     `json:"driver_id" validate:"required,uuid"`
	Amount          int64      `json:"amount" validate:"gt=0"`
	TransactionType string     `json:"transaction_type" validate:"required,transaction_type"`
	Direction       string     `json:"direction,omitempty" validate:"direction"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	ReferenceID     string     `json:"reference_id,omitempty" validate:"max=128"`
	Description     string     `json:"description,omitempty" validate:"max=500"`
	ReversesID      string     `json:"reverses_id,omitempty" validate:"omitempty,uuid"`
}

// toInput assumes the request passed validation.
func (r CreateTransactionRequest) toInput() (AppendInput, error) {
	driverID, err := uuid.Parse(r.DriverID)
	if err != nil {
		return AppendInput{}, ErrInvalidDriver
	}
	typ, err := ParseTransactionType(r.TransactionType)
	if err != nil {
		return AppendInput{}, err
	}
	in := AppendInput{
		DriverID:    driverID,
		Amount:      r.Amount,
		Type:        typ,
		Direction:   Direction(r.Direction),
		CreatedAt:   r.CreatedAt,
		ReferenceID: r.ReferenceID,
		Description: r.Description,
	}
	if r.ReversesID != "" {
		id, err := uuid.Parse(r.ReversesID)
		if err != nil {
			return AppendInput{}, ErrReversalTarget
		}
		in.ReversesID = &id
	}
	return in, nil
}

// CreateTransactionResponse answers POST /transactions.
type CreateTransactionResponse struct {
	TransactionID uuid.UUID   `json:"transaction_id"`
	NewBalance    int64       `json:"new_balance"`
	Transaction   Transaction `json:"transaction"`
}

// DeleteTransactionResponse answers DELETE /transactions/{id}.
type DeleteTransactionResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	NewBalance    int64     `json:"new_balance"`
}

// ProvisionAccountRequest is the optional body of PUT /accounts/{driver_id}.
type ProvisionAccountRequest struct {
	SpendingLimit *int64 `json:"spending_limit,omitempty" validate:"omitempty,gte=0"`
}

// SpendingLimitRequest is the body of PUT /accounts/{driver_id}/spending-limit.
type SpendingLimitRequest struct {
	SpendingLimit *int64 `json:"spending_limit" validate:"required,gte=0"`
}

type AccountResponse struct {
	DriverID       uuid.UUID `json:"driver_id"`
	CurrentBalance int64     `json:"current_balance"`
	SpendingLimit  int64     `json:"spending_limit"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func AccountResponseFromEntity(a *Account) AccountResponse {
	return AccountResponse{
		DriverID:       a.DriverID,
		CurrentBalance: a.CurrentBalance,
		SpendingLimit:  a.SpendingLimit,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// BalanceAsOfResponse answers GET /accounts/{driver_id}/balance.
type BalanceAsOfResponse struct {
	DriverID uuid.UUID `json:"driver_id"`
	AsOf     time.Time `json:"as_of"`
	Balance  int64     `json:"balance"`
}
