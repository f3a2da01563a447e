package ledger

import (
	"errors"
	"fmt"
)

// Every error returned by this package wraps exactly one of these roots,
// or ErrInternal for store failures.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict means a concurrent writer won a race. The caller may retry.
	ErrConflict = errors.New("concurrent modification, retry")
	ErrInternal = errors.New("internal error")
)

var (
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrInvalidType        = fmt.Errorf("%w: unknown transaction type", ErrValidation)
	ErrInvalidDirection   = fmt.Errorf("%w: direction is not allowed for this transaction type", ErrValidation)
	ErrDirectionRequired  = fmt.Errorf("%w: adjustment requires a direction", ErrValidation)
	ErrInvalidDriver      = fmt.Errorf("%w: driver_id is required", ErrValidation)
	ErrInvalidLimit       = fmt.Errorf("%w: spending limit must not be negative", ErrValidation)
	ErrFutureTimestamp    = fmt.Errorf("%w: created_at is in the future", ErrValidation)
	ErrFieldTooLong       = fmt.Errorf("%w: field too long", ErrValidation)
	ErrReversalTarget     = fmt.Errorf("%w: reversal requires an active transaction of the same driver", ErrValidation)
	ErrReversalExceeded   = fmt.Errorf("%w: reversal exceeds the remaining amount of the original", ErrValidation)
	ErrHasActiveReversals = fmt.Errorf("%w: transaction has active reversals", ErrValidation)
	ErrReversalMissing    = fmt.Errorf("%w: reversal requires reverses_id", ErrValidation)
	ErrReversesNotAllowed = fmt.Errorf("%w: reverses_id is only allowed on reversals", ErrValidation)
	ErrInvalidPage        = fmt.Errorf("%w: offset must not be negative", ErrValidation)
	ErrBalanceOverflow    = fmt.Errorf("%w: balance out of range", ErrValidation)

	ErrAccountNotFound     = fmt.Errorf("%w: spending account", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("%w: transaction", ErrNotFound)
)
