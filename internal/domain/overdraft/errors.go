package overdraft

import (
	"fmt"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
)

var (
	ErrInvalidDays  = fmt.Errorf("%w: days out of range", ledger.ErrValidation)
	ErrInvalidLimit = fmt.Errorf("%w: limit out of range", ledger.ErrValidation)
)
