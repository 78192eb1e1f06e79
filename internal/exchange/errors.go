package exchange

import (
	"errors"

	"github.com/xtrntr/spotex/internal/store"
)

// Error kinds returned by Service. Callers classify with errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInsufficientAsset = errors.New("insufficient asset")
	ErrForbidden         = errors.New("order not owned by user")
	ErrInvalidState      = store.ErrNotOpen
	ErrInvalidOrder      = errors.New("invalid order")
	ErrNotFound          = store.ErrNotFound
	ErrTransientConflict = store.ErrConflict

	// errLedgerInconsistent means a stored holding no longer covers what an
	// open order reserved. It always aborts the transaction.
	errLedgerInconsistent = errors.New("ledger inconsistent")
)
