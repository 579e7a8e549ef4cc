package engine

import (
	"errors"
	"fmt"

	"github.com/sheikh-saqib/allowance-ledger/internal/models"
)

// DeclinedError is returned when a purchase is refused by policy. The refusal
// is still recorded; Entry is the declined ledger entry.
type DeclinedError struct {
	Reason error
	Entry  models.LedgerEntry
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("purchase declined: %v", e.Reason)
}

func (e *DeclinedError) Unwrap() error { return e.Reason }

// domainErrors pass through to callers untouched. Anything else coming out of
// a store, cancelled contexts included, is a transient failure.
var domainErrors = []error{
	models.ErrNotFound,
	models.ErrInvalidAmount,
	models.ErrLimitExceeded,
	models.ErrInsufficientFunds,
	models.ErrAccountInactive,
	models.ErrNotChild,
	models.ErrDuplicate,
	models.ErrInvalidOwner,
	models.ErrTransientFailure,
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", models.ErrTransientFailure, err)
}
