package interfaces

import (
	"context"

	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, id string) (models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
	ListChildren(ctx context.Context, parentID string) ([]models.Account, error)

	// ApplyDelta adds delta to the balance only if the stored balance still
	// equals expectedBalance, otherwise it fails with models.ErrConflict.
	// Every successful call bumps the account Version, including a zero delta.
	ApplyDelta(ctx context.Context, id string, delta, expectedBalance decimal.Decimal) (models.Account, error)

	SetSpendingLimit(ctx context.Context, id string, limit decimal.Decimal) (models.Account, error)
	SetActive(ctx context.Context, id string, active bool) (models.Account, error)

	// UpdateProfile replaces name and email. An email held by another
	// account fails with models.ErrDuplicate.
	UpdateProfile(ctx context.Context, id, name, email string) (models.Account, error)
}
