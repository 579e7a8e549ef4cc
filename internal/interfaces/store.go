package interfaces

import (
	"context"

	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// TxStore is what a unit of work may do. Everything done through it commits
// together or not at all.
type TxStore interface {
	ApplyDelta(ctx context.Context, id string, delta, expectedBalance decimal.Decimal) (models.Account, error)
	Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)
}

type Store interface {
	AccountStore
	LedgerStore
	WithinTx(ctx context.Context, fn func(tx TxStore) error) error
}
