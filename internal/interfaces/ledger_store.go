package interfaces

import (
	"context"

	"github.com/sheikh-saqib/allowance-ledger/internal/models"
)

// LedgerStore is append only. There is deliberately no update or delete.
type LedgerStore interface {
	Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)
	// ListForAccount returns up to limit entries with Seq greater than afterSeq, ordered by Seq.
	ListForAccount(ctx context.Context, accountID string, afterSeq int64, limit int) ([]models.LedgerEntry, error)
}
