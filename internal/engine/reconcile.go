package engine

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// Reconciliation compares an account's stored balance with its ledger.
type Reconciliation struct {
	AccountID     string          `json:"account_id"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Version       int64           `json:"version"`
	Completed     int             `json:"completed"`
	Declined      int             `json:"declined"`
	Consistent    bool            `json:"consistent"`
	// Problem explains why the ledger could not be replayed.
	Problem string `json:"problem,omitempty"`
}

// Reconcile replays the ledger up to the account version that was read, so
// writes landing during the replay don't produce false mismatches.
func (e *Engine) Reconcile(ctx context.Context, accountID string) (Reconciliation, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return Reconciliation{}, classify(err)
	}

	rec := Reconciliation{
		AccountID:     account.ID,
		StoredBalance: account.Balance,
		Version:       account.Version,
	}

	if account.Version == 0 {
		rec.LedgerBalance = decimal.Zero
		rec.Consistent = account.Balance.IsZero()
		return rec, nil
	}

	replay, err := e.ledger.ReplayTo(ctx, accountID, account.Version)
	if errors.Is(err, ledger.ErrBrokenLedger) {
		e.log.Error().Err(err).Str("account_id", accountID).Msg("ledger cannot be replayed")
		rec.Problem = err.Error()
		return rec, nil
	}
	if err != nil {
		return Reconciliation{}, classify(err)
	}

	rec.LedgerBalance = replay.Balance
	rec.Completed = replay.Completed
	rec.Declined = replay.Declined
	rec.Consistent = replay.Balance.Equal(account.Balance) &&
		int64(replay.Completed+replay.Declined) == account.Version

	if !rec.Consistent {
		e.log.Error().
			Str("account_id", accountID).
			Str("stored", account.Balance.String()).
			Str("ledger", replay.Balance.String()).
			Int64("version", account.Version).
			Msg("balance does not match ledger")
	}
	return rec, nil
}

