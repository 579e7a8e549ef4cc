package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind is the direction of a ledger entry.
type EntryKind string

const (
	EntryCredit EntryKind = "credit" // funding
	EntryDebit  EntryKind = "debit"  // purchase
)

// EntryStatus tells whether the attempt moved money.
type EntryStatus string

const (
	StatusCompleted EntryStatus = "completed"
	StatusDeclined  EntryStatus = "declined"
)

// LedgerEntry represents a single immutable ledger record for an account.
// Declined entries record refused purchases and never move the balance.
type LedgerEntry struct {
	ID        string `json:"id"` // ULID
	AccountID string `json:"account_id"`
	// Seq is the account version after the write: 1-based, gapless per account.
	Seq           int64           `json:"seq"`
	Kind          EntryKind       `json:"kind"`
	Status        EntryStatus     `json:"status"`
	Amount        decimal.Decimal `json:"amount"` // always positive, direction comes from Kind
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Delta is the signed change the entry applies to the stored balance.
func (e LedgerEntry) Delta() decimal.Decimal {
	if e.Status != StatusCompleted {
		return decimal.Zero
	}
	if e.Kind == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Validate checks the before/after arithmetic of the entry.
func (e LedgerEntry) Validate() error {
	if e.AccountID == "" {
		return fmt.Errorf("ledger entry: account id is required")
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("ledger entry: %w", ErrInvalidAmount)
	}

	switch e.Status {
	case StatusCompleted:
	case StatusDeclined:
		if e.Kind != EntryDebit {
			return fmt.Errorf("ledger entry: only debits can be declined")
		}
	default:
		return fmt.Errorf("ledger entry: unknown status %q", e.Status)
	}

	switch e.Kind {
	case EntryCredit, EntryDebit:
	default:
		return fmt.Errorf("ledger entry: unknown kind %q", e.Kind)
	}

	want := e.BalanceBefore.Add(e.Delta())
	if !e.BalanceAfter.Equal(want) {
		return fmt.Errorf("ledger entry: balance after %s, expected %s", e.BalanceAfter, want)
	}
	if e.BalanceAfter.IsNegative() {
		return fmt.Errorf("ledger entry: balance after %s is negative", e.BalanceAfter)
	}
	return nil
}
