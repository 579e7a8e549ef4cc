package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeAccountFunded     = "account.funded"
	TypePurchaseCompleted = "purchase.completed"
	TypePurchaseDeclined  = "purchase.declined"
)

type LedgerEntryRecorded struct {
	EventType     string          `json:"event_type"`
	EntryID       string          `json:"entry_id"`
	AccountID     string          `json:"account_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reason        string          `json:"reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
