package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind tags an account as a parent or a child.
type AccountKind string

const (
	KindParent AccountKind = "parent"
	KindChild  AccountKind = "child"
)

func (k AccountKind) Valid() bool {
	return k == KindParent || k == KindChild
}

// Account is a balance-bearing record for a parent or a child
type Account struct {
	ID           string      `json:"id"`
	Kind         AccountKind `json:"kind"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`

	// Balance is never negative and only moves through ApplyDelta.
	Balance decimal.Decimal `json:"balance"`
	// Version is bumped by every balance compare-and-swap.
	Version int64 `json:"version"`

	// Children only: per purchase ceiling, purchase switch and parent account id.
	SpendingLimit decimal.Decimal `json:"spending_limit"`
	Active        bool            `json:"active"`
	OwnerID       string          `json:"owner_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Account) IsChild() bool { return a.Kind == KindChild }

func (a Account) IsParent() bool { return a.Kind == KindParent }
