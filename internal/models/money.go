package models

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits kept for balances and amounts.
const MoneyScale = 2

// MaxAmount is the largest amount, limit or balance the ledger can store
// (NUMERIC(18,2) in Postgres).
var MaxAmount = decimal.RequireFromString("9999999999999999.99")

// ValidAmount reports whether d is a positive amount with at most MoneyScale
// decimals and no larger than MaxAmount.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && ValidLimit(d)
}

// ValidLimit is ValidAmount but also accepts zero.
func ValidLimit(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Round(MoneyScale)) && d.LessThanOrEqual(MaxAmount)
}

// WithinMax reports whether a balance fits the storable range.
func WithinMax(balance decimal.Decimal) bool {
	return balance.LessThanOrEqual(MaxAmount)
}
