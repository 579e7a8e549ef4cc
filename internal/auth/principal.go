package auth

import "github.com/sheikh-saqib/allowance-ledger/internal/models"

// Principal is who the caller is, as resolved from a token.
type Principal struct {
	AccountID string
	Role      models.AccountKind
	ParentID  string // set for children
}

// CanManageChild reports whether p is the parent that owns child.
func (p Principal) CanManageChild(child models.Account) bool {
	return p.Role == models.KindParent && child.IsChild() && child.OwnerID == p.AccountID
}

// CanViewChild also lets a child see its own account.
func (p Principal) CanViewChild(child models.Account) bool {
	if p.CanManageChild(child) {
		return true
	}
	return p.Role == models.KindChild && p.AccountID == child.ID
}
