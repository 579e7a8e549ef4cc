package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sheikh-saqib/allowance-ledger/internal/api/middleware"
	"github.com/sheikh-saqib/allowance-ledger/internal/auth"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// access says who may act on /api/children/{id}.
type access int

const (
	viewer  access = iota // owning parent or the child itself
	manager               // owning parent only
	self                  // the child itself only
)

// child loads the account named by the {id} route parameter and checks the
// caller's access to it. It writes the error response itself on failure.
func (h *Handler) child(w http.ResponseWriter, r *http.Request, need access) (models.Account, bool) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, models.ErrUnauthorized)
		return models.Account{}, false
	}

	account, err := h.accounts.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return models.Account{}, false
	}

	var allowed bool
	switch need {
	case viewer:
		allowed = principal.CanViewChild(account)
	case manager:
		allowed = principal.CanManageChild(account)
	case self:
		allowed = principal.Role == models.KindChild && principal.AccountID == account.ID
	}
	if !allowed {
		writeError(w, r, models.ErrForbidden)
		return models.Account{}, false
	}
	return account, true
}

// GetChild handles GET /api/children/{id}
func (h *Handler) GetChild(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, viewer)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, account)
}

// UpdateChild handles PUT /api/children/{id}. Name and email go through the
// profile update; a spending_limit, if present, through the engine. Balance is
// not accepted here.
func (h *Handler) UpdateChild(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, manager)
	if !ok {
		return
	}

	var req struct {
		auth.ProfileUpdate
		SpendingLimit *decimal.Decimal `json:"spending_limit"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	// checked up front so an invalid limit leaves the profile untouched
	if req.SpendingLimit != nil && !models.ValidLimit(*req.SpendingLimit) {
		writeError(w, r, models.ErrInvalidAmount)
		return
	}

	updated, err := h.auth.UpdateProfile(r.Context(), account.ID, req.ProfileUpdate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.SpendingLimit != nil {
		if updated, err = h.engine.SetSpendingLimit(r.Context(), account.ID, *req.SpendingLimit); err != nil {
			writeError(w, r, err)
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// SetSpendingLimit handles PUT /api/children/{id}/spending-limit
func (h *Handler) SetSpendingLimit(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, manager)
	if !ok {
		return
	}

	var req struct {
		SpendingLimit *decimal.Decimal `json:"spending_limit"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SpendingLimit == nil {
		writeError(w, r, fmt.Errorf("%w: spending_limit is required", auth.ErrInvalidInput))
		return
	}

	updated, err := h.engine.SetSpendingLimit(r.Context(), account.ID, *req.SpendingLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// SetActive handles PUT /api/children/{id}/active
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, manager)
	if !ok {
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Active == nil {
		writeError(w, r, fmt.Errorf("%w: active is required", auth.ErrInvalidInput))
		return
	}

	updated, err := h.engine.SetActive(r.Context(), account.ID, *req.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// DeleteChild handles DELETE /api/children/{id}. Accounts are never removed
// because their ledger must stay readable; the child is deactivated instead.
func (h *Handler) DeleteChild(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, manager)
	if !ok {
		return
	}

	updated, err := h.engine.SetActive(r.Context(), account.ID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

type moneyRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Fund handles POST /api/children/{id}/fund
func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, manager)
	if !ok {
		return
	}

	var req moneyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	updated, entry, err := h.engine.Fund(r.Context(), account.ID, req.Amount, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"account": updated,
		"entry":   entry,
	})
}

// Purchase handles POST /api/children/{id}/purchases
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, self)
	if !ok {
		return
	}

	var req moneyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	updated, entry, err := h.engine.Purchase(r.Context(), account.ID, req.Amount, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"account": updated,
		"entry":   entry,
	})
}

// Transactions handles GET /api/children/{id}/transactions?cursor=&limit=
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, viewer)
	if !ok {
		return
	}

	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: limit must be a number", auth.ErrInvalidInput))
			return
		}
		limit = n
	}

	page, err := h.ledger.ListForAccount(r.Context(), account.ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// Reconcile handles GET /api/children/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	account, ok := h.child(w, r, manager)
	if !ok {
		return
	}

	rec, err := h.engine.Reconcile(r.Context(), account.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}
