package handlers

import (
	"net/http"

	"github.com/sheikh-saqib/allowance-ledger/internal/api/middleware"
	"github.com/sheikh-saqib/allowance-ledger/internal/auth"
	"github.com/sheikh-saqib/allowance-ledger/internal/engine"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
)

// Handler serves the account and ledger endpoints.
type Handler struct {
	auth     *auth.Service
	engine   *engine.Engine
	ledger   *ledger.Ledger
	accounts interfaces.AccountStore
}

func New(authSvc *auth.Service, eng *engine.Engine, l *ledger.Ledger, accounts interfaces.AccountStore) *Handler {
	return &Handler{auth: authSvc, engine: eng, ledger: l, accounts: accounts}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register handles POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.auth.RegisterParent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, account)
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, session)
}

// Profile handles GET /api/users/profile
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	account, err := h.accounts.GetAccount(r.Context(), principal.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, account)
}

// UpdateProfile handles PUT /api/users/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	var req auth.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.auth.UpdateProfile(r.Context(), principal.AccountID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, account)
}

// ListChildren handles GET /api/children
func (h *Handler) ListChildren(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	children, err := h.accounts.ListChildren(r.Context(), principal.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if children == nil {
		children = []models.Account{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"children": children,
		"count":    len(children),
	})
}

// CreateChild handles POST /api/children
func (h *Handler) CreateChild(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	var req auth.ChildInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	child, err := h.auth.CreateChild(r.Context(), principal, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, child)
}
