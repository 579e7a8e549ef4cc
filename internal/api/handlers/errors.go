package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sheikh-saqib/allowance-ledger/internal/api/middleware"
	"github.com/sheikh-saqib/allowance-ledger/internal/auth"
	"github.com/sheikh-saqib/allowance-ledger/internal/engine"
	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/logger"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
)

const (
	maxBodyBytes       = 1 << 20
	unavailableMessage = "Service temporarily unavailable, try again"
)

var errStatus = []struct {
	err    error
	status int
}{
	{models.ErrNotFound, http.StatusNotFound},
	{models.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{models.ErrLimitExceeded, http.StatusUnprocessableEntity},
	{models.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{models.ErrAccountInactive, http.StatusUnprocessableEntity},
	{models.ErrNotChild, http.StatusBadRequest},
	{models.ErrInvalidOwner, http.StatusBadRequest},
	{auth.ErrInvalidInput, http.StatusBadRequest},
	{ledger.ErrInvalidCursor, http.StatusBadRequest},
	{models.ErrDuplicate, http.StatusConflict},
	{models.ErrUnauthorized, http.StatusUnauthorized},
	{models.ErrForbidden, http.StatusForbidden},
	{models.ErrTransientFailure, http.StatusServiceUnavailable},
}

// writeError maps domain errors onto status codes. Declined purchases also
// carry the id of the entry that recorded the refusal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var declined *engine.DeclinedError
	if errors.As(err, &declined) {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":             declined.Reason.Error(),
			"declined_entry_id": declined.Entry.ID,
			"entry":             declined.Entry,
		})
		return
	}

	log := logger.FromContext(r.Context())
	for _, m := range errStatus {
		if errors.Is(err, m.err) {
			if m.status == http.StatusServiceUnavailable {
				// store and driver detail stays in the log
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("transient failure")
				middleware.WriteError(w, m.status, unavailableMessage)
				return
			}
			middleware.WriteError(w, m.status, err.Error())
			return
		}
	}

	log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
	middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", auth.ErrInvalidInput)
	}
	return nil
}
