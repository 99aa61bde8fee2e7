package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/rails"
	"github.com/fundverse/backend/internal/rails/equity"
	"github.com/fundverse/backend/internal/rails/native"
)

// StatusFor maps engine and rail errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrUnsupportedMethod):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrUnknownBacker):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrContributionNotFound),
		errors.Is(err, escrow.ErrCampaignNotFound),
		errors.Is(err, native.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrCampaignClosed),
		errors.Is(err, escrow.ErrInvalidStateTransition),
		errors.Is(err, escrow.ErrAmountMismatch),
		errors.Is(err, escrow.ErrCampaignNotResolved),
		errors.Is(err, escrow.ErrResolutionFinal),
		errors.Is(err, rails.ErrSubmitInProgress),
		errors.Is(err, rails.ErrNothingToPoll):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrAmountOverflow),
		errors.Is(err, rails.ErrInvalidParams),
		errors.Is(err, equity.ErrInvestmentTooSmall),
		errors.Is(err, equity.ErrDealMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrRailConfirmationFailed):
		return http.StatusBadGateway
	case errors.Is(err, rails.ErrNoAdapter):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError writes err as {"error": ...} with the status StatusFor picks.
// Unmapped errors are logged and hidden from the client.
func WriteError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(op, "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
