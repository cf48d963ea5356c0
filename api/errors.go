package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/foyer/barledger/ledger"
	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a ledger error category onto an HTTP status.
//
//	*DenialError        422 with reason
//	ErrValidation       400
//	ErrPermissionDenied 403
//	ErrNotFound         404
//	ErrConflict         409
//	anything else       500, logged
func writeLedgerError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var denial *ledger.DenialError
	switch {
	case errors.As(err, &denial):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   denial.Reason.Message(),
			Reason:  string(denial.Reason),
			Details: err.Error(),
		})
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, ledger.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
