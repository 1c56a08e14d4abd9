package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"finguard/internal/core"
	"finguard/internal/identity"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps a typed domain error onto its HTTP status. Unknown
// errors become a 500 without leaking internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error:     msg,
		RequestID: GetRequestID(r.Context()),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated),
		errors.Is(err, identity.ErrEmptyCredential):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrVersionConflict),
		errors.Is(err, core.ErrDuplicateSubmission):
		return http.StatusConflict
	case errors.Is(err, core.ErrRemoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrNegativeBalance),
		errors.Is(err, core.ErrOverpayment),
		errors.Is(err, core.ErrInsufficientQuantity),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, core.ErrEmptyOwner),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrEmptyAssetType),
		errors.Is(err, core.ErrEmptyLoanID),
		errors.Is(err, core.ErrEmptyIdempotencyKey):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
