package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"crypto-payment-gate/internal/domain"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrPricingNotFound),
		errors.Is(err, domain.ErrInvalidTier),
		errors.Is(err, domain.ErrInvalidInterval),
		errors.Is(err, domain.ErrChainNotConfigured),
		errors.Is(err, domain.ErrUnsupportedCurrency):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPaymentExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrPaymentMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPaymentConsumed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentNotVerified),
		errors.Is(err, domain.ErrPaymentAlreadyFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrProviderFailure),
		errors.Is(err, domain.ErrNoPaymentOptions):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrVerificationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}
