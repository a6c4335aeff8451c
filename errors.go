package mealvoice

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTranscriptionEmpty means no speech was detected; the user should re-record.
	ErrTranscriptionEmpty = errors.New("no speech detected")
	// ErrNoFoodDetected means the parser found no food items; the user should re-describe the meal.
	ErrNoFoodDetected = errors.New("no food detected")
	ErrNetwork        = errors.New("network error")
	ErrRateLimited    = errors.New("rate limited")
	// ErrInvalidCredential is returned for rejected API keys or missing model access.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidBaseQuantity is returned when nutrition is rescaled from a non-positive gram weight.
	ErrInvalidBaseQuantity = errors.New("invalid base quantity")
	ErrQuotaExceeded       = errors.New("usage quota exceeded")
)

// StatusError maps a non-2xx HTTP response from a model provider onto the
// error taxonomy. The response body is kept in the message for debugging.
func StatusError(status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:197] + "..."
	}

	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrInvalidCredential
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status >= 500, status == http.StatusRequestTimeout:
		kind = ErrNetwork
	default:
		return fmt.Errorf("unexpected status %d: %s", status, body)
	}
	return fmt.Errorf("%w: status %d: %s", kind, status, body)
}

// IsRetryable reports whether err is worth retrying against the same provider.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

// IsUserRecoverable reports whether the user can fix err by recording again.
func IsUserRecoverable(err error) bool {
	return errors.Is(err, ErrTranscriptionEmpty) || errors.Is(err, ErrNoFoodDetected)
}
