// Package apperr defines the error taxonomy shared by the escrow, wallet and
// order packages. Callers match kinds with errors.Is; the transport layer maps
// them to status codes with HTTPStatus.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrUnauthorized             = errors.New("not authorized")
	ErrInvalidState             = errors.New("invalid state")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidConfiguration     = errors.New("invalid configuration")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrDuplicateEscrow          = errors.New("escrow already exists for order")
	ErrDuplicateReference       = errors.New("reference already processed")
	ErrMissingPayoutDestination = errors.New("missing payout destination")
	ErrGatewayFailure           = errors.New("payment gateway failure")
	ErrSignatureInvalid         = errors.New("invalid webhook signature")
	ErrLedgerCorrupted          = errors.New("ledger invariant violated")
	ErrConflict                 = errors.New("conflict")
)

type kind struct {
	err    error
	code   string
	status int
}

var kinds = []kind{
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusForbidden},
	{ErrInvalidState, "INVALID_STATE", http.StatusConflict},
	{ErrInvalidTransition, "INVALID_TRANSITION", http.StatusConflict},
	{ErrInvalidAmount, "INVALID_AMOUNT", http.StatusBadRequest},
	{ErrInvalidConfiguration, "INVALID_CONFIGURATION", http.StatusInternalServerError},
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity},
	{ErrDuplicateEscrow, "DUPLICATE_ESCROW", http.StatusConflict},
	{ErrDuplicateReference, "DUPLICATE_REFERENCE", http.StatusOK},
	{ErrMissingPayoutDestination, "MISSING_PAYOUT_DESTINATION", http.StatusUnprocessableEntity},
	{ErrGatewayFailure, "GATEWAY_FAILURE", http.StatusBadGateway},
	{ErrSignatureInvalid, "SIGNATURE_INVALID", http.StatusUnauthorized},
	{ErrLedgerCorrupted, "LEDGER_CORRUPTED", http.StatusLocked},
	{ErrConflict, "CONFLICT", http.StatusConflict},
}

// Code returns the stable machine-readable code for err, or INTERNAL_ERROR.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus returns the status code the transport layer should answer with.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry the same request with the
// same idempotency reference.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayFailure)
}

// Known reports whether err belongs to the taxonomy above.
func Known(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}
