package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFollowsWrappedKind(t *testing.T) {
	err := fmt.Errorf("debit wallet u-1: %w", ErrInsufficientBalance)

	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
	assert.Equal(t, "INSUFFICIENT_BALANCE", Code(err))
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := fmt.Errorf("boom")

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, "INTERNAL_ERROR", Code(err))
	assert.False(t, Retryable(err))
}

func TestGatewayFailureIsRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("verify: %w", ErrGatewayFailure)))
}
