package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(ErrorTypeNotFound, "page not found", 404)
	assert.Equal(t, "not_found error (code 404): page not found", err.Error())
}

func TestInvalidState(t *testing.T) {
	err := InvalidState("download requires a prior search")
	assert.Equal(t, ErrorTypeInvalidState, err.Type)
	assert.Contains(t, err.Error(), "download requires a prior search")
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError}
	for _, errType := range retryable {
		assert.True(t, IsRetryable(errType), string(errType))
	}

	permanent := []ErrorType{ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeInvalidState, ErrorTypeUnknown}
	for _, errType := range permanent {
		assert.False(t, IsRetryable(errType), string(errType))
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	assert.True(t, IsRetryableStatusCode(0))
	assert.True(t, IsRetryableStatusCode(429))
	assert.True(t, IsRetryableStatusCode(500))
	assert.True(t, IsRetryableStatusCode(503))
	assert.True(t, IsRetryableStatusCode(599))

	assert.False(t, IsRetryableStatusCode(200))
	assert.False(t, IsRetryableStatusCode(404))
	assert.False(t, IsRetryableStatusCode(403))
	assert.False(t, IsRetryableStatusCode(400))
}
