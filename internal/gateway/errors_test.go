package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable} {
		err := StatusError("chat completion", status, "", 2*time.Second)
		assert.True(t, IsTransient(err), "status %d", status)

		var ext *ExternalServiceError
		if assert.ErrorAs(t, err, &ext) {
			assert.Equal(t, status, ext.StatusCode)
			assert.Equal(t, 2*time.Second, ext.RetryAfter)
		}
	}

	err := StatusError("chat completion", http.StatusBadRequest, `{"error":"context too long"}`, 0)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "context too long")

	assert.ErrorIs(t, StatusError("list models", http.StatusNoContent, "", 0), ErrInvalidResponse)
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	err := TransportError("chat completion", context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "chat completion: context deadline exceeded", err.Error())

	err = TransportError("chat completion", fmt.Errorf("dial: %w", context.Canceled))
	assert.False(t, IsTransient(err))

	wrapped := fmt.Errorf("analyze: %w", TransportError("chat completion", errors.New("connection refused")))
	assert.True(t, IsTransient(wrapped))
}
