package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewPageError("BTCUSDT", "15m", cause)

	assert.Equal(t, CategoryPage, err.Category)
	assert.True(t, err.Retryable)
	assert.Contains(t, err.Error(), "[page]")
	assert.Contains(t, err.Error(), "BTCUSDT/15m")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestSyncErrorIsMatchesCategory(t *testing.T) {
	err := NewProbeError("ETHUSDT", "1h", fmt.Errorf("no klines"))
	assert.True(t, errors.Is(err, &SyncError{Category: CategoryProbe}))
	assert.False(t, errors.Is(err, &SyncError{Category: CategoryPage}))
}

func TestCatalogErrorWithoutScope(t *testing.T) {
	err := NewCatalogError(fmt.Errorf("boom"))
	assert.Equal(t, "[catalog] boom", err.Error())
}

func TestPersistErrorNeverRetryable(t *testing.T) {
	err := NewPersistError("BTCUSDT", "15m", fmt.Errorf("timeout"))
	assert.False(t, err.Retryable)
}

func TestHTTPError(t *testing.T) {
	t.Run("truncates long bodies", func(t *testing.T) {
		body := make([]byte, 500)
		for i := range body {
			body[i] = 'x'
		}
		err := &HTTPError{StatusCode: 500, Body: string(body)}
		assert.LessOrEqual(t, len(err.Error()), 250)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"server error", &HTTPError{StatusCode: http.StatusInternalServerError}, true},
		{"bad gateway", &HTTPError{StatusCode: http.StatusBadGateway}, true},
		{"rate limited", &HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{"bad request", &HTTPError{StatusCode: http.StatusBadRequest}, false},
		{"not found", &HTTPError{StatusCode: http.StatusNotFound}, false},
		{"timeout text", fmt.Errorf("context deadline exceeded"), true},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), true},
		{"validation", fmt.Errorf("malformed kline row"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}

	t.Run("wrapped HTTP error keeps classification", func(t *testing.T) {
		err := fmt.Errorf("request failed: %w", &HTTPError{StatusCode: 503})
		assert.True(t, IsRetryable(err))
	})
}

func TestCategoryOf(t *testing.T) {
	require.Equal(t, CategoryProbe, CategoryOf(NewProbeError("BTCUSDT", "15m", fmt.Errorf("x"))))
	require.Equal(t, CategoryInternal, CategoryOf(fmt.Errorf("plain")))

	wrapped := fmt.Errorf("outer: %w", NewPersistError("BTCUSDT", "15m", fmt.Errorf("x")))
	require.Equal(t, CategoryPersist, CategoryOf(wrapped))
}
