// Package errors provides the error taxonomy for the kline mirror: every
// failure surfaced across a module boundary carries its pipeline stage,
// the instrument it belongs to, and a retryability classification used by
// the fetcher's backoff loop.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Category identifies the pipeline stage an error originated from.
type Category string

const (
	// CategoryCatalog covers instrument discovery failures. These never
	// abort a run; the syncer proceeds with an empty universe.
	CategoryCatalog Category = "catalog"

	// CategoryProbe covers earliest-timestamp probe failures. These fail
	// the whole work item since no start bound can be established.
	CategoryProbe Category = "probe"

	// CategoryPage covers single-page fetch failures after retries are
	// exhausted. The accumulated partial series is still persisted.
	CategoryPage Category = "page"

	// CategoryPersist covers series file and manifest write failures.
	CategoryPersist Category = "persist"

	// CategoryInternal covers everything else.
	CategoryInternal Category = "internal"
)

// SyncError is an error annotated with its pipeline stage and the work
// item it belongs to.
type SyncError struct {
	Category  Category
	Symbol    string
	Timeframe string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	scope := e.Symbol
	if e.Timeframe != "" {
		scope = e.Symbol + "/" + e.Timeframe
	}
	if scope == "" {
		return fmt.Sprintf("[%s] %v", e.Category, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, scope, e.Err)
}

// Unwrap returns the underlying error.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches on category so callers can test errors.Is against a bare
// category sentinel without caring about the wrapped cause.
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Category == t.Category
	}
	return errors.Is(e.Err, target)
}

// NewCatalogError wraps an instrument discovery failure.
func NewCatalogError(err error) *SyncError {
	return &SyncError{Category: CategoryCatalog, Retryable: IsRetryable(err), Err: err}
}

// NewProbeError wraps an earliest-timestamp probe failure for one item.
func NewProbeError(symbol, timeframe string, err error) *SyncError {
	return &SyncError{Category: CategoryProbe, Symbol: symbol, Timeframe: timeframe, Retryable: IsRetryable(err), Err: err}
}

// NewPageError wraps a page fetch failure after retry exhaustion.
func NewPageError(symbol, timeframe string, err error) *SyncError {
	return &SyncError{Category: CategoryPage, Symbol: symbol, Timeframe: timeframe, Retryable: IsRetryable(err), Err: err}
}

// NewPersistError wraps a series or manifest write failure.
func NewPersistError(symbol, timeframe string, err error) *SyncError {
	return &SyncError{Category: CategoryPersist, Symbol: symbol, Timeframe: timeframe, Retryable: false, Err: err}
}

// HTTPError represents a non-2xx response from the exchange.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}

// IsRetryable reports whether an error is worth another attempt. Network
// faults, timeouts, rate limiting and server-side statuses retry; client
// errors and validation failures do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}

	var he *HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return he.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"temporary",
		"rate limit",
		"too many requests",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// CategoryOf extracts the category from an error chain, defaulting to
// internal for unclassified errors.
func CategoryOf(err error) Category {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Category
	}
	return CategoryInternal
}
