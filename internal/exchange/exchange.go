// Package exchange defines the interfaces the sync pipeline uses to talk to
// an exchange, plus the Binance USDT-margined futures implementation.
//
// The interfaces are small and composable: discovery of the tradable
// universe, paginated series fetching, and health checking are separate
// capabilities so tests can fake each independently.
package exchange

import (
	"context"
	"encoding/json"
	"time"

	"github.com/johnayoung/go-kline-mirror/internal/models"
)

// InstrumentCatalog discovers the tradable universe.
type InstrumentCatalog interface {
	// Discover returns the instruments to mirror in exchange listing
	// order, filtered to actively trading USDT-quoted contracts. The raw
	// exchange descriptor is preserved on each instrument so it can be
	// carried into the manifest verbatim.
	Discover(ctx context.Context) ([]Instrument, error)
}

// SeriesFetcher retrieves kline series from an exchange.
type SeriesFetcher interface {
	// EarliestTimestamp returns the open time of the very first available
	// kline for a symbol/timeframe, in epoch milliseconds. A failure here
	// means no lower bound can be established and the caller must treat
	// the whole work item as failed.
	EarliestTimestamp(ctx context.Context, symbol, timeframe string) (int64, error)

	// FetchSeries retrieves all klines in [req.StartMS, req.EndMS),
	// paging forward until the range is exhausted. Rows are returned in
	// chronological order. Page failures are retried internally; if
	// retries are exhausted the accumulated partial series is returned
	// with a nil error so progress up to the failure is kept.
	FetchSeries(ctx context.Context, req FetchRequest) (models.Series, error)
}

// HealthChecker verifies the exchange connection is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Adapter combines all exchange capabilities.
type Adapter interface {
	InstrumentCatalog
	SeriesFetcher
	HealthChecker
}

// FetchRequest specifies one series fetch.
type FetchRequest struct {
	// Symbol is the exchange symbol, e.g. "BTCUSDT".
	Symbol string `json:"symbol"`

	// Timeframe is the interval label, e.g. "15m".
	Timeframe string `json:"timeframe"`

	// StartMS is the inclusive lower bound in epoch milliseconds. Zero
	// means unknown; the fetcher probes the exchange for the earliest
	// available timestamp.
	StartMS int64 `json:"start_ms"`

	// EndMS is the exclusive upper bound in epoch milliseconds. Zero
	// means now.
	EndMS int64 `json:"end_ms"`
}

// Validate checks the request parameters.
func (r *FetchRequest) Validate() error {
	if r.Symbol == "" {
		return &RequestError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if r.Timeframe == "" {
		return &RequestError{Field: "timeframe", Message: "timeframe cannot be empty"}
	}
	if r.StartMS < 0 {
		return &RequestError{Field: "start_ms", Message: "start cannot be negative"}
	}
	if r.EndMS < 0 {
		return &RequestError{Field: "end_ms", Message: "end cannot be negative"}
	}
	if r.EndMS > 0 && r.StartMS > 0 && r.EndMS <= r.StartMS {
		return &RequestError{Field: "end_ms", Message: "end must be after start"}
	}
	return nil
}

// Instrument is one tradable contract from the exchange catalog.
type Instrument struct {
	// Symbol is the exchange symbol (e.g. "BTCUSDT").
	Symbol string `json:"symbol" validate:"required"`

	// BaseAsset and QuoteAsset split the symbol (e.g. "BTC", "USDT").
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset" validate:"required"`

	// Status is the exchange trading status (e.g. "TRADING").
	Status string `json:"status" validate:"required"`

	// Raw is the full descriptor as returned by the exchange, kept for
	// the manifest's symbolDesc field.
	Raw json.RawMessage `json:"-"`
}

// RequestError represents an invalid fetch request parameter.
type RequestError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return "invalid request field " + e.Field + ": " + e.Message
}

// nowFunc lets tests pin the wall clock.
type nowFunc func() time.Time
