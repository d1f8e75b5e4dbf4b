// Package models provides data structures and validation for mirrored kline data.
// This package contains the core data models for the mirror: kline rows as
// returned by the futures klines endpoint, the assembled series, and the
// manifest document that tracks per-symbol download coverage.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date form used for manifest coverage bounds.
const DateLayout = "2006-01-02"

// Kline represents one candlestick row for a symbol/timeframe bucket.
// Numeric fields are normalized to float64 after decimal validation of the
// exchange's string payload; the time fields are the millisecond epoch
// values translated to UTC timestamps.
type Kline struct {
	OpenTime            time.Time `json:"open_time"`
	Open                float64   `json:"open"`
	High                float64   `json:"high"`
	Low                 float64   `json:"low"`
	Close               float64   `json:"close"`
	Volume              float64   `json:"volume"`
	CloseTime           time.Time `json:"close_time"`
	QuoteAssetVolume    float64   `json:"quote_asset_volume"`
	TradeCount          int64     `json:"number_of_trades"`
	TakerBuyBaseVolume  float64   `json:"taker_buy_base_asset_volume"`
	TakerBuyQuoteVolume float64   `json:"taker_buy_quote_asset_volume"`
}

// ValidationError represents a kline validation error with field context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// ParseKlineRow converts one element of the klines response array into a
// Kline. The wire layout is a fixed-width array:
//
//	[openTime, open, high, low, close, volume, closeTime,
//	 quoteAssetVolume, tradeCount, takerBuyBase, takerBuyQuote, ignore]
//
// where times and the trade count arrive as JSON numbers and every price or
// volume arrives as a decimal string. The trailing field is unused and
// dropped. Returns a ValidationError if the row is malformed.
func ParseKlineRow(row []any) (*Kline, error) {
	if len(row) < 11 {
		return nil, &ValidationError{Field: "row", Message: fmt.Sprintf("expected at least 11 fields, got %d", len(row))}
	}

	openMS, err := epochMillis(row[0])
	if err != nil {
		return nil, &ValidationError{Field: "open_time", Message: err.Error()}
	}
	closeMS, err := epochMillis(row[6])
	if err != nil {
		return nil, &ValidationError{Field: "close_time", Message: err.Error()}
	}

	k := &Kline{
		OpenTime:  time.UnixMilli(openMS).UTC(),
		CloseTime: time.UnixMilli(closeMS).UTC(),
	}

	numeric := []struct {
		field string
		raw   any
		dst   *float64
	}{
		{"open", row[1], &k.Open},
		{"high", row[2], &k.High},
		{"low", row[3], &k.Low},
		{"close", row[4], &k.Close},
		{"volume", row[5], &k.Volume},
		{"quote_asset_volume", row[7], &k.QuoteAssetVolume},
		{"taker_buy_base_asset_volume", row[9], &k.TakerBuyBaseVolume},
		{"taker_buy_quote_asset_volume", row[10], &k.TakerBuyQuoteVolume},
	}
	for _, f := range numeric {
		v, err := decimalField(f.raw)
		if err != nil {
			return nil, &ValidationError{Field: f.field, Message: err.Error()}
		}
		*f.dst = v
	}

	trades, err := epochMillis(row[8])
	if err != nil {
		return nil, &ValidationError{Field: "number_of_trades", Message: err.Error()}
	}
	k.TradeCount = trades

	if err := k.Validate(); err != nil {
		return nil, err
	}
	return k, nil
}

// Validate performs consistency checks on the kline: timestamps must be set
// and ordered, volumes non-negative, and the OHLC relationships must hold
// (high >= max(open, close), low <= min(open, close)).
func (k *Kline) Validate() error {
	if k.OpenTime.IsZero() {
		return &ValidationError{Field: "open_time", Message: "open time cannot be zero"}
	}
	if k.CloseTime.IsZero() {
		return &ValidationError{Field: "close_time", Message: "close time cannot be zero"}
	}
	if !k.CloseTime.After(k.OpenTime) {
		return &ValidationError{Field: "close_time", Message: "close time must be after open time"}
	}
	if k.Volume < 0 {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	if k.QuoteAssetVolume < 0 {
		return &ValidationError{Field: "quote_asset_volume", Message: "quote asset volume must be greater than or equal to 0"}
	}
	if k.TradeCount < 0 {
		return &ValidationError{Field: "number_of_trades", Message: "trade count must be greater than or equal to 0"}
	}

	maxOC := k.Open
	if k.Close > maxOC {
		maxOC = k.Close
	}
	if k.High < maxOC {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("high (%v) must be >= max(open, close) (%v)", k.High, maxOC)}
	}
	minOC := k.Open
	if k.Close < minOC {
		minOC = k.Close
	}
	if k.Low > minOC {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("low (%v) must be <= min(open, close) (%v)", k.Low, minOC)}
	}
	return nil
}

// String implements fmt.Stringer for diagnostic output.
func (k *Kline) String() string {
	return fmt.Sprintf("Kline{OpenTime: %s, O: %v, H: %v, L: %v, C: %v, V: %v}",
		k.OpenTime.Format(time.RFC3339), k.Open, k.High, k.Low, k.Close, k.Volume)
}

// Series is a time-ordered sequence of klines for one symbol/timeframe,
// strictly ascending by open time with no duplicates.
type Series []Kline

// FirstOpenTime returns the open time of the earliest row, or the zero time
// for an empty series.
func (s Series) FirstOpenTime() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].OpenTime
}

// LastCloseTime returns the close time of the latest row, or the zero time
// for an empty series.
func (s Series) LastCloseTime() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].CloseTime
}

// CoverageDates derives the manifest coverage bounds from the rows actually
// present: the calendar date of the minimum open time and of the maximum
// close time. Both are empty strings for an empty series so that a failed or
// empty fetch can never fabricate coverage.
func (s Series) CoverageDates() (fromDate, endDate string) {
	if len(s) == 0 {
		return "", ""
	}
	minOpen := s[0].OpenTime
	maxClose := s[0].CloseTime
	for _, k := range s[1:] {
		if k.OpenTime.Before(minOpen) {
			minOpen = k.OpenTime
		}
		if k.CloseTime.After(maxClose) {
			maxClose = k.CloseTime
		}
	}
	return minOpen.UTC().Format(DateLayout), maxClose.UTC().Format(DateLayout)
}

// epochMillis coerces a JSON number (or numeric string) to int64.
func epochMillis(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return 0, fmt.Errorf("invalid integer value %q", n)
		}
		return d.IntPart(), nil
	default:
		return 0, fmt.Errorf("unexpected type %T for integer field", v)
	}
}

// decimalField parses a price/volume field, validating it as a decimal
// before normalizing to float64.
func decimalField(v any) (float64, error) {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return 0, fmt.Errorf("invalid decimal value %q", n)
		}
		return d.InexactFloat64(), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T for decimal field", v)
	}
}
