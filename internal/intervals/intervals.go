// Package intervals maps timeframe labels to their durations. The table
// mirrors the futures kline intervals exposed by the exchange; the month
// entry is the conventional 30-day approximation used for page sizing.
package intervals

import "time"

const dayMS = 24 * 60 * 60 * 1000

var durationsMS = map[string]int64{
	"1m":  60 * 1000,
	"3m":  3 * 60 * 1000,
	"5m":  5 * 60 * 1000,
	"15m": 15 * 60 * 1000,
	"30m": 30 * 60 * 1000,
	"1h":  60 * 60 * 1000,
	"2h":  2 * 60 * 60 * 1000,
	"4h":  4 * 60 * 60 * 1000,
	"6h":  6 * 60 * 60 * 1000,
	"8h":  8 * 60 * 60 * 1000,
	"12h": 12 * 60 * 60 * 1000,
	"1d":  dayMS,
	"3d":  3 * dayMS,
	"1w":  7 * dayMS,
	"1M":  30 * dayMS,
}

// DurationMS returns the duration of a timeframe label in milliseconds.
// Unknown labels default to one day, matching the upstream convention.
func DurationMS(label string) int64 {
	if ms, ok := durationsMS[label]; ok {
		return ms
	}
	return dayMS
}

// Duration returns the timeframe duration and whether the label is known.
func Duration(label string) (time.Duration, bool) {
	ms, ok := durationsMS[label]
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// IsSupported reports whether a timeframe label is in the interval table.
func IsSupported(label string) bool {
	_, ok := durationsMS[label]
	return ok
}
