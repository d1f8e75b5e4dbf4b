package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRow() []any {
	return []any{
		float64(1734652800000), // open time
		"97000.1", "97500.0", "96800.0", "97200.5", "123.45",
		float64(1734653699999), // close time
		"11980000.2",
		float64(2500),
		"60.5", "5880000.1",
		"0",
	}
}

func TestParseKlineRow(t *testing.T) {
	t.Run("parses a well-formed row", func(t *testing.T) {
		k, err := ParseKlineRow(validRow())
		require.NoError(t, err)

		assert.Equal(t, time.UnixMilli(1734652800000).UTC(), k.OpenTime)
		assert.Equal(t, time.UnixMilli(1734653699999).UTC(), k.CloseTime)
		assert.Equal(t, 97000.1, k.Open)
		assert.Equal(t, 97500.0, k.High)
		assert.Equal(t, 96800.0, k.Low)
		assert.Equal(t, 97200.5, k.Close)
		assert.Equal(t, 123.45, k.Volume)
		assert.Equal(t, 11980000.2, k.QuoteAssetVolume)
		assert.Equal(t, int64(2500), k.TradeCount)
		assert.Equal(t, 60.5, k.TakerBuyBaseVolume)
		assert.Equal(t, 5880000.1, k.TakerBuyQuoteVolume)
	})

	t.Run("rejects short rows", func(t *testing.T) {
		_, err := ParseKlineRow(validRow()[:5])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected at least 11 fields")
	})

	t.Run("rejects non-decimal prices", func(t *testing.T) {
		row := validRow()
		row[1] = "not-a-number"
		_, err := ParseKlineRow(row)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open")
	})

	t.Run("rejects rows violating OHLC relationships", func(t *testing.T) {
		row := validRow()
		row[2] = "1.0" // high below open and close
		_, err := ParseKlineRow(row)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "high")
	})
}

func TestKlineValidate(t *testing.T) {
	base := func() *Kline {
		return &Kline{
			OpenTime:  time.UnixMilli(1734652800000).UTC(),
			CloseTime: time.UnixMilli(1734653699999).UTC(),
			Open:      100, High: 110, Low: 90, Close: 105,
			Volume: 10, QuoteAssetVolume: 1000, TradeCount: 5,
		}
	}

	t.Run("valid kline passes", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("close before open fails", func(t *testing.T) {
		k := base()
		k.CloseTime = k.OpenTime.Add(-time.Minute)
		assert.Error(t, k.Validate())
	})

	t.Run("negative volume fails", func(t *testing.T) {
		k := base()
		k.Volume = -1
		assert.Error(t, k.Validate())
	})

	t.Run("low above min(open, close) fails", func(t *testing.T) {
		k := base()
		k.Low = 102
		assert.Error(t, k.Validate())
	})
}

func TestSeriesCoverageDates(t *testing.T) {
	t.Run("empty series yields no coverage", func(t *testing.T) {
		from, end := Series{}.CoverageDates()
		assert.Empty(t, from)
		assert.Empty(t, end)
	})

	t.Run("coverage spans min open to max close", func(t *testing.T) {
		s := Series{
			{
				OpenTime:  time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
				CloseTime: time.Date(2024, 1, 10, 0, 14, 59, 0, time.UTC),
				Open:      1, High: 1, Low: 1, Close: 1,
			},
			{
				OpenTime:  time.Date(2024, 1, 12, 23, 45, 0, 0, time.UTC),
				CloseTime: time.Date(2024, 1, 12, 23, 59, 59, 0, time.UTC),
				Open:      1, High: 1, Low: 1, Close: 1,
			},
		}
		from, end := s.CoverageDates()
		assert.Equal(t, "2024-01-10", from)
		assert.Equal(t, "2024-01-12", end)
	})
}

func TestSeriesBounds(t *testing.T) {
	t.Run("empty series returns zero times", func(t *testing.T) {
		assert.True(t, Series{}.FirstOpenTime().IsZero())
		assert.True(t, Series{}.LastCloseTime().IsZero())
	})

	t.Run("bounds follow row order", func(t *testing.T) {
		open := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		closeT := time.Date(2024, 3, 1, 0, 15, 0, 0, time.UTC)
		s := Series{{OpenTime: open, CloseTime: closeT}}
		assert.Equal(t, open, s.FirstOpenTime())
		assert.Equal(t, closeT, s.LastCloseTime())
	})
}
