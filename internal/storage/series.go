package storage

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/johnayoung/go-kline-mirror/internal/models"
)

// csvTimeLayout is the serialized form of kline timestamps. Sub-second
// precision is written only when present; parsing accepts both forms.
const csvTimeLayout = "2006-01-02 15:04:05.999"

// csvHeader is the fixed column layout of a series file. The trailing
// ignore column mirrors the exchange wire format.
var csvHeader = []string{
	"open_time", "open", "high", "low", "close", "volume",
	"close_time", "quote_asset_volume", "number_of_trades",
	"taker_buy_base_asset_volume", "taker_buy_quote_asset_volume", "ignore",
}

// SeriesStore reads and writes per-instrument CSV series files under a
// single data directory.
type SeriesStore struct {
	dir    string
	logger *slog.Logger
}

// NewSeriesStore creates a series store rooted at dir.
func NewSeriesStore(dir string, logger *slog.Logger) *SeriesStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeriesStore{dir: dir, logger: logger}
}

// Path returns the absolute path of a series file by its manifest
// datalink name.
func (s *SeriesStore) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// Write replaces the series file for an instrument/timeframe with the
// given rows. The file is rewritten wholesale; rows are expected in
// chronological order. The data directory is created on demand.
func (s *SeriesStore) Write(symbol, timeframe string, series models.Series) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	filename := models.SeriesFilename(symbol, timeframe)
	target := s.Path(filename)

	tmp, err := os.CreateTemp(s.dir, "."+filename+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp series file: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	for i := range series {
		if err := w.Write(seriesRecord(&series[i])); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to flush series file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp series file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to replace series file: %w", err)
	}

	s.logger.Debug("wrote series file", "path", target, "rows", len(series))
	return filename, nil
}

// ReadTail returns up to limit rows from the end of a series file in
// chronological order. A limit of zero or less returns all rows.
func (s *SeriesStore) ReadTail(filename string, limit int) (models.Series, error) {
	f, err := os.Open(s.Path(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to open series file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read series file: %w", err)
	}
	if len(records) <= 1 {
		return models.Series{}, nil
	}

	rows := records[1:]
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	series := make(models.Series, 0, len(rows))
	for _, rec := range rows {
		k, err := parseSeriesRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("malformed series row: %w", err)
		}
		series = append(series, *k)
	}
	return series, nil
}

// seriesRecord serializes one kline into CSV columns.
func seriesRecord(k *models.Kline) []string {
	return []string{
		k.OpenTime.UTC().Format(csvTimeLayout),
		formatFloat(k.Open),
		formatFloat(k.High),
		formatFloat(k.Low),
		formatFloat(k.Close),
		formatFloat(k.Volume),
		k.CloseTime.UTC().Format(csvTimeLayout),
		formatFloat(k.QuoteAssetVolume),
		strconv.FormatInt(k.TradeCount, 10),
		formatFloat(k.TakerBuyBaseVolume),
		formatFloat(k.TakerBuyQuoteVolume),
		"0",
	}
}

// parseSeriesRecord decodes one CSV row back into a kline.
func parseSeriesRecord(rec []string) (*models.Kline, error) {
	if len(rec) < 11 {
		return nil, fmt.Errorf("expected at least 11 columns, got %d", len(rec))
	}

	openTime, err := parseCSVTime(rec[0])
	if err != nil {
		return nil, fmt.Errorf("invalid open_time %q: %w", rec[0], err)
	}
	closeTime, err := parseCSVTime(rec[6])
	if err != nil {
		return nil, fmt.Errorf("invalid close_time %q: %w", rec[6], err)
	}
	trades, err := strconv.ParseInt(rec[8], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number_of_trades %q: %w", rec[8], err)
	}

	k := &models.Kline{
		OpenTime:   openTime,
		CloseTime:  closeTime,
		TradeCount: trades,
	}
	fields := []struct {
		raw string
		dst *float64
	}{
		{rec[1], &k.Open},
		{rec[2], &k.High},
		{rec[3], &k.Low},
		{rec[4], &k.Close},
		{rec[5], &k.Volume},
		{rec[7], &k.QuoteAssetVolume},
		{rec[9], &k.TakerBuyBaseVolume},
		{rec[10], &k.TakerBuyQuoteVolume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric value %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return k, nil
}

func parseCSVTime(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
