package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-kline-mirror/internal/exchange"
	"github.com/johnayoung/go-kline-mirror/internal/models"
	"github.com/johnayoung/go-kline-mirror/internal/storage"
)

type fakeCatalog struct {
	instruments []exchange.Instrument
	err         error
}

func (f *fakeCatalog) Discover(ctx context.Context) ([]exchange.Instrument, error) {
	return f.instruments, f.err
}

type fakeFetcher struct {
	series   map[string]models.Series
	errs     map[string]error
	requests []exchange.FetchRequest
}

func fetchKey(symbol, timeframe string) string {
	return symbol + "/" + timeframe
}

func (f *fakeFetcher) EarliestTimestamp(ctx context.Context, symbol, timeframe string) (int64, error) {
	return 0, fmt.Errorf("not used")
}

func (f *fakeFetcher) FetchSeries(ctx context.Context, req exchange.FetchRequest) (models.Series, error) {
	f.requests = append(f.requests, req)
	key := fetchKey(req.Symbol, req.Timeframe)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.series[key], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seriesFor(open time.Time, rows int) models.Series {
	s := make(models.Series, 0, rows)
	for i := 0; i < rows; i++ {
		o := open.Add(time.Duration(i) * 15 * time.Minute)
		s = append(s, models.Kline{
			OpenTime:  o,
			CloseTime: o.Add(15*time.Minute - time.Millisecond),
			Open:      100, High: 110, Low: 90, Close: 105,
			Volume: 1, QuoteAssetVolume: 100, TradeCount: 10,
			TakerBuyBaseVolume: 0.5, TakerBuyQuoteVolume: 50,
		})
	}
	return s
}

type syncHarness struct {
	syncer    *Syncer
	manifests *storage.ManifestStore
	series    *storage.SeriesStore
	dataDir   string
	fetcher   *fakeFetcher
}

func newSyncHarness(t *testing.T, catalog *fakeCatalog, fetcher *fakeFetcher, now time.Time) *syncHarness {
	t.Helper()
	dir := t.TempDir()
	manifests := storage.NewManifestStore(filepath.Join(dir, "manifest.json"), quietLogger())
	series := storage.NewSeriesStore(dir, quietLogger())
	syncer := NewSyncer(catalog, fetcher, manifests, series,
		[]string{"15m"}, quietLogger(), func() time.Time { return now })
	return &syncHarness{syncer: syncer, manifests: manifests, series: series, dataDir: dir, fetcher: fetcher}
}

func TestRunMirrorsNewInstrument(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	open := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	catalog := &fakeCatalog{instruments: []exchange.Instrument{{
		Symbol: "BTCUSDT", QuoteAsset: "USDT", Status: "TRADING",
		Raw: json.RawMessage(`{"symbol":"BTCUSDT","pricePrecision":2}`),
	}}}
	fetcher := &fakeFetcher{series: map[string]models.Series{
		fetchKey("BTCUSDT", "15m"): seriesFor(open, 4),
	}}
	h := newSyncHarness(t, catalog, fetcher, now)

	summary, err := h.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.NewItems)
	assert.Equal(t, int64(0), summary.UpdateItems)
	assert.Equal(t, int64(0), summary.ItemsFailed)
	assert.Equal(t, int64(4), summary.RowsFetched)

	// series file landed under the deterministic name
	_, err = os.Stat(filepath.Join(h.dataDir, "BTCUSDT_15m.csv"))
	require.NoError(t, err)

	// manifest coverage derives from the persisted rows
	m, err := h.manifests.Load(models.ExchangeBinance)
	require.NoError(t, err)
	rec, ok := m.Lookup(models.ExchangeBinance, "BTCUSDT", "15m")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT_15m.csv", rec.Datalink)
	assert.Equal(t, "2024-06-10", rec.FromDate)
	assert.Equal(t, "2024-06-10", rec.EndDate)

	entry := m.Entry(models.ExchangeBinance, "BTCUSDT")
	require.NotNil(t, entry)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","pricePrecision":2}`, string(entry.SymbolDesc))
}

func TestRunIsIdempotentWhenCurrent(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	open := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	catalog := &fakeCatalog{instruments: []exchange.Instrument{{
		Symbol: "BTCUSDT", QuoteAsset: "USDT", Status: "TRADING",
	}}}
	fetcher := &fakeFetcher{series: map[string]models.Series{
		fetchKey("BTCUSDT", "15m"): seriesFor(open, 2),
	}}
	h := newSyncHarness(t, catalog, fetcher, now)

	_, err := h.syncer.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.fetcher.requests, 1)

	// coverage now ends today, so the second run plans nothing
	summary, err := h.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.fetcher.requests, 1)
	assert.Equal(t, int64(0), summary.NewItems)
	assert.Equal(t, int64(0), summary.UpdateItems)
}

func TestRunResumesFromManifestCoverage(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	manifestDir := t.TempDir()
	manifests := storage.NewManifestStore(filepath.Join(manifestDir, "manifest.json"), quietLogger())
	m := models.NewManifest(models.ExchangeBinance)
	m.Upsert(models.ExchangeBinance, "BTCUSDT", "15m", nil, "2024-01-01", "2024-06-10")
	require.NoError(t, manifests.Save(m))

	catalog := &fakeCatalog{instruments: []exchange.Instrument{{
		Symbol: "BTCUSDT", QuoteAsset: "USDT", Status: "TRADING",
	}}}
	fetcher := &fakeFetcher{series: map[string]models.Series{
		fetchKey("BTCUSDT", "15m"): seriesFor(time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), 3),
	}}

	series := storage.NewSeriesStore(manifestDir, quietLogger())
	syncer := NewSyncer(catalog, fetcher, manifests, series,
		[]string{"15m"}, quietLogger(), func() time.Time { return now })

	summary, err := syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.UpdateItems)

	require.Len(t, fetcher.requests, 1)
	wantStart := time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, wantStart, fetcher.requests[0].StartMS)

	// end date advanced, fromdate reflects the rewritten file content
	loaded, err := manifests.Load(models.ExchangeBinance)
	require.NoError(t, err)
	rec, ok := loaded.Lookup(models.ExchangeBinance, "BTCUSDT", "15m")
	require.True(t, ok)
	assert.Equal(t, "2024-06-11", rec.FromDate)
	assert.Equal(t, "2024-06-11", rec.EndDate)
}

func TestRunEmptyFetchFabricatesNoCoverage(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	catalog := &fakeCatalog{instruments: []exchange.Instrument{{
		Symbol: "NEWUSDT", QuoteAsset: "USDT", Status: "TRADING",
	}}}
	fetcher := &fakeFetcher{series: map[string]models.Series{}}
	h := newSyncHarness(t, catalog, fetcher, now)

	summary, err := h.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.ItemsSkipped)
	assert.Equal(t, int64(0), summary.NewItems)

	m, err := h.manifests.Load(models.ExchangeBinance)
	require.NoError(t, err)
	_, ok := m.Lookup(models.ExchangeBinance, "NEWUSDT", "15m")
	assert.False(t, ok)
}

func TestRunIsolatesItemFailures(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	open := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	catalog := &fakeCatalog{instruments: []exchange.Instrument{
		{Symbol: "BADUSDT", QuoteAsset: "USDT", Status: "TRADING"},
		{Symbol: "ETHUSDT", QuoteAsset: "USDT", Status: "TRADING"},
	}}
	fetcher := &fakeFetcher{
		series: map[string]models.Series{
			fetchKey("ETHUSDT", "15m"): seriesFor(open, 2),
		},
		errs: map[string]error{
			fetchKey("BADUSDT", "15m"): fmt.Errorf("probe failed"),
		},
	}
	h := newSyncHarness(t, catalog, fetcher, now)

	summary, err := h.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.ItemsFailed)
	assert.Equal(t, int64(1), summary.NewItems)

	_, err = os.Stat(filepath.Join(h.dataDir, "ETHUSDT_15m.csv"))
	assert.NoError(t, err)
}

func TestRunSurvivesCatalogFailure(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	catalog := &fakeCatalog{err: fmt.Errorf("exchange down")}
	fetcher := &fakeFetcher{}
	h := newSyncHarness(t, catalog, fetcher, now)

	summary, err := h.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.NewItems)
	assert.Zero(t, summary.ItemsFailed)
	assert.Empty(t, fetcher.requests)
}

func TestRunStopsBetweenItemsOnCancel(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	catalog := &fakeCatalog{instruments: []exchange.Instrument{{
		Symbol: "BTCUSDT", QuoteAsset: "USDT", Status: "TRADING",
	}}}
	fetcher := &fakeFetcher{}
	h := newSyncHarness(t, catalog, fetcher, now)

	_, err := h.syncer.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fetcher.requests)
}
