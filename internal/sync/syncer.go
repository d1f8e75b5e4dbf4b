package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/johnayoung/go-kline-mirror/internal/errors"
	"github.com/johnayoung/go-kline-mirror/internal/exchange"
	"github.com/johnayoung/go-kline-mirror/internal/logger"
	"github.com/johnayoung/go-kline-mirror/internal/models"
	"github.com/johnayoung/go-kline-mirror/internal/storage"
)

// Syncer drives one mirror run end to end. Items are processed strictly
// sequentially; an interrupt takes effect between items, never inside
// one, so the manifest and series files stay consistent with each other.
type Syncer struct {
	catalog   exchange.InstrumentCatalog
	fetcher   exchange.SeriesFetcher
	manifests *storage.ManifestStore
	series    *storage.SeriesStore

	timeframes []string
	logger     *slog.Logger
	now        func() time.Time
}

// NewSyncer wires a syncer from its collaborators. A nil logger falls
// back to the default and a nil clock to time.Now.
func NewSyncer(catalog exchange.InstrumentCatalog, fetcher exchange.SeriesFetcher, manifests *storage.ManifestStore, series *storage.SeriesStore, timeframes []string, log *slog.Logger, now func() time.Time) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Syncer{
		catalog:    catalog,
		fetcher:    fetcher,
		manifests:  manifests,
		series:     series,
		timeframes: timeframes,
		logger:     log,
		now:        now,
	}
}

// Run executes one full sync: load manifest, discover the universe, plan,
// then process every item. Only a manifest load failure aborts the run;
// catalog failures shrink the universe to nothing and per-item failures
// are isolated. Returns the run summary.
func (s *Syncer) Run(ctx context.Context) (RunSummary, error) {
	runStart := s.now()
	ctx = logger.WithRunID(ctx, logger.NewRunID())
	log := logger.FromContext(ctx, s.logger)
	metrics := NewRunMetrics(runStart)

	manifest, err := s.manifests.Load(models.ExchangeBinance)
	if err != nil {
		return metrics.Snapshot(s.now()), fmt.Errorf("cannot start run: %w", err)
	}

	instruments, err := s.catalog.Discover(ctx)
	if err != nil {
		log.Warn("instrument discovery failed, universe is empty", "error", err)
		instruments = nil
	}

	newWork, updateWork := Plan(instruments, s.timeframes, manifest, runStart)
	log.Info("planned run",
		"instruments", len(instruments),
		"timeframes", len(s.timeframes),
		"new_items", len(newWork),
		"update_items", len(updateWork))

	items := make([]plannedItem, 0, len(newWork)+len(updateWork))
	for _, w := range newWork {
		items = append(items, plannedItem{work: w, isNew: true})
	}
	for _, w := range updateWork {
		items = append(items, plannedItem{work: w})
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			log.Info("run interrupted", "completed", i, "total", len(items))
			return metrics.Snapshot(s.now()), err
		}

		itemCtx := logger.WithSymbol(logger.WithTimeframe(ctx, item.work.Timeframe), item.work.Symbol)
		itemLog := logger.FromContext(itemCtx, s.logger)
		itemLog.Info(fmt.Sprintf("[%d/%d] syncing", i+1, len(items)), "new", item.isNew)

		rows, err := s.processItem(itemCtx, manifest, item.work)
		if err != nil {
			metrics.ItemsFailed.Add(1)
			itemLog.Error("item failed",
				"category", apperrors.CategoryOf(err),
				"error", err)
			continue
		}
		if rows == 0 {
			metrics.ItemsSkipped.Add(1)
			continue
		}

		metrics.RowsFetched.Add(int64(rows))
		if item.isNew {
			metrics.NewItems.Add(1)
		} else {
			metrics.UpdateItems.Add(1)
		}
	}

	summary := metrics.Snapshot(s.now())
	log.Info("run complete",
		"new_items", summary.NewItems,
		"update_items", summary.UpdateItems,
		"skipped", summary.ItemsSkipped,
		"failed", summary.ItemsFailed,
		"rows", summary.RowsFetched,
		"duration", summary.Duration)
	return summary, nil
}

type plannedItem struct {
	work  WorkItem
	isNew bool
}

// processItem fetches and persists one work item, returning the number
// of rows persisted. Zero rows with a nil error means nothing new was
// available and the manifest was left untouched.
func (s *Syncer) processItem(ctx context.Context, manifest *models.Manifest, work WorkItem) (int, error) {
	series, err := s.fetcher.FetchSeries(ctx, exchange.FetchRequest{
		Symbol:    work.Symbol,
		Timeframe: work.Timeframe,
		StartMS:   work.StartMS,
		EndMS:     work.EndMS,
	})
	if err != nil {
		return 0, err
	}
	if len(series) == 0 {
		return 0, nil
	}
	if err := s.persist(ctx, manifest, work, series); err != nil {
		return 0, err
	}
	return len(series), nil
}

// persist writes the series file, derives coverage from the rows that
// were actually written, updates the manifest entry and saves the whole
// document. A failed series write leaves the manifest untouched so
// coverage never runs ahead of data on disk. A failed manifest save
// after a successful series write is logged but not fatal: the next run
// re-fetches the tail and converges.
func (s *Syncer) persist(ctx context.Context, manifest *models.Manifest, work WorkItem, series models.Series) error {
	if _, err := s.series.Write(work.Symbol, work.Timeframe, series); err != nil {
		return apperrors.NewPersistError(work.Symbol, work.Timeframe, err)
	}

	fromDate, endDate := series.CoverageDates()
	manifest.Upsert(models.ExchangeBinance, work.Symbol, work.Timeframe, work.Descriptor, fromDate, endDate)

	if err := s.manifests.Save(manifest); err != nil {
		logger.FromContext(ctx, s.logger).Warn("manifest save failed, series file is current",
			"error", err)
	}
	return nil
}
