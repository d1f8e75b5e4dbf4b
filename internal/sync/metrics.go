package sync

import (
	"sync/atomic"
	"time"
)

// RunMetrics tracks counters for one sync run. Counters are atomic so a
// future concurrent pipeline would not need changes here.
type RunMetrics struct {
	NewItems     atomic.Int64
	UpdateItems  atomic.Int64
	ItemsSkipped atomic.Int64
	ItemsFailed  atomic.Int64
	RowsFetched  atomic.Int64

	started time.Time
}

// NewRunMetrics creates metrics with the run start time pinned.
func NewRunMetrics(start time.Time) *RunMetrics {
	return &RunMetrics{started: start}
}

// RunSummary is the immutable end-of-run snapshot.
type RunSummary struct {
	NewItems     int64
	UpdateItems  int64
	ItemsSkipped int64
	ItemsFailed  int64
	RowsFetched  int64
	Duration     time.Duration
}

// Snapshot freezes the counters into a summary.
func (m *RunMetrics) Snapshot(now time.Time) RunSummary {
	return RunSummary{
		NewItems:     m.NewItems.Load(),
		UpdateItems:  m.UpdateItems.Load(),
		ItemsSkipped: m.ItemsSkipped.Load(),
		ItemsFailed:  m.ItemsFailed.Load(),
		RowsFetched:  m.RowsFetched.Load(),
		Duration:     now.Sub(m.started),
	}
}
