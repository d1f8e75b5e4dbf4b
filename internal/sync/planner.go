// Package sync implements the mirror pipeline: planning work items from
// the manifest, fetching series through an exchange adapter, and
// persisting results with manifest updates after every completed item.
package sync

import (
	"encoding/json"
	"time"

	"github.com/johnayoung/go-kline-mirror/internal/exchange"
	"github.com/johnayoung/go-kline-mirror/internal/models"
)

// WorkItem is one instrument/timeframe unit of work.
type WorkItem struct {
	Symbol    string
	Timeframe string

	// StartMS is the inclusive fetch lower bound in epoch milliseconds.
	// Zero means unknown, the fetcher probes for the earliest kline.
	StartMS int64

	// EndMS is the exclusive fetch upper bound. Zero means now.
	EndMS int64

	// Descriptor is the raw exchange descriptor for the instrument.
	Descriptor json.RawMessage
}

// Plan partitions the instrument x timeframe grid into new work and
// update work by diffing it against manifest coverage. Ordering follows
// catalog order crossed with timeframe order. An instrument/timeframe
// with no record, or a record with no end date, is new work starting
// from zero. A record whose end date equals today's UTC date is already
// current and produces nothing. Anything older becomes update work
// starting at midnight UTC of the day after the recorded end date.
func Plan(instruments []exchange.Instrument, timeframes []string, manifest *models.Manifest, now time.Time) (newWork, updateWork []WorkItem) {
	today := now.UTC().Format(models.DateLayout)

	for _, inst := range instruments {
		for _, tf := range timeframes {
			item := WorkItem{
				Symbol:     inst.Symbol,
				Timeframe:  tf,
				Descriptor: inst.Raw,
			}

			rec, ok := manifest.Lookup(models.ExchangeBinance, inst.Symbol, tf)
			if !ok || rec.EndDate == "" {
				newWork = append(newWork, item)
				continue
			}
			if rec.EndDate >= today {
				continue
			}

			start, err := nextFetchStart(rec.EndDate)
			if err != nil {
				// Unparseable coverage date, refetch from the beginning.
				newWork = append(newWork, item)
				continue
			}
			item.StartMS = start
			updateWork = append(updateWork, item)
		}
	}
	return newWork, updateWork
}

// nextFetchStart converts a coverage end date into the resume point:
// midnight UTC of the following day, in epoch milliseconds.
func nextFetchStart(endDate string) (int64, error) {
	t, err := time.ParseInLocation(models.DateLayout, endDate, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.AddDate(0, 0, 1).UnixMilli(), nil
}
