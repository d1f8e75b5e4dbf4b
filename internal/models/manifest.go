package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Manifest document constants. The document tracks one exchange and one
// market type; both are fixed for this mirror.
const (
	ExchangeBinance = "binance"
	DatatypeCrypto  = "crypto"
	MarketFuture    = "future"
)

// Manifest is the durable record of what has been downloaded and how far it
// extends. It is loaded once at process start, mutated in place as items
// complete, and persisted whole-document after every completed unit of work.
//
// Top-level shape: exchange name -> datatype descriptors -> marketdata ->
// lowercase symbol key -> MarketEntry.
type Manifest struct {
	Exchange map[string]*ExchangeSection `json:"exchange"`
}

// ExchangeSection holds the data-kind descriptors and per-symbol entries for
// one exchange.
type ExchangeSection struct {
	Datatype   string                  `json:"datatype"`
	Markettype string                  `json:"markettype"`
	Marketdata map[string]*MarketEntry `json:"marketdata"`
}

// MarketEntry is the manifest record for one instrument.
type MarketEntry struct {
	Symbol     string            `json:"symbol"`   // base asset, e.g. "BTC"
	Pair       string            `json:"pair"`     // quote asset, e.g. "USDT"
	Fullname   string            `json:"fullname"` // exchange symbol, e.g. "BTCUSDT"
	Icon       string            `json:"icon"`
	SymbolDesc json.RawMessage   `json:"symbolDesc,omitempty"`
	Data       []TimeframeRecord `json:"data"`
}

// TimeframeRecord is the download cursor for one instrument/timeframe pair.
// At most one record exists per timeframe name within an entry; insertion
// order is preserved across rewrites. Empty coverage dates mean no data has
// been downloaded yet.
type TimeframeRecord struct {
	Name     string `json:"name"`
	Datalink string `json:"datalink"`
	FromDate string `json:"fromdate"`
	EndDate  string `json:"enddate"`
}

// NewManifest returns an empty but well-formed document for the given
// exchange.
func NewManifest(exchange string) *Manifest {
	return &Manifest{
		Exchange: map[string]*ExchangeSection{
			exchange: {
				Datatype:   DatatypeCrypto,
				Markettype: MarketFuture,
				Marketdata: make(map[string]*MarketEntry),
			},
		},
	}
}

// Normalize repairs a decoded document so that lookups and upserts are safe:
// missing maps are allocated, missing descriptors defaulted, and timeframe
// records without a name are dropped. Malformed fields are defaulted rather
// than propagated.
func (m *Manifest) Normalize(exchange string) {
	if m.Exchange == nil {
		m.Exchange = make(map[string]*ExchangeSection)
	}
	section, ok := m.Exchange[exchange]
	if !ok || section == nil {
		section = &ExchangeSection{}
		m.Exchange[exchange] = section
	}
	if section.Datatype == "" {
		section.Datatype = DatatypeCrypto
	}
	if section.Markettype == "" {
		section.Markettype = MarketFuture
	}
	if section.Marketdata == nil {
		section.Marketdata = make(map[string]*MarketEntry)
	}
	for key, entry := range section.Marketdata {
		if entry == nil {
			delete(section.Marketdata, key)
			continue
		}
		if entry.Fullname == "" {
			entry.Fullname = strings.ToUpper(key)
		}
		kept := entry.Data[:0]
		for _, rec := range entry.Data {
			if rec.Name == "" {
				continue
			}
			kept = append(kept, rec)
		}
		entry.Data = kept
	}
}

// Section returns the exchange section, allocating it if absent.
func (m *Manifest) Section(exchange string) *ExchangeSection {
	m.Normalize(exchange)
	return m.Exchange[exchange]
}

// Entry returns the manifest entry for a symbol, or nil if absent.
func (m *Manifest) Entry(exchange, symbol string) *MarketEntry {
	section, ok := m.Exchange[exchange]
	if !ok || section == nil || section.Marketdata == nil {
		return nil
	}
	return section.Marketdata[SymbolKey(symbol)]
}

// Lookup returns the timeframe record for an instrument, if one exists.
func (m *Manifest) Lookup(exchange, symbol, timeframe string) (TimeframeRecord, bool) {
	entry := m.Entry(exchange, symbol)
	if entry == nil {
		return TimeframeRecord{}, false
	}
	for _, rec := range entry.Data {
		if rec.Name == timeframe {
			return rec, true
		}
	}
	return TimeframeRecord{}, false
}

// Upsert creates or updates the entry and timeframe record for an
// instrument. The entry is created on first sight, deriving base/quote, icon
// and display name from the symbol; re-running for a present instrument
// never duplicates or resets it. Only the supplied coverage fields of an
// existing record are updated, and the end date never moves backwards. The
// datalink is always rewritten to the deterministic series filename.
//
// Upsert is a pure data transform: persistence is the caller's explicit
// step, so write frequency stays under the caller's control.
func (m *Manifest) Upsert(exchange, symbol, timeframe string, desc json.RawMessage, fromDate, endDate string) {
	section := m.Section(exchange)
	key := SymbolKey(symbol)

	entry, ok := section.Marketdata[key]
	if !ok {
		base, quote := SplitSymbolPair(symbol)
		entry = &MarketEntry{
			Symbol:   base,
			Pair:     quote,
			Fullname: symbol,
			Icon:     IconURL(base),
			Data:     []TimeframeRecord{},
		}
		section.Marketdata[key] = entry
	}
	if len(desc) > 0 && len(entry.SymbolDesc) == 0 {
		entry.SymbolDesc = desc
	}

	datalink := SeriesFilename(symbol, timeframe)
	for i := range entry.Data {
		if entry.Data[i].Name != timeframe {
			continue
		}
		entry.Data[i].Datalink = datalink
		if fromDate != "" {
			entry.Data[i].FromDate = fromDate
		}
		if endDate != "" && endDate >= entry.Data[i].EndDate {
			entry.Data[i].EndDate = endDate
		}
		return
	}

	entry.Data = append(entry.Data, TimeframeRecord{
		Name:     timeframe,
		Datalink: datalink,
		FromDate: fromDate,
		EndDate:  endDate,
	})
}

// SymbolKey converts an exchange symbol to its manifest key form.
func SymbolKey(symbol string) string {
	return strings.ToLower(symbol)
}

// SplitSymbolPair splits an exchange symbol into base and quote assets.
// USDT-quoted symbols are the common case; anything else falls back to a
// four-character quote suffix.
func SplitSymbolPair(symbol string) (base, quote string) {
	if strings.HasSuffix(symbol, "USDT") {
		return strings.TrimSuffix(symbol, "USDT"), "USDT"
	}
	if len(symbol) <= 4 {
		return symbol, ""
	}
	return symbol[:len(symbol)-4], symbol[len(symbol)-4:]
}

// IconURL returns the icon reference for a base asset.
func IconURL(base string) string {
	return fmt.Sprintf("https://github.com/spothq/cryptocurrency-icons/blob/master/128/icon/%s.png", strings.ToLower(base))
}

// SeriesFilename returns the deterministic series file name for an
// instrument/timeframe pair.
func SeriesFilename(symbol, timeframe string) string {
	return fmt.Sprintf("%s_%s.csv", symbol, timeframe)
}
