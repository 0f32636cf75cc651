package domain

import (
	"sort"
	"strings"
)

// Bar is an OHLCV aggregate over the half-open interval
// [OpenTimeMs, OpenTimeMs+interval). CloseTimeMs is always
// OpenTimeMs + interval - 1.
type Bar struct {
	OpenTimeMs  int64   `json:"open_time"`
	CloseTimeMs int64   `json:"close_time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// Interval labels supported by the core. Only the 1-minute resolution is
// produced directly; coarser timeframes are a downstream resampler's job.
const (
	Interval1Min = "1m"

	// Interval1MinMs is the bucket width of a 1-minute bar.
	Interval1MinMs int64 = 60_000
)

// SymbolKey identifies all per-symbol state. Symbol and interval are stored
// lowercase so that lookups are case-insensitive.
type SymbolKey struct {
	Symbol   string
	Interval string
}

// NewSymbolKey builds a canonical SymbolKey.
func NewSymbolKey(symbol, interval string) SymbolKey {
	return SymbolKey{
		Symbol:   strings.ToLower(symbol),
		Interval: strings.ToLower(interval),
	}
}

// SortBarsAsc orders bars by open time ascending, in place.
func SortBarsAsc(bars []*Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].OpenTimeMs < bars[j].OpenTimeMs
	})
}
