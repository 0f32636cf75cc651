package decode

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"fx-feed-lab/internal/domain"
)

// KindTick is the kind hint for tick-shaped CSV fragments. Any other kind is
// interpreted as a bar-resolution label ("1m", ...).
const KindTick = "tick"

// CSVResult holds the output of a CSV fragment decode. Exactly one of Bars
// and Ticks is populated: ready-made OHLC rows become Bars, rows with only a
// price column become Ticks for downstream aggregation.
type CSVResult struct {
	Bars  []*domain.Bar
	Ticks []*domain.Tick
}

// DecodeCSV decompresses and parses one gzip CSV fragment.
//
// Header resolution is case-insensitive. The time column is the first column
// whose lowercased name equals "time" or starts with "time"; a fragment
// without one fails with ErrSchema. Bar-kind fragments need either OHLC
// columns or a price column; tick-kind fragments need a price, bid, or ask
// column. Rows whose time cell is empty or unparseable are dropped.
func DecodeCSV(body []byte, kind string) (*CSVResult, error) {
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1 // tolerate ragged rows
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return &CSVResult{}, nil
	}

	cols := resolveColumns(records[0])
	if cols.time < 0 {
		return nil, fmt.Errorf("%w: no time column in %v", ErrSchema, records[0])
	}

	if strings.EqualFold(kind, KindTick) {
		return decodeTickRows(records[1:], cols)
	}
	return decodeBarRows(records[1:], cols, kind)
}

// columns holds resolved header indexes; -1 means absent.
type columns struct {
	time     int
	openTime int
	open     int
	high     int
	low      int
	closing  int
	price    int
	bid      int
	ask      int
	volume   int
}

func resolveColumns(header []string) columns {
	c := columns{time: -1, openTime: -1, open: -1, high: -1, low: -1, closing: -1, price: -1, bid: -1, ask: -1, volume: -1}

	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "open_time", "opentime":
			c.openTime = i
		case "open":
			c.open = i
		case "high":
			c.high = i
		case "low":
			c.low = i
		case "close":
			c.closing = i
		case "price":
			c.price = i
		case "bid":
			c.bid = i
		case "ask":
			c.ask = i
		case "volume", "vol":
			c.volume = i
		}
		// First time-ish column wins.
		if c.time < 0 && (name == "time" || strings.HasPrefix(name, "time")) {
			c.time = i
		}
	}
	return c
}

func (c columns) hasOHLC() bool {
	return c.open >= 0 && c.high >= 0 && c.low >= 0 && c.closing >= 0
}

// decodeBarRows handles bar-kind fragments: ready-made OHLC rows, or a
// price-only fallback that yields ticks for the aggregator.
func decodeBarRows(rows [][]string, cols columns, kind string) (*CSVResult, error) {
	if !cols.hasOHLC() {
		if cols.price < 0 {
			return nil, fmt.Errorf("%w: bar fragment has neither OHLC nor price columns", ErrSchema)
		}
		return decodeTickRows(rows, cols)
	}

	intervalMs, err := domain.IntervalMs(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	res := &CSVResult{}
	for _, row := range rows {
		openTime, ok := rowOpenTime(row, cols)
		if !ok {
			continue
		}

		open, ok1 := cell(row, cols.open)
		high, ok2 := cell(row, cols.high)
		low, ok3 := cell(row, cols.low)
		closing, ok4 := cell(row, cols.closing)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}

		volume := 0.0
		if v, ok := cell(row, cols.volume); ok {
			volume = v
		}

		res.Bars = append(res.Bars, &domain.Bar{
			OpenTimeMs:  openTime,
			CloseTimeMs: openTime + intervalMs - 1,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closing,
			Volume:      volume,
		})
	}
	return res, nil
}

// decodeTickRows emits rows with whatever subset of {price, bid, ask, volume}
// is present. No synthetic columns are invented.
func decodeTickRows(rows [][]string, cols columns) (*CSVResult, error) {
	if cols.price < 0 && cols.bid < 0 && cols.ask < 0 {
		return nil, fmt.Errorf("%w: tick fragment has no price, bid, or ask column", ErrSchema)
	}

	res := &CSVResult{}
	for _, row := range rows {
		ts, ok := parseTimeCell(rowCell(row, cols.time))
		if !ok {
			continue
		}

		tick := &domain.Tick{TimestampMs: ts}
		bid, hasBid := cell(row, cols.bid)
		ask, hasAsk := cell(row, cols.ask)
		tick.Bid = bid
		tick.Ask = ask

		if price, ok := cell(row, cols.price); ok {
			tick.Price = price
		} else if hasBid && hasAsk {
			tick.Price = (bid + ask) / 2
		} else if hasBid {
			tick.Price = bid
		} else if hasAsk {
			tick.Price = ask
		} else {
			continue
		}

		if v, ok := cell(row, cols.volume); ok && v > 0 {
			tick.Volume = v
		}
		res.Ticks = append(res.Ticks, tick)
	}
	return res, nil
}

// rowOpenTime resolves a bar row's open time: an explicit open_time column in
// epoch ms when present, otherwise the time column converted to epoch ms.
func rowOpenTime(row []string, cols columns) (int64, bool) {
	if cols.openTime >= 0 {
		raw := rowCell(row, cols.openTime)
		if raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return ms, true
			}
		}
	}
	return parseTimeCell(rowCell(row, cols.time))
}

func rowCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func cell(row []string, idx int) (float64, bool) {
	raw := rowCell(row, idx)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CSV time layouts tried after the numeric epoch forms.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimeCell converts a time cell to UTC epoch milliseconds. Numeric
// values below 1e11 are treated as epoch seconds, larger ones as epoch ms.
func parseTimeCell(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 100_000_000_000 {
			return n * 1000, true
		}
		return n, true
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		if f < 1e11 {
			return int64(f * 1000), true
		}
		return int64(f), true
	}

	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts.UTC().UnixMilli(), true
		}
	}
	return 0, false
}
