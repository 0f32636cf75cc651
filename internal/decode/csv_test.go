package decode

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func gzipCSV(t *testing.T, csv string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(csv)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeCSV_ReadyMadeBars(t *testing.T) {
	body := gzipCSV(t, "Time,Open,High,Low,Close,Volume\n"+
		"1735689600000,1.1,1.2,1.0,1.15,42\n"+
		"1735689660000,1.15,1.3,1.1,1.25,10\n")

	res, err := DecodeCSV(body, "1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Bars) != 2 || len(res.Ticks) != 0 {
		t.Fatalf("got %d bars %d ticks, want 2 bars 0 ticks", len(res.Bars), len(res.Ticks))
	}

	b := res.Bars[0]
	if b.OpenTimeMs != 1735689600000 {
		t.Errorf("open_time = %d, want 1735689600000", b.OpenTimeMs)
	}
	if b.CloseTimeMs != b.OpenTimeMs+60_000-1 {
		t.Errorf("close_time = %d, want open+59999", b.CloseTimeMs)
	}
	if b.Open != 1.1 || b.High != 1.2 || b.Low != 1.0 || b.Close != 1.15 || b.Volume != 42 {
		t.Errorf("unexpected bar: %+v", b)
	}
}

func TestDecodeCSV_ExplicitOpenTimeColumn(t *testing.T) {
	body := gzipCSV(t, "time,open_time,open,high,low,close\n"+
		"2025-01-01T00:05:00Z,1735689600000,1,2,0.5,1.5\n")

	res, err := DecodeCSV(body, "1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Bars) != 1 || res.Bars[0].OpenTimeMs != 1735689600000 {
		t.Fatalf("open_time column must win over time column: %+v", res.Bars)
	}
}

func TestDecodeCSV_PriceFallbackYieldsTicks(t *testing.T) {
	body := gzipCSV(t, "timestamp,price,volume\n"+
		"1735689600,1.1,5\n"+
		"1735689630,1.2,3\n")

	res, err := DecodeCSV(body, "1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Bars) != 0 || len(res.Ticks) != 2 {
		t.Fatalf("got %d bars %d ticks, want 0 bars 2 ticks", len(res.Bars), len(res.Ticks))
	}
	// Epoch seconds converted to ms.
	if res.Ticks[0].TimestampMs != 1735689600000 {
		t.Errorf("timestamp = %d, want 1735689600000", res.Ticks[0].TimestampMs)
	}
	if res.Ticks[0].Price != 1.1 || res.Ticks[0].Volume != 5 {
		t.Errorf("unexpected tick: %+v", res.Ticks[0])
	}
}

func TestDecodeCSV_TickKindBidAsk(t *testing.T) {
	body := gzipCSV(t, "Time,Bid,Ask\n"+
		"2025-01-01 00:00:00,1.10000,1.10010\n"+
		"bad-time,1.1,1.2\n")

	res, err := DecodeCSV(body, KindTick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Ticks) != 1 {
		t.Fatalf("got %d ticks, want 1 (unparseable time dropped)", len(res.Ticks))
	}
	tick := res.Ticks[0]
	if tick.TimestampMs != 1735689600000 {
		t.Errorf("timestamp = %d, want 1735689600000", tick.TimestampMs)
	}
	if tick.Price != (1.10000+1.10010)/2 {
		t.Errorf("price = %v, want mid", tick.Price)
	}
}

func TestDecodeCSV_MissingTimeColumn(t *testing.T) {
	body := gzipCSV(t, "open,high,low,close\n1,2,0.5,1.5\n")

	_, err := DecodeCSV(body, "1m")
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestDecodeCSV_NoOHLCNoPrice(t *testing.T) {
	body := gzipCSV(t, "time,foo,bar\n1735689600,1,2\n")

	_, err := DecodeCSV(body, "1m")
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestDecodeCSV_TimePrefixColumn(t *testing.T) {
	body := gzipCSV(t, "timestamp_ms,price\n1735689600000,1.5\n")

	res, err := DecodeCSV(body, KindTick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Ticks) != 1 || res.Ticks[0].TimestampMs != 1735689600000 {
		t.Fatalf("column starting with 'time' must resolve: %+v", res.Ticks)
	}
}

func TestDecodeCSV_NotGzip(t *testing.T) {
	if _, err := DecodeCSV([]byte("time,price\n1,2\n"), KindTick); err == nil {
		t.Fatal("expected error for non-gzip body")
	}
}
