package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz/lzma"

	"fx-feed-lab/internal/decode"
	"fx-feed-lab/internal/fetch"
)

var testHour = time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testClient() *fetch.Client {
	return fetch.NewClient(
		fetch.WithMaxRetries(2),
		fetch.WithBackoffBase(time.Millisecond),
	)
}

// binaryRecord encodes one 20-byte tick record of the binary feed.
func binaryRecord(msOffset uint32, ask, bid, askVol, bidVol int32) []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:4], msOffset)
	binary.BigEndian.PutUint32(buf[4:8], uint32(ask))
	binary.BigEndian.PutUint32(buf[8:12], uint32(bid))
	binary.BigEndian.PutUint32(buf[12:16], uint32(askVol))
	binary.BigEndian.PutUint32(buf[16:20], uint32(bidVol))
	return buf
}

func lzmaBlob(t *testing.T, records ...[]byte) []byte {
	t.Helper()
	var raw bytes.Buffer
	for _, r := range records {
		raw.Write(r)
	}
	var out bytes.Buffer
	w, err := lzma.NewWriter(&out)
	if err != nil {
		t.Fatalf("lzma writer: %v", err)
	}
	if _, err := w.Write(raw.Bytes()); err != nil {
		t.Fatalf("lzma write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("lzma close: %v", err)
	}
	return out.Bytes()
}

func gzipBody(t *testing.T, body string) []byte {
	t.Helper()
	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return out.Bytes()
}

// binaryServer serves lzma blobs keyed by zero-padded UTC hour ("14", "15").
// Hours absent from the map answer 502.
func binaryServer(t *testing.T, blobs map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		hourPart := parts[len(parts)-1] // "14h_ticks.bi5"
		hour := strings.TrimSuffix(hourPart, "h_ticks.bi5")
		blob, ok := blobs[hour]
		if !ok {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Write(blob)
	}))
}

func TestFetchTicks_BinaryTwoHours(t *testing.T) {
	srv := binaryServer(t, map[string][]byte{
		"14": lzmaBlob(t, binaryRecord(1_000, 110010, 110000, 2, 3)),
		"15": lzmaBlob(t, binaryRecord(2_000, 110030, 110020, 1, 1)),
	})
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Client:     testClient(),
		BinaryHost: srv.URL,
		Logger:     discardLogger(),
	})

	ticks, err := f.FetchTicks(context.Background(), Request{
		Symbol: "eurusd",
		Source: SourceBinary,
		Start:  testHour,
		End:    testHour.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}

	wantFirst := testHour.UnixMilli() + 1_000
	wantSecond := testHour.Add(time.Hour).UnixMilli() + 2_000
	if ticks[0].TimestampMs != wantFirst || ticks[1].TimestampMs != wantSecond {
		t.Errorf("timestamps = %d, %d; want %d, %d",
			ticks[0].TimestampMs, ticks[1].TimestampMs, wantFirst, wantSecond)
	}
}

func TestFetchBars_SkipsFailedBucket(t *testing.T) {
	// Hour 15 always answers 502; the hour must be skipped, not fatal.
	srv := binaryServer(t, map[string][]byte{
		"14": lzmaBlob(t, binaryRecord(500, 110010, 110000, 1, 1)),
	})
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Client:     testClient(),
		BinaryHost: srv.URL,
		Logger:     discardLogger(),
	})

	bars, err := f.FetchBars(context.Background(), Request{
		Symbol:   "eurusd",
		Source:   SourceBinary,
		Start:    testHour,
		End:      testHour.Add(2 * time.Hour),
		Interval: "1m",
	})
	if err != nil {
		t.Fatalf("one failed bucket must not abort the range: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1 from the surviving bucket", len(bars))
	}
	if bars[0].OpenTimeMs != testHour.UnixMilli() {
		t.Errorf("open_time = %d, want %d", bars[0].OpenTimeMs, testHour.UnixMilli())
	}
}

func TestFetchBars_AllBucketsFailed(t *testing.T) {
	srv := binaryServer(t, nil)
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Client:     testClient(),
		BinaryHost: srv.URL,
		Logger:     discardLogger(),
	})

	_, err := f.FetchBars(context.Background(), Request{
		Symbol:   "eurusd",
		Source:   SourceBinary,
		Start:    testHour,
		End:      testHour.Add(2 * time.Hour),
		Interval: "1m",
	})
	if !errors.Is(err, ErrAllBucketsFailed) {
		t.Fatalf("got %v, want ErrAllBucketsFailed", err)
	}
}

func TestFetchBars_CSVPassThrough(t *testing.T) {
	openMs := testHour.UnixMilli()
	csv := "time,open,high,low,close,volume\n" +
		time.UnixMilli(openMs).UTC().Format(time.RFC3339) + ",1.1,1.2,1.0,1.15,42\n"

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write(gzipBody(t, csv))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Client:      testClient(),
		CSVTemplate: srv.URL + "/{symbol}/{kind}/{yyyy}/{mm}/{dd}/{hh}.csv.gz",
		Logger:      discardLogger(),
	})

	bars, err := f.FetchBars(context.Background(), Request{
		Symbol:   "eurusd",
		Source:   SourceCSV,
		Start:    testHour,
		End:      testHour.Add(time.Hour),
		Interval: "1m",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	if bars[0].Open != 1.1 || bars[0].Close != 1.15 || bars[0].Volume != 42 {
		t.Errorf("bar = %+v", bars[0])
	}
	if gotPath != "/eurusd/1m/2025/03/10/14.csv.gz" {
		t.Errorf("template expansion produced path %q", gotPath)
	}
}

func TestFetchBars_CSVSchemaFailureSkipsBucket(t *testing.T) {
	// Hour 14 is well-formed; hour 15 has neither OHLC nor price columns.
	// The schema error must skip that hour, not raise out of the call.
	good := "time,open,high,low,close,volume\n" +
		testHour.Format(time.RFC3339) + ",1.1,1.2,1.0,1.15,42\n"
	bad := "time,note\n" +
		testHour.Add(time.Hour).Format(time.RFC3339) + ",no quote data here\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/15.csv.gz") {
			w.Write(gzipBody(t, bad))
			return
		}
		w.Write(gzipBody(t, good))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Client:      testClient(),
		CSVTemplate: srv.URL + "/{symbol}/{kind}/{hh}.csv.gz",
		Logger:      discardLogger(),
	})

	bars, err := f.FetchBars(context.Background(), Request{
		Symbol:   "eurusd",
		Source:   SourceCSV,
		Start:    testHour,
		End:      testHour.Add(2 * time.Hour),
		Interval: "1m",
	})
	if err != nil {
		t.Fatalf("a schema-bad bucket must not abort the range: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1 from the well-formed bucket", len(bars))
	}
	if bars[0].OpenTimeMs != testHour.UnixMilli() {
		t.Errorf("open_time = %d, want %d", bars[0].OpenTimeMs, testHour.UnixMilli())
	}
}

func TestSkipReason(t *testing.T) {
	cases := map[error]string{
		decode.ErrSchema:         "schema",
		decode.ErrDecompress:     "decompress",
		errors.New("dial error"): "fetch",
	}
	for err, want := range cases {
		if got := skipReason(fmt.Errorf("bucket: %w", err)); got != want {
			t.Errorf("skipReason(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestFetchBars_UnsupportedInterval(t *testing.T) {
	f := NewFetcher(FetcherOptions{Client: testClient(), Logger: discardLogger()})
	_, err := f.FetchBars(context.Background(), Request{
		Symbol:   "eurusd",
		Source:   SourceBinary,
		Start:    testHour,
		End:      testHour.Add(time.Hour),
		Interval: "5m",
	})
	if err == nil {
		t.Fatal("expected error for non-1m interval")
	}
}

func TestFetchTicks_EmptyRange(t *testing.T) {
	f := NewFetcher(FetcherOptions{Client: testClient(), Logger: discardLogger()})
	ticks, err := f.FetchTicks(context.Background(), Request{
		Symbol: "eurusd",
		Source: SourceBinary,
		Start:  testHour,
		End:    testHour,
	})
	if err != nil {
		t.Fatalf("empty range is not an error: %v", err)
	}
	if len(ticks) != 0 {
		t.Fatalf("got %d ticks, want 0", len(ticks))
	}
}

func TestFetchTicks_PostFiltersToRange(t *testing.T) {
	// Two ticks in the hour, but the request starts mid-hour: only the
	// second survives the hard post-filter.
	srv := binaryServer(t, map[string][]byte{
		"14": lzmaBlob(t,
			binaryRecord(1_000, 110010, 110000, 1, 1),
			binaryRecord(1_900_000, 110030, 110020, 1, 1),
		),
	})
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Client:     testClient(),
		BinaryHost: srv.URL,
		Logger:     discardLogger(),
	})

	start := testHour.Add(30 * time.Minute)
	ticks, err := f.FetchTicks(context.Background(), Request{
		Symbol: "eurusd",
		Source: SourceBinary,
		Start:  start,
		End:    testHour.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("got %d ticks, want 1", len(ticks))
	}
	if ticks[0].TimestampMs != testHour.UnixMilli()+1_900_000 {
		t.Errorf("timestamp = %d", ticks[0].TimestampMs)
	}
}

func TestFetchTicks_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(FetcherOptions{Client: testClient(), Logger: discardLogger()})
	_, err := f.FetchTicks(ctx, Request{
		Symbol: "eurusd",
		Source: SourceBinary,
		Start:  testHour,
		End:    testHour.Add(time.Hour),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
