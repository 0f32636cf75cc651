// Package history fetches historical tick/bar ranges from upstream feeds.
// A range is partitioned into UTC-hour buckets; each bucket is fetched and
// decoded independently, so a bad hour never aborts the whole range.
package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"fx-feed-lab/internal/aggregate"
	"fx-feed-lab/internal/decode"
	"fx-feed-lab/internal/domain"
	"fx-feed-lab/internal/fetch"
	"fx-feed-lab/internal/observability"
)

// SourceKind selects the upstream feed format.
type SourceKind string

const (
	// SourceBinary is the proprietary compressed binary tick feed.
	SourceBinary SourceKind = "binary"
	// SourceCSV is the template-driven gzip CSV fallback feed.
	SourceCSV SourceKind = "csv"
)

// ErrAllBucketsFailed is returned by a single-shot fetch when every hour
// bucket in a non-empty range failed after retries.
var ErrAllBucketsFailed = errors.New("all hour buckets failed")

// Fetcher drives per-bucket fetch+decode over a time range. It is stateless:
// every invocation re-executes the full range, which makes calls idempotent.
type Fetcher struct {
	client      *fetch.Client
	binaryHost  string
	csvTemplate string
	logger      *log.Logger
	metrics     *observability.Metrics
}

// FetcherOptions contains configuration for creating a Fetcher.
type FetcherOptions struct {
	Client      *fetch.Client
	BinaryHost  string // base URL of the binary feed host
	CSVTemplate string // URL template with {symbol} {kind} {yyyy} {mm} {dd} {hh}
	Logger      *log.Logger
	Metrics     *observability.Metrics // optional
}

// NewFetcher creates a new historical range fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		client = fetch.NewClient()
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Fetcher{
		client:      client,
		binaryHost:  opts.BinaryHost,
		csvTemplate: opts.CSVTemplate,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Request describes one historical range fetch over [Start, End).
type Request struct {
	Symbol   string
	Source   SourceKind
	Start    time.Time
	End      time.Time
	Interval string // canonical bar timeframe; only "1m" is supported directly
}

// Bucket is the decoded content of one UTC-hour bucket. Depending on the
// source schema it carries raw ticks or ready-made bars.
type Bucket struct {
	HourStart time.Time
	Ticks     []*domain.Tick
	Bars      []*domain.Bar
}

// Cursor lazily walks the hour buckets of a range. A cursor is created fresh
// per invocation and must not be shared across calls.
type Cursor struct {
	f        *Fetcher
	req      Request
	hours    []time.Time
	idx      int
	tickMode bool

	buckets int // buckets attempted
	failed  int // buckets skipped after retries
}

// Next fetches and decodes the next hour bucket. It returns nil when the
// range is exhausted. Failed buckets are skipped with a logged warning and
// never surface as an error; only context cancellation does.
func (c *Cursor) Next(ctx context.Context) (*Bucket, error) {
	for c.idx < len(c.hours) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hour := c.hours[c.idx]
		c.idx++
		c.buckets++

		b, err := c.f.fetchBucket(ctx, c.req, hour, c.tickMode)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.failed++
			c.f.logger.Printf("WARN skipping bucket symbol=%s hour=%s: %v",
				c.req.Symbol, hour.Format("2006-01-02T15Z"), err)
			if c.f.metrics != nil {
				c.f.metrics.BucketsSkipped.WithLabelValues(skipReason(err)).Inc()
			}
			continue
		}

		if c.f.metrics != nil {
			c.f.metrics.BucketsFetched.Inc()
		}
		return b, nil
	}
	return nil, nil
}

// allFailed reports whether every attempted bucket was skipped.
func (c *Cursor) allFailed() bool {
	return c.buckets > 0 && c.failed == c.buckets
}

// Ticks returns a cursor over the range in tick mode.
func (f *Fetcher) Ticks(req Request) *Cursor {
	return &Cursor{f: f, req: req, hours: hourBuckets(req.Start, req.End), tickMode: true}
}

// Bars returns a cursor over the range in bar mode.
func (f *Fetcher) Bars(req Request) *Cursor {
	return &Cursor{f: f, req: req, hours: hourBuckets(req.Start, req.End)}
}

// FetchTicks drains the range and returns a single ordered, deduplicated,
// time-filtered tick sequence. An empty range is an empty result, not an
// error; ErrAllBucketsFailed is returned only when every bucket failed.
func (f *Fetcher) FetchTicks(ctx context.Context, req Request) ([]*domain.Tick, error) {
	cur := f.Ticks(req)
	var all []*domain.Tick

	for {
		b, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if b == nil {
			break
		}
		all = append(all, b.Ticks...)
	}

	if cur.allFailed() {
		return nil, fmt.Errorf("%w: symbol=%s buckets=%d", ErrAllBucketsFailed, req.Symbol, cur.buckets)
	}

	all = dedupTicksAsc(all)
	all = filterTicks(all, req.Start.UnixMilli(), req.End.UnixMilli())
	if f.metrics != nil {
		f.metrics.TicksDecoded.Add(float64(len(all)))
	}
	return all, nil
}

// FetchBars drains the range and returns 1-minute bars: tick buckets are run
// through the aggregator, bar buckets pass through unchanged. The result is
// ordered, unique by open time, and hard post-filtered to [Start, End).
func (f *Fetcher) FetchBars(ctx context.Context, req Request) ([]*domain.Bar, error) {
	intervalMs, err := domain.IntervalMs(req.Interval)
	if err != nil {
		return nil, err
	}
	if intervalMs != domain.Interval1MinMs {
		return nil, fmt.Errorf("unsupported target interval %q: coarser timeframes are a downstream resampler's job", req.Interval)
	}

	cur := f.Bars(req)
	var all []*domain.Bar

	for {
		b, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if b == nil {
			break
		}
		if len(b.Bars) > 0 {
			all = append(all, b.Bars...)
			continue
		}
		if len(b.Ticks) > 0 {
			// Hour buckets align with minute buckets, so aggregating
			// per bucket never splits a bar.
			all = append(all, aggregate.BarsFromTicks(b.Ticks, intervalMs)...)
		}
	}

	if cur.allFailed() {
		return nil, fmt.Errorf("%w: symbol=%s buckets=%d", ErrAllBucketsFailed, req.Symbol, cur.buckets)
	}

	all = dedupBarsAsc(all)
	all = filterBars(all, req.Start.UnixMilli(), req.End.UnixMilli())
	if f.metrics != nil {
		f.metrics.BarsAggregated.Add(float64(len(all)))
	}
	return all, nil
}

// fetchBucket fetches and decodes one hour bucket.
func (f *Fetcher) fetchBucket(ctx context.Context, req Request, hour time.Time, tickMode bool) (*Bucket, error) {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.FetchLatency.WithLabelValues(string(req.Source)).Observe(time.Since(start).Seconds())
		}
	}()

	startMs := req.Start.UnixMilli()
	endMs := req.End.UnixMilli()

	switch req.Source {
	case SourceBinary:
		url := BinaryHourURL(f.binaryHost, req.Symbol, hour)
		blob, err := f.client.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		ticks, err := decode.DecodeHourTicks(ctx, blob, hour, startMs, endMs)
		if err != nil {
			return nil, err
		}
		return &Bucket{HourStart: hour, Ticks: ticks}, nil

	case SourceCSV:
		kind := req.Interval
		if tickMode {
			kind = decode.KindTick
		}
		url := CSVHourURL(f.csvTemplate, req.Symbol, kind, hour)
		body, err := f.client.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		res, err := decode.DecodeCSV(body, kind)
		if err != nil {
			return nil, err
		}
		return &Bucket{HourStart: hour, Ticks: res.Ticks, Bars: res.Bars}, nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", req.Source)
	}
}

// hourBuckets partitions [start, end) into UTC-hour-aligned buckets.
func hourBuckets(start, end time.Time) []time.Time {
	if !start.Before(end) {
		return nil
	}
	var hours []time.Time
	for h := start.UTC().Truncate(time.Hour); h.Before(end); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	return hours
}

// skipReason maps a bucket failure to a metrics label.
func skipReason(err error) string {
	switch {
	case errors.Is(err, decode.ErrSchema):
		return "schema"
	case errors.Is(err, decode.ErrDecompress):
		return "decompress"
	default:
		return "fetch"
	}
}

func dedupTicksAsc(ticks []*domain.Tick) []*domain.Tick {
	if len(ticks) == 0 {
		return ticks
	}
	byTime := make(map[int64]*domain.Tick, len(ticks))
	for _, t := range ticks {
		byTime[t.TimestampMs] = t
	}
	out := make([]*domain.Tick, 0, len(byTime))
	for _, t := range byTime {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out
}

func dedupBarsAsc(bars []*domain.Bar) []*domain.Bar {
	if len(bars) == 0 {
		return bars
	}
	byOpen := make(map[int64]*domain.Bar, len(bars))
	for _, b := range bars {
		byOpen[b.OpenTimeMs] = b
	}
	out := make([]*domain.Bar, 0, len(byOpen))
	for _, b := range byOpen {
		out = append(out, b)
	}
	domain.SortBarsAsc(out)
	return out
}

func filterTicks(ticks []*domain.Tick, startMs, endMs int64) []*domain.Tick {
	out := ticks[:0]
	for _, t := range ticks {
		if t.TimestampMs >= startMs && t.TimestampMs < endMs {
			out = append(out, t)
		}
	}
	return out
}

func filterBars(bars []*domain.Bar, startMs, endMs int64) []*domain.Bar {
	out := bars[:0]
	for _, b := range bars {
		if b.OpenTimeMs >= startMs && b.OpenTimeMs < endMs {
			out = append(out, b)
		}
	}
	return out
}
