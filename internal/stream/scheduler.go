package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"fx-feed-lab/internal/domain"
	"fx-feed-lab/internal/history"
	"fx-feed-lab/internal/observability"
	"fx-feed-lab/internal/publish"
	"fx-feed-lab/internal/storage"
)

// BarSource fetches the normalized bar frame for a lookback window.
// *history.Fetcher satisfies it via FetchBars.
type BarSource interface {
	FetchBars(ctx context.Context, req history.Request) ([]*domain.Bar, error)
}

// OnChunk is an optional side-effect hook invoked with each non-empty delta.
// The scheduler waits for it to return before publishing; it must complete
// synchronously.
type OnChunk func(ctx context.Context, symbol string, bars []*domain.Bar) error

// SchedulerOptions contains configuration for creating a Scheduler.
type SchedulerOptions struct {
	Source   BarSource
	Symbols  []string
	SrcKind  history.SourceKind
	Interval string // canonical timeframe label, "1m"

	PollInterval time.Duration // Default: 10s
	Lookback     time.Duration // Default: 15m
	Limit        int           // Default: 120 - max rows per published delta

	Channel   string
	Publisher publish.Publisher

	// Store is the optional persistence collaborator: deltas are written to
	// it and GetLast seeds per-symbol state across restarts.
	Store storage.BarStore

	OnChunk OnChunk
	Logger  *log.Logger
	Metrics *observability.Metrics

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Scheduler is the top-level repeating poll/publish task. Symbols within one
// cycle are processed strictly sequentially; all per-symbol state is owned by
// the running task and never shared.
type Scheduler struct {
	source   BarSource
	symbols  []string
	srcKind  history.SourceKind
	interval string

	pollInterval time.Duration
	lookback     time.Duration
	limit        int

	channel   string
	publisher publish.Publisher
	store     storage.BarStore
	onChunk   OnChunk
	logger    *log.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	states map[domain.SymbolKey]*State
}

// NewScheduler creates a new poll/publish scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, errors.New("scheduler requires a bar source")
	}
	if opts.Publisher == nil {
		return nil, errors.New("scheduler requires a publisher")
	}
	if len(opts.Symbols) == 0 {
		return nil, errors.New("scheduler requires at least one symbol")
	}

	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = 10 * time.Second
	}
	lookback := opts.Lookback
	if lookback == 0 {
		lookback = 15 * time.Minute
	}
	limit := opts.Limit
	if limit == 0 {
		limit = 120
	}
	interval := opts.Interval
	if interval == "" {
		interval = domain.Interval1Min
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		source:       opts.Source,
		symbols:      opts.Symbols,
		srcKind:      opts.SrcKind,
		interval:     interval,
		pollInterval: pollInterval,
		lookback:     lookback,
		limit:        limit,
		channel:      opts.Channel,
		publisher:    opts.Publisher,
		store:        opts.Store,
		onChunk:      opts.OnChunk,
		logger:       logger,
		metrics:      opts.Metrics,
		now:          now,
		states:       make(map[domain.SymbolKey]*State),
	}, nil
}

// Run polls until ctx is cancelled. Cancellation is cooperative: the cycle in
// progress finishes its current symbol without publishing a partial message
// and the loop exits with ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Printf("starting poll loop: symbols=%v interval=%s poll=%s lookback=%s limit=%d",
		s.symbols, s.interval, s.pollInterval, s.lookback, s.limit)

	for {
		s.pollOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Printf("poll loop stopped: %v", ctx.Err())
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// pollOnce runs one cycle over all symbols. A failure in one symbol is
// logged and never affects the remaining symbols.
func (s *Scheduler) pollOnce(ctx context.Context) {
	start := s.now()
	end := start
	windowStart := end.Add(-s.lookback)

	for _, symbol := range s.symbols {
		if ctx.Err() != nil {
			return
		}
		if err := s.pollSymbol(ctx, symbol, windowStart, end); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			s.logger.Printf("WARN poll failed symbol=%s: %v", symbol, err)
		}
	}

	if s.metrics != nil {
		s.metrics.PollCycles.Inc()
		s.metrics.PollCycleDuration.Observe(time.Since(start).Seconds())
		s.metrics.LastSuccessfulPoll.SetToCurrentTime()
	}
}

// pollSymbol fetches the lookback window for one symbol, computes the delta
// against its stream state, and publishes it.
func (s *Scheduler) pollSymbol(ctx context.Context, symbol string, start, end time.Time) error {
	key := domain.NewSymbolKey(symbol, s.interval)

	frame, err := s.source.FetchBars(ctx, history.Request{
		Symbol:   symbol,
		Source:   s.srcKind,
		Start:    start,
		End:      end,
		Interval: s.interval,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.PollSymbolErrors.WithLabelValues("fetch").Inc()
		}
		return fmt.Errorf("fetch window: %w", err)
	}

	state := s.stateFor(ctx, key)
	delta := state.Delta(frame, s.limit)
	delta = tail(delta, s.limit)

	if len(delta) == 0 {
		if s.metrics != nil {
			s.metrics.PublishesSkipped.Inc()
		}
		return nil
	}

	if s.onChunk != nil {
		if err := s.onChunk(ctx, key.Symbol, delta); err != nil {
			// The hook is best-effort; a failed side effect must not
			// suppress the publish.
			s.logger.Printf("WARN on-chunk hook failed symbol=%s: %v", key.Symbol, err)
			if s.metrics != nil {
				s.metrics.PollSymbolErrors.WithLabelValues("hook").Inc()
			}
		}
	}

	if s.store != nil {
		if err := s.store.PutBars(ctx, key.Symbol, key.Interval, delta); err != nil {
			s.logger.Printf("WARN persist failed symbol=%s bars=%d: %v", key.Symbol, len(delta), err)
			if s.metrics != nil {
				s.metrics.StoreErrors.WithLabelValues("put_bars").Inc()
			}
		} else if s.metrics != nil {
			s.metrics.BarsPersisted.Add(float64(len(delta)))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	payload, err := json.Marshal(publish.Message{
		Symbol: key.Symbol,
		TF:     key.Interval,
		Bars:   delta,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := s.publisher.Publish(ctx, s.channel, payload); err != nil {
		if s.metrics != nil {
			s.metrics.PublishErrors.Inc()
		}
		return fmt.Errorf("publish delta: %w", err)
	}

	if s.metrics != nil {
		s.metrics.BarsPublished.Add(float64(len(delta)))
	}
	s.logger.Printf("published symbol=%s tf=%s bars=%d", key.Symbol, key.Interval, len(delta))
	return nil
}

// stateFor returns the symbol's stream state, creating it on first use.
// When a store is configured, new state is seeded from the last persisted
// bar so a restart does not republish history.
func (s *Scheduler) stateFor(ctx context.Context, key domain.SymbolKey) *State {
	if state, ok := s.states[key]; ok {
		return state
	}

	state := NewState()
	if s.store != nil {
		last, err := s.store.GetLast(ctx, key.Symbol, key.Interval)
		switch {
		case err == nil:
			state = SeededState(last)
			s.logger.Printf("seeded state symbol=%s tf=%s last_open=%d", key.Symbol, key.Interval, last.OpenTimeMs)
		case errors.Is(err, storage.ErrNotFound):
			// First run for this symbol.
		default:
			s.logger.Printf("WARN seed lookup failed symbol=%s: %v", key.Symbol, err)
		}
	}

	s.states[key] = state
	return state
}
