package domain

// Tick is a single timestamped quote observation from an upstream feed.
// Ticks are ephemeral: they are consumed by the aggregator or re-emitted
// directly to a tick-mode caller, never persisted.
type Tick struct {
	TimestampMs int64   // Unix timestamp in milliseconds (UTC)
	Price       float64 // mid price, (bid+ask)/2 for quote feeds
	Bid         float64
	Ask         float64
	Volume      float64 // non-negative; 0 when the feed carries no size
}
