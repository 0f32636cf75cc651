// Package storage defines the persistence contract for normalized bars.
// The streaming core never persists on its own; it hands bar batches to a
// BarStore and uses GetLast to seed stream state across process restarts.
package storage

import (
	"context"

	"fx-feed-lab/internal/domain"
)

// BarStore provides access to per-(symbol, interval) bar storage.
type BarStore interface {
	// PutBars upserts a batch of bars. Re-writing an existing
	// (symbol, interval, open_time) replaces the row, which makes the
	// call idempotent and lets a forming bar be overwritten as it fills.
	PutBars(ctx context.Context, symbol, interval string, bars []*domain.Bar) error

	// GetLast retrieves the bar with the greatest open time.
	// Returns ErrNotFound if no bars exist for the key.
	GetLast(ctx context.Context, symbol, interval string) (*domain.Bar, error)

	// GetRange retrieves bars with open time within [start, end),
	// ordered by open time ASC.
	GetRange(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*domain.Bar, error)
}
