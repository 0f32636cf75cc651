package clickhouse

import (
	"context"
	"fmt"

	"fx-feed-lab/internal/domain"
	"fx-feed-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
// The bars table is a ReplacingMergeTree keyed by (symbol, tf, open_time_ms),
// so re-writing a forming bar supersedes the earlier row; reads use FINAL to
// collapse not-yet-merged duplicates.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// PutBars appends a batch of bars.
func (s *BarStore) PutBars(ctx context.Context, symbol, interval string, bars []*domain.Bar) error {
	if symbol == "" || interval == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (
			symbol, tf, open_time_ms, close_time_ms,
			open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		if b == nil {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			symbol, interval, uint64(b.OpenTimeMs), uint64(b.CloseTimeMs),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetLast retrieves the bar with the greatest open time.
func (s *BarStore) GetLast(ctx context.Context, symbol, interval string) (*domain.Bar, error) {
	query := `
		SELECT open_time_ms, close_time_ms, open, high, low, close, volume
		FROM bars FINAL
		WHERE symbol = ? AND tf = ?
		ORDER BY open_time_ms DESC
		LIMIT 1
	`

	var b domain.Bar
	var openTime, closeTime uint64
	err := s.conn.QueryRow(ctx, query, symbol, interval).Scan(
		&openTime, &closeTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query last bar: %w", err)
	}
	b.OpenTimeMs = int64(openTime)
	b.CloseTimeMs = int64(closeTime)
	return &b, nil
}

// GetRange retrieves bars with open time within [start, end), ordered ASC.
func (s *BarStore) GetRange(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*domain.Bar, error) {
	query := `
		SELECT open_time_ms, close_time_ms, open, high, low, close, volume
		FROM bars FINAL
		WHERE symbol = ? AND tf = ?
		  AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, interval, uint64(startMs), uint64(endMs))
	if err != nil {
		return nil, fmt.Errorf("query bar range: %w", err)
	}
	defer rows.Close()

	var result []*domain.Bar
	for rows.Next() {
		var b domain.Bar
		var openTime, closeTime uint64
		if err := rows.Scan(&openTime, &closeTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.OpenTimeMs = int64(openTime)
		b.CloseTimeMs = int64(closeTime)
		result = append(result, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	return result, nil
}
