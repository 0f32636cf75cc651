package postgres

import (
	"context"
	"fmt"

	"fx-feed-lab/internal/domain"
	"fx-feed-lab/internal/storage"
)

// BarStore implements storage.BarStore using PostgreSQL.
type BarStore struct {
	pool *Pool
}

// NewBarStore creates a new BarStore.
func NewBarStore(pool *Pool) *BarStore {
	return &BarStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// PutBars upserts a batch of bars in one transaction.
func (s *BarStore) PutBars(ctx context.Context, symbol, interval string, bars []*domain.Bar) error {
	if symbol == "" || interval == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO bars (
			symbol, tf, open_time_ms, close_time_ms,
			open, high, low, close, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, tf, open_time_ms) DO UPDATE SET
			close_time_ms = EXCLUDED.close_time_ms,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	for _, b := range bars {
		if b == nil {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			symbol, interval, b.OpenTimeMs, b.CloseTimeMs,
			b.Open, b.High, b.Low, b.Close, b.Volume,
		)
		if err != nil {
			return fmt.Errorf("upsert bar open_time=%d: %w", b.OpenTimeMs, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetLast retrieves the bar with the greatest open time.
func (s *BarStore) GetLast(ctx context.Context, symbol, interval string) (*domain.Bar, error) {
	query := `
		SELECT open_time_ms, close_time_ms, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND tf = $2
		ORDER BY open_time_ms DESC
		LIMIT 1
	`

	var b domain.Bar
	err := s.pool.QueryRow(ctx, query, symbol, interval).Scan(
		&b.OpenTimeMs, &b.CloseTimeMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query last bar: %w", err)
	}
	return &b, nil
}

// GetRange retrieves bars with open time within [start, end), ordered ASC.
func (s *BarStore) GetRange(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*domain.Bar, error) {
	query := `
		SELECT open_time_ms, close_time_ms, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND tf = $2
		  AND open_time_ms >= $3 AND open_time_ms < $4
		ORDER BY open_time_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query bar range: %w", err)
	}
	defer rows.Close()

	var result []*domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.OpenTimeMs, &b.CloseTimeMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		result = append(result, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	return result, nil
}
