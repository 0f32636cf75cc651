// Package memory provides in-memory BarStore implementations for tests and
// dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"fx-feed-lab/internal/domain"
	"fx-feed-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.Bar // series key -> open time -> bar
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{data: make(map[string]map[int64]*domain.Bar)}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// seriesKey generates a unique key for a (symbol, interval) series.
func seriesKey(symbol, interval string) string {
	return fmt.Sprintf("%s|%s", symbol, interval)
}

// PutBars upserts a batch of bars.
func (s *BarStore) PutBars(_ context.Context, symbol, interval string, bars []*domain.Bar) error {
	if symbol == "" || interval == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey(symbol, interval)
	series, ok := s.data[key]
	if !ok {
		series = make(map[int64]*domain.Bar)
		s.data[key] = series
	}

	for _, b := range bars {
		if b == nil {
			return storage.ErrInvalidInput
		}
		barCopy := *b
		series[b.OpenTimeMs] = &barCopy
	}
	return nil
}

// GetLast retrieves the bar with the greatest open time.
func (s *BarStore) GetLast(_ context.Context, symbol, interval string) (*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.data[seriesKey(symbol, interval)]
	if !ok || len(series) == 0 {
		return nil, storage.ErrNotFound
	}

	var last *domain.Bar
	for _, b := range series {
		if last == nil || b.OpenTimeMs > last.OpenTimeMs {
			last = b
		}
	}
	barCopy := *last
	return &barCopy, nil
}

// GetRange retrieves bars with open time within [start, end), ordered ASC.
func (s *BarStore) GetRange(_ context.Context, symbol, interval string, startMs, endMs int64) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bar
	for _, b := range s.data[seriesKey(symbol, interval)] {
		if b.OpenTimeMs >= startMs && b.OpenTimeMs < endMs {
			barCopy := *b
			result = append(result, &barCopy)
		}
	}
	domain.SortBarsAsc(result)
	return result, nil
}
