// Package aggregate buckets ticks into fixed-width OHLCV bars.
package aggregate

import (
	"fx-feed-lab/internal/domain"
)

// BarsFromTicks buckets ascending ticks into fixed-width bars.
// Bucket index is floor(timestamp / intervalMs); open is the first tick's
// price, close the last, high/low the extremes, volume the sum of tick
// volumes. Empty buckets are never emitted, so gaps in the tick stream yield
// gaps in the bar sequence rather than synthetic bars.
func BarsFromTicks(ticks []*domain.Tick, intervalMs int64) []*domain.Bar {
	if len(ticks) == 0 || intervalMs <= 0 {
		return nil
	}

	var result []*domain.Bar
	var current *domain.Bar

	for _, t := range ticks {
		openTime := (t.TimestampMs / intervalMs) * intervalMs

		if current == nil || current.OpenTimeMs != openTime {
			if current != nil {
				result = append(result, current)
			}
			current = &domain.Bar{
				OpenTimeMs:  openTime,
				CloseTimeMs: openTime + intervalMs - 1,
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
				Close:       t.Price,
				Volume:      t.Volume,
			}
			continue
		}

		if t.Price > current.High {
			current.High = t.Price
		}
		if t.Price < current.Low {
			current.Low = t.Price
		}
		current.Close = t.Price
		current.Volume += t.Volume
	}

	if current != nil {
		result = append(result, current)
	}
	return result
}
