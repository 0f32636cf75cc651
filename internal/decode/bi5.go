// Package decode turns upstream feed payloads (proprietary compressed binary
// ticks, gzip CSV fallback) into domain ticks and bars.
package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"fx-feed-lab/internal/domain"
)

// Binary tick record layout: 20 bytes, big-endian.
//
//	[0:4]   uint32 ms offset within the hour
//	[4:8]   int32  ask * 1e5
//	[8:12]  int32  bid * 1e5
//	[12:16] int32  ask volume
//	[16:20] int32  bid volume
const (
	tickRecordSize = 20
	priceScale     = 100000.0
)

// Decompression retry schedule for a corrupt or partially-delivered blob.
var decompressDelays = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

const maxDecompressDelay = 5 * time.Second

// DecompressLZMA inflates an hour blob, retrying up to 3 times with capped
// backoff. After the attempts are exhausted the caller skips the hour bucket.
func DecompressLZMA(ctx context.Context, blob []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= len(decompressDelays); attempt++ {
		if attempt > 0 {
			delay := decompressDelays[attempt-1]
			if delay > maxDecompressDelay {
				delay = maxDecompressDelay
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		r, err := lzma.NewReader(bytes.NewReader(blob))
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			lastErr = err
			continue
		}
		return raw, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrDecompress, lastErr)
}

// DecodeHourTicks decodes one UTC-hour compressed blob into ticks.
// hourStart is the bucket start; only ticks with timestamps inside
// [startMs, endMs) are kept. The result is deduplicated by timestamp and
// sorted ascending. A trailing chunk shorter than a full record terminates
// decoding without error, so truncated feeds yield the records seen so far.
func DecodeHourTicks(ctx context.Context, blob []byte, hourStart time.Time, startMs, endMs int64) ([]*domain.Tick, error) {
	raw, err := DecompressLZMA(ctx, blob)
	if err != nil {
		return nil, err
	}
	return decodeTickRecords(raw, hourStart.UTC().UnixMilli(), startMs, endMs), nil
}

// decodeTickRecords scans sequential fixed-size records from raw.
func decodeTickRecords(raw []byte, hourStartMs, startMs, endMs int64) []*domain.Tick {
	byTime := make(map[int64]*domain.Tick, len(raw)/tickRecordSize)

	for off := 0; off+tickRecordSize <= len(raw); off += tickRecordSize {
		rec := raw[off : off+tickRecordSize]

		msOffset := binary.BigEndian.Uint32(rec[0:4])
		askRaw := int32(binary.BigEndian.Uint32(rec[4:8]))
		bidRaw := int32(binary.BigEndian.Uint32(rec[8:12]))
		askVol := int32(binary.BigEndian.Uint32(rec[12:16]))
		bidVol := int32(binary.BigEndian.Uint32(rec[16:20]))

		ts := hourStartMs + int64(msOffset)
		if ts < startMs || ts >= endMs {
			continue
		}

		ask := float64(askRaw) / priceScale
		bid := float64(bidRaw) / priceScale

		volume := 0.0
		if askVol > 0 {
			volume += float64(askVol)
		}
		if bidVol > 0 {
			volume += float64(bidVol)
		}

		// Last record wins on duplicate timestamps.
		byTime[ts] = &domain.Tick{
			TimestampMs: ts,
			Price:       (bid + ask) / 2,
			Bid:         bid,
			Ask:         ask,
			Volume:      volume,
		}
	}

	ticks := make([]*domain.Tick, 0, len(byTime))
	for _, t := range byTime {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool {
		return ticks[i].TimestampMs < ticks[j].TimestampMs
	})
	return ticks
}
