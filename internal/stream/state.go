// Package stream implements the incremental streaming core: a per-symbol
// dedup state machine and the poll/publish scheduler that drives it.
package stream

import (
	"math"

	"fx-feed-lab/internal/domain"
)

// sigScale quantizes bar fields for signature comparison so that float noise
// below 1e-8 does not count as a content change.
const sigScale = 1e8

// Signature is a quantized fingerprint of a bar's content, used to detect
// whether the forming bar changed between polls.
type Signature struct {
	OpenTimeMs int64
	Open       int64
	High       int64
	Low        int64
	Close      int64
	Volume     int64
}

func quantize(v float64) int64 {
	return int64(math.Round(v * sigScale))
}

// SignatureOf computes a bar's signature.
func SignatureOf(b *domain.Bar) Signature {
	return Signature{
		OpenTimeMs: b.OpenTimeMs,
		Open:       quantize(b.Open),
		High:       quantize(b.High),
		Low:        quantize(b.Low),
		Close:      quantize(b.Close),
		Volume:     quantize(b.Volume),
	}
}

// State is the per-symbol streaming state. It is owned exclusively by the
// scheduler task that mutates it; no concurrent writers are permitted.
type State struct {
	lastOpenMs int64
	seeded     bool
	partial    *Signature
}

// NewState returns cold-start state: the first frame it sees is treated as
// entirely new.
func NewState() *State {
	return &State{}
}

// SeededState returns state seeded from a persisted bar, so that a restart
// does not republish history up to and including that bar's open time.
func SeededState(last *domain.Bar) *State {
	sig := SignatureOf(last)
	return &State{lastOpenMs: last.OpenTimeMs, seeded: true, partial: &sig}
}

// LastOpenMs returns the open time of the most recently emitted bar and
// whether the state has been seeded yet.
func (s *State) LastOpenMs() (int64, bool) {
	return s.lastOpenMs, s.seeded
}

// Delta computes the minimal publishable delta for a freshly fetched frame.
// The frame must be ascending and unique by open time.
//
// Cold start emits the limit most recent rows (all rows when limit <= 0).
// Afterwards every row newer than the last emitted open time is emitted (a
// slow poll may have missed several closing bars), and the row at the last
// emitted open time, the forming bar, is re-emitted only when its quantized
// content changed since the previous poll. Each closed bar is therefore
// emitted exactly once, and the forming bar at most once per distinct
// content, as long as the State survives between polls.
func (s *State) Delta(frame []*domain.Bar, limit int) []*domain.Bar {
	if len(frame) == 0 {
		return nil
	}

	if !s.seeded {
		delta := tail(frame, limit)
		last := frame[len(frame)-1]
		sig := SignatureOf(last)
		s.lastOpenMs = last.OpenTimeMs
		s.seeded = true
		s.partial = &sig
		return delta
	}

	newer := newerThan(frame, s.lastOpenMs)
	if len(newer) > 0 {
		s.lastOpenMs = newer[len(newer)-1].OpenTimeMs
		s.partial = nil
		// The newest row is now the forming bar; cache its content so
		// the next poll can tell whether it moved.
		if row := rowAt(frame, s.lastOpenMs); row != nil {
			sig := SignatureOf(row)
			s.partial = &sig
		}
		return newer
	}

	row := rowAt(frame, s.lastOpenMs)
	if row == nil {
		return nil
	}
	sig := SignatureOf(row)
	if s.partial != nil && *s.partial == sig {
		return nil
	}
	s.partial = &sig
	return []*domain.Bar{row}
}

// tail returns the n most recent rows in ascending order, or all rows when
// n <= 0 or the frame is shorter.
func tail(frame []*domain.Bar, n int) []*domain.Bar {
	if n <= 0 || len(frame) <= n {
		return frame
	}
	return frame[len(frame)-n:]
}

func newerThan(frame []*domain.Bar, openMs int64) []*domain.Bar {
	for i, b := range frame {
		if b.OpenTimeMs > openMs {
			return frame[i:]
		}
	}
	return nil
}

func rowAt(frame []*domain.Bar, openMs int64) *domain.Bar {
	for i := len(frame) - 1; i >= 0; i-- {
		if frame[i].OpenTimeMs == openMs {
			return frame[i]
		}
		if frame[i].OpenTimeMs < openMs {
			return nil
		}
	}
	return nil
}
