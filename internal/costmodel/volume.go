package costmodel

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// volumeObservation is one timestamped traded-volume sample.
type volumeObservation struct {
	timestamp time.Time
	volume    decimal.Decimal
}

// TrailingVolumeTracker maintains a rolling window of traded-volume
// observations and reports their average, answering Open Question 4 in
// spec.md §9: whether the slippage impact term should use a trailing
// window instead of a single candle's volume.
//
// It adapts the teacher's strategy.FlowTracker — a ring buffer of
// timestamped observations evicted by a rolling window, there used to
// score fill "toxicity" — into a volume averager. Unlike the teacher's
// tracker, eviction is keyed off an explicit `now` supplied by the
// caller rather than time.Now(), because the backtest engine must
// replay historical candle timestamps deterministically.
type TrailingVolumeTracker struct {
	mu     sync.Mutex
	window time.Duration
	obs    []volumeObservation
}

// NewTrailingVolumeTracker creates a tracker with the given rolling window.
// A non-positive window disables averaging: Average always returns the
// fallback value supplied by the caller (the spec's literal single-candle
// behavior when the caller passes the current candle's volume, preserved
// as the degenerate case).
func NewTrailingVolumeTracker(window time.Duration) *TrailingVolumeTracker {
	return &TrailingVolumeTracker{window: window, obs: make([]volumeObservation, 0, 64)}
}

// Observe records a traded-volume sample at the given timestamp and
// evicts observations older than the window relative to it.
func (t *TrailingVolumeTracker) Observe(at time.Time, volume decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.obs = append(t.obs, volumeObservation{timestamp: at, volume: volume})
	t.evictStaleLocked(at)
}

func (t *TrailingVolumeTracker) evictStaleLocked(now time.Time) {
	if t.window <= 0 || len(t.obs) == 0 {
		return
	}
	cutoff := now.Add(-t.window)
	keepFrom := 0
	for i, o := range t.obs {
		if o.timestamp.After(cutoff) {
			keepFrom = i
			break
		}
		keepFrom = i + 1
	}
	t.obs = t.obs[keepFrom:]
}

// Average returns the mean volume over the current window. If no
// observations are present, it returns fallback unchanged (the caller
// passes the current candle's own volume as the fallback).
func (t *TrailingVolumeTracker) Average(fallback decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.window <= 0 || len(t.obs) == 0 {
		return fallback
	}

	sum := decimal.Zero
	for _, o := range t.obs {
		sum = sum.Add(o.volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(t.obs))))
}

// Count returns the number of observations currently in the window.
func (t *TrailingVolumeTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.obs)
}
