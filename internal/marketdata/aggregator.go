package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quanttrade/internal/types"
)

// Tick is a single trade print delivered by a live feed.
type Tick struct {
	Symbol    types.Symbol
	Price     types.Price
	Volume    types.Quantity
	Timestamp time.Time
}

// building accumulates one in-progress candle for one symbol.
type building struct {
	open, high, low, close types.Price
	volume                 types.Quantity
	bucketStart            time.Time
	started                bool
}

// Aggregator folds live Ticks into fixed-Interval Candles, emitting each
// completed candle on Results(). Its run loop follows the teacher's
// market.Scanner.Run: an immediate flush check on every tick plus a
// ticker that forces a flush at interval boundaries even during a lull.
type Aggregator struct {
	interval types.Interval
	logger   *slog.Logger

	mu    sync.Mutex
	books map[string]*building // keyed by Symbol.String()

	ticks    chan Tick
	resultCh chan types.Candle
}

// NewAggregator creates a live tick-to-candle aggregator for interval.
func NewAggregator(interval types.Interval, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		interval: interval,
		logger:   logger.With("component", "marketdata.aggregator"),
		books:    make(map[string]*building),
		ticks:    make(chan Tick, 1024),
		resultCh: make(chan types.Candle, 256),
	}
}

// Results returns the channel completed candles are published on.
func (a *Aggregator) Results() <-chan types.Candle {
	return a.resultCh
}

// Ingest feeds one live tick into the aggregator. Non-blocking; a full
// ingest buffer drops the tick and logs a warning (the same backpressure
// posture as the event bus, spec §5).
func (a *Aggregator) Ingest(t Tick) {
	select {
	case a.ticks <- t:
	default:
		a.logger.Warn("tick buffer full, dropping tick", "symbol", t.Symbol)
	}
}

// Run drains ticks and closes out candles at interval boundaries. Blocks
// until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.ticks:
			a.apply(t)
		case <-ticker.C:
			a.flushStale(time.Now())
		}
	}
}

func (a *Aggregator) apply(t Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := t.Symbol.String()
	b, ok := a.books[key]
	bucket := t.Timestamp.Truncate(a.interval.Duration())

	if ok && b.started && !b.bucketStart.Equal(bucket) {
		a.emitLocked(t.Symbol, b)
		ok = false
	}
	if !ok {
		b = &building{bucketStart: bucket}
		a.books[key] = b
	}

	if !b.started {
		b.open, b.high, b.low, b.close = t.Price, t.Price, t.Price, t.Price
		b.volume = t.Volume
		b.started = true
		return
	}

	if t.Price.GreaterThan(b.high) {
		b.high = t.Price
	}
	if t.Price.LessThan(b.low) {
		b.low = t.Price
	}
	b.close = t.Price
	b.volume = b.volume.Add(t.Volume)
}

// flushStale closes out any in-progress candle whose bucket has fully
// elapsed as of now, even if no further ticks arrive for it.
func (a *Aggregator) flushStale(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.Truncate(a.interval.Duration())
	for key, b := range a.books {
		if !b.started || !b.bucketStart.Before(cutoff) {
			continue
		}
		sym := types.MustSymbol(key)
		a.emitLocked(sym, b)
		delete(a.books, key)
	}
}

func (a *Aggregator) emitLocked(symbol types.Symbol, b *building) {
	candle := types.Candle{
		Symbol:    symbol,
		Timestamp: b.bucketStart,
		Open:      b.open,
		High:      b.high,
		Low:       b.low,
		Close:     b.close,
		Volume:    b.volume,
	}
	select {
	case a.resultCh <- candle:
	default:
		a.logger.Warn("result buffer full, dropping completed candle", "symbol", symbol)
	}
}
