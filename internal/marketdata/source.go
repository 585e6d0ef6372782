// Package marketdata implements the MarketDataSource abstraction (spec
// §6.2): historical candle queries for the backtest engine, and a live
// tick-to-candle aggregator for the live engine. The in-memory store's
// locking follows the teacher's market.Book pattern (a single RWMutex
// guarding a small set of derived fields); the live Aggregator's
// ticker-driven loop follows market.Scanner.Run.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quanttrade/internal/types"
)

// Source is the MarketDataSource abstraction consumed by the backtest
// engine (C9). Implementations are out of scope per spec §6.2; this
// package supplies an in-memory one for tests and CSV-backed replay.
type Source interface {
	// QueryCandles returns candles for symbol at interval within
	// [start, end], ordered by timestamp ascending, contiguous at the
	// requested interval.
	QueryCandles(ctx context.Context, symbol types.Symbol, interval types.Interval, start, end time.Time) ([]types.Candle, error)
}

// InsufficientDataError is returned when a query yields zero candles,
// per spec §4.7 step 1 ("fail fast if any Symbol returns empty").
type InsufficientDataError struct {
	Symbol   types.Symbol
	Interval types.Interval
	Start    time.Time
	End      time.Time
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: no %s candles for %s in [%s, %s]",
		e.Interval, e.Symbol, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// MergedEvent is one entry in the deterministic chronological stream the
// backtest engine consumes (spec §4.7 step 2): candles from every
// queried symbol interleaved by timestamp, ties broken by symbol then by
// a stable insertion index.
type MergedEvent struct {
	Symbol types.Symbol
	Candle types.Candle
}

// MergeCandleStreams interleaves per-symbol candle slices into one
// chronologically sorted, deterministic stream: ties are broken first by
// Symbol's lexicographic order, then by source-insertion index (the
// symbols' iteration order as passed in, and within a symbol, slice
// order), so repeated runs over identical input are byte-identical.
func MergeCandleStreams(bySymbol map[types.Symbol][]types.Candle, order []types.Symbol) []MergedEvent {
	type indexed struct {
		ev  MergedEvent
		sym string
		seq int
	}

	var all []indexed
	seq := 0
	for _, sym := range order {
		for _, c := range bySymbol[sym] {
			all = append(all, indexed{ev: MergedEvent{Symbol: sym, Candle: c}, sym: sym.String(), seq: seq})
			seq++
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		ti, tj := all[i].ev.Candle.Timestamp, all[j].ev.Candle.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if all[i].sym != all[j].sym {
			return all[i].sym < all[j].sym
		}
		return all[i].seq < all[j].seq
	})

	out := make([]MergedEvent, len(all))
	for i, a := range all {
		out[i] = a.ev
	}
	return out
}

// LoadAll queries src for every symbol in symbols and returns the merged,
// deterministic event stream, or the first InsufficientDataError
// encountered (spec §4.7 step 1: "fail fast").
func LoadAll(ctx context.Context, src Source, symbols []types.Symbol, interval types.Interval, start, end time.Time) ([]MergedEvent, error) {
	bySymbol := make(map[types.Symbol][]types.Candle, len(symbols))
	for _, sym := range symbols {
		candles, err := src.QueryCandles(ctx, sym, interval, start, end)
		if err != nil {
			return nil, fmt.Errorf("query candles for %s: %w", sym, err)
		}
		if len(candles) == 0 {
			return nil, &InsufficientDataError{Symbol: sym, Interval: interval, Start: start, End: end}
		}
		bySymbol[sym] = candles
	}
	return MergeCandleStreams(bySymbol, symbols), nil
}
