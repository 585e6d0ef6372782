// Package strategy defines the Strategy capability interface consumed by
// the backtest engine and execution algorithms (spec §6.3), plus a
// reference moving-average-crossover implementation used for the
// determinism property tests. Concrete strategies are otherwise out of
// scope: this package specifies the contract, the teacher's
// strategy.Maker specified a single hardcoded one.
package strategy

import (
	"quanttrade/internal/types"
)

// MarketEventType discriminates the variants on_market_data can receive.
type MarketEventType string

const (
	EventCandle    MarketEventType = "CANDLE"
	EventTrade     MarketEventType = "TRADE"
	EventOrderBook MarketEventType = "ORDER_BOOK"
)

// MarketEvent is the sum type delivered to Strategy.OnMarketData.
type MarketEvent struct {
	Type   MarketEventType
	Symbol types.Symbol
	Candle *types.Candle
}

// PerformanceMetrics is the free-form metrics snapshot a Strategy reports
// via GetMetrics; the backtest engine and live engine surface it as-is.
type PerformanceMetrics struct {
	SignalsEmitted int
	FillsObserved  int
	RejectsObserved int
	Custom         map[string]float64
}

// Strategy is the capability interface every trading strategy must
// implement (spec §6.3). Implementations are out of scope for the core;
// this package only ships MovingAverageCrossover as a reference used by
// tests.
type Strategy interface {
	// Initialize is called once before the first market event, with an
	// opaque, strategy-owned configuration payload.
	Initialize(configJSON []byte) error

	// OnMarketData is called for every market event the engine delivers.
	OnMarketData(event MarketEvent)

	// GenerateSignal is called after every OnMarketData in backtest mode;
	// free-running (on its own schedule) in live mode.
	GenerateSignal() types.Signal

	// OnOrderFill is called when a fill occurs for an order this strategy
	// owns.
	OnOrderFill(order types.Order)

	// OnOrderReject is called when an order this strategy owns is
	// rejected or fails.
	OnOrderReject(order types.Order, reason string)

	// GetMetrics returns the strategy's self-reported performance snapshot.
	GetMetrics() PerformanceMetrics

	// SerializeState and DeserializeState support hot-reload; the format
	// is opaque and strategy-owned.
	SerializeState() ([]byte, error)
	DeserializeState(data []byte) error

	// Shutdown is called once, after the last market event.
	Shutdown()
}
