package backtest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/costmodel"
	"quanttrade/internal/marketdata"
	"quanttrade/internal/strategy"
	"quanttrade/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildCandles(closes []float64, start time.Time, sym types.Symbol) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		p := types.MustPrice(decimal.NewFromFloat(c).String())
		out[i] = types.Candle{
			Symbol:    sym,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    types.MustQuantity("1000"),
		}
	}
	return out
}

// Spec §8 scenario 6: identical input produces byte-identical equity
// curves and trade lists across two runs.
func TestBacktestDeterminism(t *testing.T) {
	t.Parallel()
	sym := types.MustSymbol("BTC-USDT")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	closes := make([]float64, 0, 200)
	for i := 0; i < 200; i++ {
		closes = append(closes, 100+float64(i%30)-float64((i/30)%5))
	}
	candles := buildCandles(closes, start, sym)

	runOnce := func() *Result {
		src := marketdata.NewMemorySource()
		src.Load(sym, types.Interval1m, candles)

		cfg := Config{
			Symbols:        []types.Symbol{sym},
			Interval:       types.Interval1m,
			Start:          start,
			End:            start.Add(300 * time.Minute),
			InitialCapital: decimal.NewFromInt(100000),
			PositionSizing: PositionSizing{Mode: SizingFixed, FixedQty: types.MustQuantity("1")},
		}
		strat := strategy.NewMovingAverageCrossover(5, 20, decimal.NewFromInt(1))
		cost := costmodel.NewModel(costmodel.DefaultCommissionConfig(), costmodel.DefaultSlippageConfig())
		eng := New(cfg, src, strat, cost, testLogger())

		result, err := eng.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return result
	}

	r1 := runOnce()
	r2 := runOnce()

	if len(r1.Trades) != len(r2.Trades) {
		t.Fatalf("trade count differs: %d vs %d", len(r1.Trades), len(r2.Trades))
	}
	for i := range r1.Trades {
		if !r1.Trades[i].Price.Equal(r2.Trades[i].Price) || !r1.Trades[i].Quantity.Equal(r2.Trades[i].Quantity) {
			t.Fatalf("trade %d differs: %+v vs %+v", i, r1.Trades[i], r2.Trades[i])
		}
	}

	curve1, curve2 := r1.EquityCurve, r2.EquityCurve
	if len(curve1) != len(curve2) {
		t.Fatalf("equity curve length differs: %d vs %d", len(curve1), len(curve2))
	}
	for i := range curve1 {
		if !curve1[i].Equity.Equal(curve2[i].Equity) {
			t.Fatalf("equity curve point %d differs: %s vs %s", i, curve1[i].Equity, curve2[i].Equity)
		}
	}
}

// Spec §4.7/§6.6: when the Strategy's Signal carries no SuggestedQuantity,
// order size comes from the configured position-sizing policy. With
// percent_of_equity, an order's quantity scales with equity rather than
// being fixed.
func TestPercentOfEquityPositionSizing(t *testing.T) {
	t.Parallel()
	sym := types.MustSymbol("BTC-USDT")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	closes := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+float64(i%30)-float64((i/30)%5))
	}
	candles := buildCandles(closes, start, sym)

	src := marketdata.NewMemorySource()
	src.Load(sym, types.Interval1m, candles)

	cfg := Config{
		Symbols:        []types.Symbol{sym},
		Interval:       types.Interval1m,
		Start:          start,
		End:            start.Add(60 * time.Minute),
		InitialCapital: decimal.NewFromInt(100000),
		PositionSizing: PositionSizing{
			Mode:            SizingPercentOfEquity,
			PercentOfEquity: decimal.NewFromFloat(0.02),
		},
	}
	// Quantity left at zero: the strategy emits no SuggestedQuantity, so
	// every order must be sized by PositionSizing.
	strat := strategy.NewMovingAverageCrossover(5, 20, decimal.Zero)
	cost := costmodel.NewModel(costmodel.DefaultCommissionConfig(), costmodel.DefaultSlippageConfig())
	eng := New(cfg, src, strat, cost, testLogger())

	result, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("expected at least one trade sized by percent-of-equity policy")
	}
	for _, tr := range result.Trades {
		if tr.Quantity.IsZero() {
			t.Fatalf("trade %+v has zero quantity, percent-of-equity sizing did not apply", tr)
		}
	}
}

func TestInsufficientDataFailsFast(t *testing.T) {
	t.Parallel()
	sym := types.MustSymbol("ETH-USDT")
	src := marketdata.NewMemorySource() // no candles loaded

	cfg := Config{
		Symbols:        []types.Symbol{sym},
		Interval:       types.Interval1m,
		Start:          time.Unix(0, 0),
		End:            time.Unix(1000, 0),
		InitialCapital: decimal.NewFromInt(1000),
	}
	strat := strategy.NewMovingAverageCrossover(5, 20, decimal.NewFromInt(1))
	cost := costmodel.NewModel(costmodel.DefaultCommissionConfig(), costmodel.DefaultSlippageConfig())
	eng := New(cfg, src, strat, cost, testLogger())

	_, err := eng.Run(context.Background())
	if err == nil {
		t.Fatal("expected InsufficientData error, got nil")
	}
}
