package results

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/portfolio"
	"quanttrade/internal/types"
)

func TestAggregateCapitalAndReturn(t *testing.T) {
	t.Parallel()
	curve := []portfolio.EquityPoint{
		{Timestamp: time.Unix(0, 0), Equity: decimal.NewFromInt(10000)},
		{Timestamp: time.Unix(60, 0), Equity: decimal.NewFromInt(11000)},
	}

	s := Aggregate(decimal.NewFromInt(10000), curve, nil, decimal.Zero, decimal.Zero, 1)

	if !s.FinalEquity.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("FinalEquity = %s, want 11000", s.FinalEquity)
	}
	if !s.TotalPnL.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("TotalPnL = %s, want 1000", s.TotalPnL)
	}
	if !s.TotalReturnPct.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("TotalReturnPct = %s, want 0.1", s.TotalReturnPct)
	}
}

func TestAggregateWinRateAndProfitFactor(t *testing.T) {
	t.Parallel()
	sym := types.MustSymbol("BTC-USDT")
	mkTrade := func(pnl float64) TradeRecord {
		return TradeRecord{
			Trade:       types.Trade{Symbol: sym, Side: types.Sell, Quantity: types.MustQuantity("1"), Price: types.MustPrice("100")},
			RealizedPnL: decimal.NewFromFloat(pnl),
			IsClose:     true,
		}
	}
	trades := []TradeRecord{mkTrade(100), mkTrade(-50), mkTrade(200)}

	s := Aggregate(decimal.NewFromInt(10000), nil, trades, decimal.Zero, decimal.Zero, 1)

	if s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Fatalf("WinningTrades=%d LosingTrades=%d, want 2/1", s.WinningTrades, s.LosingTrades)
	}
	wantWinRate := decimal.NewFromFloat(2.0 / 3.0)
	if s.WinRate.Sub(wantWinRate).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("WinRate = %s, want ~%s", s.WinRate, wantWinRate)
	}
	if !s.GrossProfit.Equal(decimal.NewFromInt(300)) {
		t.Errorf("GrossProfit = %s, want 300", s.GrossProfit)
	}
	if !s.GrossLoss.Equal(decimal.NewFromInt(50)) {
		t.Errorf("GrossLoss = %s, want 50", s.GrossLoss)
	}
	if !s.ProfitFactor.Equal(decimal.NewFromInt(6)) {
		t.Errorf("ProfitFactor = %s, want 6", s.ProfitFactor)
	}
}

func TestProfitFactorInfiniteWhenNoLosses(t *testing.T) {
	t.Parallel()
	sym := types.MustSymbol("BTC-USDT")
	trades := []TradeRecord{{
		Trade:       types.Trade{Symbol: sym, Side: types.Sell, Quantity: types.MustQuantity("1"), Price: types.MustPrice("100")},
		RealizedPnL: decimal.NewFromInt(50),
		IsClose:     true,
	}}

	s := Aggregate(decimal.NewFromInt(1000), nil, trades, decimal.Zero, decimal.Zero, 1)
	if !s.ProfitFactorInfinite {
		t.Error("expected ProfitFactorInfinite = true when gross loss is zero")
	}
}

func TestMaxDrawdownIsNonNegativeAndCurveMonotoneTimestamps(t *testing.T) {
	t.Parallel()
	curve := []portfolio.EquityPoint{
		{Timestamp: time.Unix(0, 0), Equity: decimal.NewFromInt(1000)},
		{Timestamp: time.Unix(60, 0), Equity: decimal.NewFromInt(1200)},
		{Timestamp: time.Unix(120, 0), Equity: decimal.NewFromInt(900)},
		{Timestamp: time.Unix(180, 0), Equity: decimal.NewFromInt(1100)},
	}

	s := Aggregate(decimal.NewFromInt(1000), curve, nil, decimal.Zero, decimal.Zero, 1)

	if s.MaxDrawdown.Sign() < 0 {
		t.Errorf("MaxDrawdown = %s, must be >= 0", s.MaxDrawdown)
	}
	wantDD := decimal.NewFromInt(300) // peak 1200 -> trough 900
	if !s.MaxDrawdown.Equal(wantDD) {
		t.Errorf("MaxDrawdown = %s, want %s", s.MaxDrawdown, wantDD)
	}
	for i := 1; i < len(curve); i++ {
		if curve[i].Timestamp.Before(curve[i-1].Timestamp) {
			t.Fatalf("equity curve timestamps not monotone at index %d", i)
		}
	}
}
