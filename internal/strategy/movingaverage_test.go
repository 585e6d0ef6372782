package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/types"
)

func feedCandle(s *MovingAverageCrossover, sym types.Symbol, close float64, at time.Time) {
	c := types.Candle{
		Symbol:    sym,
		Timestamp: at,
		Open:      types.MustPrice("1"),
		High:      types.MustPrice("1"),
		Low:       types.MustPrice("1"),
		Close:     types.MustPrice(decimal.NewFromFloat(close).String()),
		Volume:    types.MustQuantity("1"),
	}
	s.OnMarketData(MarketEvent{Type: EventCandle, Symbol: sym, Candle: &c})
}

func TestGenerateSignalHoldsUntilWarm(t *testing.T) {
	t.Parallel()
	s := NewMovingAverageCrossover(2, 4, decimal.NewFromInt(1))
	sym := types.MustSymbol("BTC-USDT")
	now := time.Unix(0, 0)

	feedCandle(s, sym, 100, now)
	if got := s.GenerateSignal(); got.Type != types.SignalHold {
		t.Fatalf("GenerateSignal() = %v, want Hold before slow period is warm", got.Type)
	}
}

func TestGenerateSignalCrossesToBuy(t *testing.T) {
	t.Parallel()
	s := NewMovingAverageCrossover(2, 4, decimal.NewFromInt(1))
	sym := types.MustSymbol("BTC-USDT")
	now := time.Unix(0, 0)

	prices := []float64{100, 100, 100, 100, 120, 130}
	for i, p := range prices {
		feedCandle(s, sym, p, now.Add(time.Duration(i)*time.Minute))
	}

	got := s.GenerateSignal()
	if got.Type != types.SignalBuy {
		t.Fatalf("GenerateSignal() = %v, want Buy once fast MA rises above slow MA", got.Type)
	}
}

func TestSerializeRoundTripPreservesSignal(t *testing.T) {
	t.Parallel()
	s := NewMovingAverageCrossover(2, 4, decimal.NewFromInt(1))
	sym := types.MustSymbol("BTC-USDT")
	now := time.Unix(0, 0)
	for i, p := range []float64{100, 100, 100, 100, 120, 130} {
		feedCandle(s, sym, p, now.Add(time.Duration(i)*time.Minute))
	}
	want := s.GenerateSignal()

	data, err := s.SerializeState()
	if err != nil {
		t.Fatalf("SerializeState: %v", err)
	}

	restored := NewMovingAverageCrossover(2, 4, decimal.NewFromInt(1))
	if err := restored.DeserializeState(data); err != nil {
		t.Fatalf("DeserializeState: %v", err)
	}

	got := restored.GenerateSignal()
	if got.Type != want.Type {
		t.Fatalf("after restore, GenerateSignal() = %v, want %v", got.Type, want.Type)
	}
}
