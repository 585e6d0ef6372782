package costmodel

import (
	"testing"

	"github.com/shopspring/decimal"

	"quanttrade/internal/types"
)

// Spec §8 scenario 1: happy-path market buy.
func TestCalculateTotalCostMarketBuyScenario(t *testing.T) {
	t.Parallel()
	m := NewModel(
		CommissionConfig{TakerRate: decimal.NewFromFloat(0.0005), MakerRate: decimal.NewFromFloat(0.0002), MinCommission: decimal.Zero},
		SlippageConfig{FixedBps: decimal.NewFromInt(5), ImpactCoefficient: decimal.Zero, MinSlippage: decimal.Zero},
	)

	price := types.MustPrice("50000")
	qty := types.MustQuantity("0.1")
	volume := decimal.NewFromInt(100)

	execPrice, commission, slippage := m.CalculateTotalCost(types.OrderMarket, types.Buy, price, qty, volume)

	if !commission.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("commission = %s, want 2.5", commission)
	}
	wantExec := decimal.NewFromFloat(50025)
	if !execPrice.Decimal().Equal(wantExec) {
		t.Errorf("execution price = %s, want %s", execPrice, wantExec)
	}
	if slippage.IsZero() {
		t.Errorf("expected nonzero slippage amount")
	}
}

func TestLimitOrderHasZeroSlippage(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultCommissionConfig(), DefaultSlippageConfig())

	price := types.MustPrice("100")
	qty := types.MustQuantity("10")

	execPrice, _, slippage := m.CalculateTotalCost(types.OrderLimit, types.Buy, price, qty, decimal.NewFromInt(1000))

	if !slippage.IsZero() {
		t.Errorf("limit order slippage = %s, want 0", slippage)
	}
	if !execPrice.Equal(price) {
		t.Errorf("limit order execution price = %s, want quote price %s", execPrice, price)
	}
}

func TestSellAppliesUnfavorableSlippageDownward(t *testing.T) {
	t.Parallel()
	m := NewModel(DefaultCommissionConfig(), SlippageConfig{
		FixedBps: decimal.NewFromInt(10), ImpactCoefficient: decimal.Zero, MinSlippage: decimal.Zero,
	})

	price := types.MustPrice("100")
	qty := types.MustQuantity("1")

	execPrice, _, _ := m.CalculateTotalCost(types.OrderMarket, types.Sell, price, qty, decimal.NewFromInt(100))
	if !execPrice.LessThan(price) {
		t.Errorf("sell execution price %s should be below quote price %s", execPrice, price)
	}
}

func TestTrailingVolumeTrackerFallsBackWithoutObservations(t *testing.T) {
	t.Parallel()
	tr := NewTrailingVolumeTracker(0)
	got := tr.Average(decimal.NewFromInt(42))
	if !got.Equal(decimal.NewFromInt(42)) {
		t.Errorf("Average() = %s, want fallback 42", got)
	}
}
