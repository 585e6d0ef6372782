package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"quanttrade/internal/types"
)

func mustOrder(sym string, side types.Side, qty, price string) types.Order {
	s := types.MustSymbol(sym)
	q := types.MustQuantity(qty)
	o := types.Order{Symbol: s, Side: side, Quantity: q, Type: types.OrderLimit}
	if price != "" {
		p := types.MustPrice(price)
		o.Price = &p
	}
	return o
}

// Scenario 4 from spec §8: critical block on insufficient margin + leverage.
func TestValidateCriticalBlock(t *testing.T) {
	t.Parallel()
	v := NewValidator(DefaultRiskLimits())

	order := mustOrder("BTC-USDT", types.Buy, "1.0", "50000")
	state := PortfolioState{
		TotalEquity:     decimal.NewFromInt(10000),
		AvailableMargin: decimal.NewFromInt(500),
	}

	result := v.Validate(order, types.MustPrice("50000"), state)

	assert.False(t, result.IsValid())
	assert.True(t, result.HasCriticalViolations())

	var hasMargin, hasLeverage bool
	for _, viol := range result.Violations {
		if viol.Rule == RuleMarginRequired && viol.Severity == SeverityCritical {
			hasMargin = true
		}
		if viol.Rule == RuleLeverage && viol.Severity == SeverityCritical {
			hasLeverage = true
		}
	}
	assert.True(t, hasMargin, "expected a critical margin violation")
	assert.True(t, hasLeverage, "expected a critical leverage violation")
}

// Boundary: selling exactly the current position size closes it to zero;
// must not breach the position-size limit (spec §8 boundary behaviors).
func TestPositionSizeSellToFlatDoesNotBreach(t *testing.T) {
	t.Parallel()
	limits := DefaultRiskLimits()
	limits.MaxPositionQty["BTC-USDT"] = decimal.NewFromInt(5)
	v := NewValidator(limits)

	order := mustOrder("BTC-USDT", types.Sell, "5", "50000")
	state := PortfolioState{
		TotalEquity:     decimal.NewFromInt(1_000_000),
		AvailableMargin: decimal.NewFromInt(1_000_000),
		Positions: []types.Position{
			{Symbol: types.MustSymbol("BTC-USDT"), Quantity: types.MustQuantity("5"), CurrentPrice: types.MustPrice("50000")},
		},
	}

	result := v.Validate(order, types.MustPrice("50000"), state)
	for _, viol := range result.Violations {
		assert.NotEqual(t, RulePositionSize, viol.Rule, "selling to exactly flat must not breach the position-size limit")
	}
}

// All six rules must be evaluated even when an early Critical violation
// is found (spec §4.2).
func TestAllRulesAlwaysEvaluated(t *testing.T) {
	t.Parallel()
	limits := DefaultRiskLimits()
	limits.MaxOpenPositions = 0
	limits.MaxConcentrationPct = decimal.NewFromInt(1)
	v := NewValidator(limits)

	order := mustOrder("ETH-USDT", types.Buy, "100", "2000")
	state := PortfolioState{
		TotalEquity:     decimal.NewFromInt(1000),
		AvailableMargin: decimal.Zero,
		DailyPnL:        decimal.NewFromInt(-999999),
	}

	result := v.Validate(order, types.MustPrice("2000"), state)

	seen := map[Rule]bool{}
	for _, viol := range result.Violations {
		seen[viol.Rule] = true
	}
	assert.True(t, seen[RuleLeverage])
	assert.True(t, seen[RuleDailyLoss])
	assert.True(t, seen[RuleConcentration])
	assert.True(t, seen[RuleMarginRequired])
	assert.True(t, seen[RuleMaxOpenPos])
}

func TestConcentrationIsWarningNotCritical(t *testing.T) {
	t.Parallel()
	limits := DefaultRiskLimits()
	limits.MaxConcentrationPct = decimal.NewFromInt(1)
	v := NewValidator(limits)

	order := mustOrder("BTC-USDT", types.Buy, "2", "100")
	state := PortfolioState{
		TotalEquity:     decimal.NewFromInt(10_000),
		AvailableMargin: decimal.NewFromInt(10_000),
	}

	result := v.Validate(order, types.MustPrice("100"), state)
	assert.True(t, result.IsValid(), "warnings must not block validation")
	assert.True(t, result.HasWarnings())
}
