// Package costmodel implements commission and slippage formulas for the
// backtest engine (spec §4.5): maker/taker/minimum commission, and
// fixed + market-impact slippage with unfavorable-price adjustment.
package costmodel

import (
	"github.com/shopspring/decimal"

	"quanttrade/internal/types"
)

// CommissionConfig parameterizes the commission formula.
type CommissionConfig struct {
	MakerRate     decimal.Decimal
	TakerRate     decimal.Decimal
	MinCommission decimal.Decimal
}

// DefaultCommissionConfig mirrors common spot-exchange fee schedules.
func DefaultCommissionConfig() CommissionConfig {
	return CommissionConfig{
		MakerRate:     decimal.NewFromFloat(0.0002),
		TakerRate:     decimal.NewFromFloat(0.0005),
		MinCommission: decimal.NewFromFloat(0.01),
	}
}

// SlippageConfig parameterizes the slippage formula.
type SlippageConfig struct {
	FixedBps         decimal.Decimal
	ImpactCoefficient decimal.Decimal
	MinSlippage      decimal.Decimal
}

// DefaultSlippageConfig is a conservative default for liquid spot pairs.
func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		FixedBps:          decimal.NewFromInt(5),
		ImpactCoefficient: decimal.NewFromFloat(0.1),
		MinSlippage:       decimal.Zero,
	}
}

// Model combines commission and slippage into calculate_total_cost (spec §4.5).
type Model struct {
	Commission CommissionConfig
	Slippage   SlippageConfig
}

// NewModel creates a cost Model from its two sub-configs.
func NewModel(commission CommissionConfig, slippage SlippageConfig) *Model {
	return &Model{Commission: commission, Slippage: slippage}
}

// isTakerInBacktest mirrors spec §4.5/§9 Open Question 2: Market and
// IOC/FOK are always taker; Limit/PostOnly are always maker. This is a
// deliberate simplification (it under-counts fees when a limit order
// actually crosses the spread, since it is charged the maker rather than
// the taker rate) and is preserved as-is.
func isTakerInBacktest(orderType types.OrderType) bool {
	return !orderType.IsMaker()
}

// CalculateCommission computes max(min_commission, rate * price * quantity).
func (m *Model) CalculateCommission(orderType types.OrderType, price types.Price, quantity types.Quantity) decimal.Decimal {
	rate := m.commissionRate(orderType)
	notional := price.Decimal().Mul(quantity.Decimal())
	fee := rate.Mul(notional)
	if fee.LessThan(m.Commission.MinCommission) {
		return m.Commission.MinCommission
	}
	return fee
}

// commissionRate returns the maker or taker rate for orderType under the
// backtest's simplified maker/taker attribution.
func (m *Model) commissionRate(orderType types.OrderType) decimal.Decimal {
	if isTakerInBacktest(orderType) {
		return m.Commission.TakerRate
	}
	return m.Commission.MakerRate
}

// bps10000 is the basis-point divisor used throughout.
var bps10000 = decimal.NewFromInt(10000)

// MarketSlippage computes slippage for a Market (or other always-taker)
// order: max(min_slippage, price*(fixed_bps/10000) + impact*price*(qty/avg_volume)).
func (m *Model) MarketSlippage(price types.Price, quantity types.Quantity, avgVolume decimal.Decimal) decimal.Decimal {
	fixed := price.Decimal().Mul(m.Slippage.FixedBps).Div(bps10000)

	var impact decimal.Decimal
	if avgVolume.Sign() > 0 {
		impact = m.Slippage.ImpactCoefficient.Mul(price.Decimal()).Mul(quantity.Decimal()).Div(avgVolume)
	}

	total := fixed.Add(impact)
	if total.LessThan(m.Slippage.MinSlippage) {
		return m.Slippage.MinSlippage
	}
	return total
}

// CalculateTotalCost computes the execution price, commission, and
// slippage amount for one fill, applying slippage unfavorably: Buy pays
// up, Sell receives less. Limit/PostOnly slippage is always zero in the
// backtest (the simulator assumes a limit fills exactly at its price or
// not at all).
func (m *Model) CalculateTotalCost(
	orderType types.OrderType,
	side types.Side,
	quotePrice types.Price,
	quantity types.Quantity,
	avgVolume decimal.Decimal,
) (executionPrice types.Price, commission decimal.Decimal, slippageAmount decimal.Decimal) {
	commission = m.CalculateCommission(orderType, quotePrice, quantity)

	if orderType.IsMaker() {
		return quotePrice, commission, decimal.Zero
	}

	slippageAmount = m.MarketSlippage(quotePrice, quantity, avgVolume)

	slippageFrac := decimal.Zero
	if quotePrice.Decimal().Sign() > 0 {
		slippageFrac = slippageAmount.Div(quotePrice.Decimal())
	}

	var adjusted decimal.Decimal
	if side == types.Buy {
		adjusted = quotePrice.Decimal().Mul(decimal.NewFromInt(1).Add(slippageFrac))
	} else {
		adjusted = quotePrice.Decimal().Mul(decimal.NewFromInt(1).Sub(slippageFrac))
	}

	execPrice, err := types.NewPrice(adjusted)
	if err != nil {
		// Slippage cannot legitimately drive price to zero or negative for
		// any realistic configuration; fall back to the quote price rather
		// than propagate an invalid Price.
		execPrice = quotePrice
	}
	return execPrice, commission, slippageAmount
}
