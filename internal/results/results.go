// Package results implements the Result Aggregator (spec §4.8, C10):
// capital, trade, PnL, drawdown, and risk-adjusted-return statistics
// computed from a completed backtest's Portfolio, equity curve, and
// trade list.
package results

import (
	"math"

	"github.com/shopspring/decimal"

	"quanttrade/internal/portfolio"
	"quanttrade/internal/types"
)

// DrawdownPoint is one entry on the parallel drawdown curve.
type DrawdownPoint struct {
	Equity       decimal.Decimal
	Peak         decimal.Decimal
	Drawdown     decimal.Decimal
	DrawdownPct  decimal.Decimal
}

// Summary is the full computed report.
type Summary struct {
	// Capital
	InitialEquity   decimal.Decimal
	FinalEquity     decimal.Decimal
	TotalPnL        decimal.Decimal
	TotalReturnPct  decimal.Decimal

	// Trade stats
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal

	// PnL
	GrossProfit  decimal.Decimal
	GrossLoss    decimal.Decimal
	ProfitFactor decimal.Decimal // left zero when GrossLoss == 0; ProfitFactorInfinite marks the +Inf case
	ProfitFactorInfinite bool
	AvgWin       decimal.Decimal
	AvgLoss      decimal.Decimal
	LargestWin   decimal.Decimal
	LargestLoss  decimal.Decimal

	// Drawdown
	MaxDrawdown    decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	DrawdownCurve  []DrawdownPoint

	// Risk-adjusted (nil when the sample stdev is zero — "None, not infinity")
	Sharpe  *decimal.Decimal
	Sortino *decimal.Decimal
	Calmar  *decimal.Decimal

	// Costs
	TotalCommission decimal.Decimal
	TotalSlippage   decimal.Decimal
	TotalCosts      decimal.Decimal
	CostsPctCapital decimal.Decimal

	// Durations (hours)
	AvgTradeDurationHours decimal.Decimal
	MaxTradeDurationHours decimal.Decimal
	MinTradeDurationHours decimal.Decimal
}

// TradeRecord pairs a trade with its realized PnL and holding duration,
// when known. The backtest engine's Trade records don't carry entry/exit
// pairing directly, and Aggregate does not derive it; instead the caller
// supplies RealizedPnL, IsClose and HoldDuration on each record, computed
// at fill time by whatever assembled the Trade list (the backtest engine,
// per C8's ApplyFill realized-PnL return).
type TradeRecord struct {
	Trade          types.Trade
	RealizedPnL    decimal.Decimal // 0 for trades that only opened/added to a position
	IsClose        bool
	HoldDuration   float64 // hours; 0 if IsClose is false
}

// Aggregate computes a Summary from a completed run's equity curve,
// trade records, and cost totals. annualizationFactor matches the
// candle interval (e.g. sqrt(365*24*60) for 1-minute bars annualized to
// a yearly Sharpe).
func Aggregate(initialCapital decimal.Decimal, curve []portfolio.EquityPoint, trades []TradeRecord, totalCommission, totalSlippage decimal.Decimal, annualizationFactor float64) Summary {
	s := Summary{InitialEquity: initialCapital}

	if len(curve) > 0 {
		s.FinalEquity = curve[len(curve)-1].Equity
	} else {
		s.FinalEquity = initialCapital
	}
	s.TotalPnL = s.FinalEquity.Sub(initialCapital)
	if initialCapital.Sign() != 0 {
		s.TotalReturnPct = s.TotalPnL.Div(initialCapital)
	}

	s.TotalCommission = totalCommission
	s.TotalSlippage = totalSlippage
	s.TotalCosts = totalCommission.Add(totalSlippage)
	if initialCapital.Sign() != 0 {
		s.CostsPctCapital = s.TotalCosts.Div(initialCapital)
	}

	aggregateTradeStats(&s, trades)
	s.DrawdownCurve, s.MaxDrawdown, s.MaxDrawdownPct = computeDrawdown(curve)
	s.Sharpe, s.Sortino, s.Calmar = computeRiskAdjusted(curve, s.MaxDrawdownPct, annualizationFactor)

	return s
}

func aggregateTradeStats(s *Summary, trades []TradeRecord) {
	s.TotalTrades = len(trades)

	var durSum, durMax, durMin float64
	var haveDuration bool
	var winSum, lossSum decimal.Decimal
	largestWin, largestLoss := decimal.Zero, decimal.Zero

	for _, t := range trades {
		if !t.IsClose {
			continue
		}
		pnl := t.RealizedPnL
		if pnl.Sign() > 0 {
			s.WinningTrades++
			winSum = winSum.Add(pnl)
			if pnl.GreaterThan(largestWin) {
				largestWin = pnl
			}
		} else if pnl.Sign() < 0 {
			s.LosingTrades++
			lossSum = lossSum.Add(pnl.Abs())
			if pnl.Abs().GreaterThan(largestLoss) {
				largestLoss = pnl.Abs()
			}
		}

		if t.HoldDuration > 0 {
			durSum += t.HoldDuration
			if !haveDuration || t.HoldDuration > durMax {
				durMax = t.HoldDuration
			}
			if !haveDuration || t.HoldDuration < durMin {
				durMin = t.HoldDuration
			}
			haveDuration = true
		}
	}

	closedCount := s.WinningTrades + s.LosingTrades
	if closedCount > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(decimal.NewFromInt(int64(closedCount)))
	}
	s.GrossProfit = winSum
	s.GrossLoss = lossSum
	if lossSum.Sign() == 0 {
		s.ProfitFactorInfinite = winSum.Sign() > 0
	} else {
		s.ProfitFactor = winSum.Div(lossSum)
	}
	if s.WinningTrades > 0 {
		s.AvgWin = winSum.Div(decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(s.LosingTrades)))
	}
	s.LargestWin = largestWin
	s.LargestLoss = largestLoss

	if haveDuration {
		s.AvgTradeDurationHours = decimal.NewFromFloat(durSum / float64(closedCount))
		s.MaxTradeDurationHours = decimal.NewFromFloat(durMax)
		s.MinTradeDurationHours = decimal.NewFromFloat(durMin)
	}
}

// computeDrawdown walks the equity curve maintaining a running peak.
func computeDrawdown(curve []portfolio.EquityPoint) ([]DrawdownPoint, decimal.Decimal, decimal.Decimal) {
	if len(curve) == 0 {
		return nil, decimal.Zero, decimal.Zero
	}

	out := make([]DrawdownPoint, len(curve))
	peak := curve[0].Equity
	maxDD, maxDDPct := decimal.Zero, decimal.Zero

	for i, pt := range curve {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		dd := peak.Sub(pt.Equity)
		var ddPct decimal.Decimal
		if peak.Sign() != 0 {
			ddPct = dd.Div(peak)
		}
		out[i] = DrawdownPoint{Equity: pt.Equity, Peak: peak, Drawdown: dd, DrawdownPct: ddPct}
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			maxDDPct = ddPct
		}
	}
	return out, maxDD, maxDDPct
}

// computeRiskAdjusted computes Sharpe, Sortino, and Calmar from
// period-over-period equity returns. Returns nil for a ratio when its
// denominator's stdev is zero (spec §4.8: "None, not infinity").
func computeRiskAdjusted(curve []portfolio.EquityPoint, maxDrawdownPct decimal.Decimal, annualizationFactor float64) (sharpe, sortino, calmar *decimal.Decimal) {
	if len(curve) < 2 {
		return nil, nil, nil
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) == 0 {
		return nil, nil, nil
	}

	mean := meanOf(returns)
	stdev := stdevOf(returns, mean)
	if stdev > 0 {
		v := decimal.NewFromFloat(mean / stdev * annualizationFactor)
		sharpe = &v
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 0 {
		downStdev := stdevOf(downside, meanOf(downside))
		if downStdev > 0 {
			v := decimal.NewFromFloat(mean / downStdev * annualizationFactor)
			sortino = &v
		}
	}

	if maxDrawdownPct.Sign() > 0 {
		// annualized_return approximated from the mean period return,
		// scaled by periods-per-year (= annualizationFactor^2, since the
		// Sharpe annualization factor is itself sqrt(periods-per-year)).
		annualizedReturn := mean * annualizationFactor * annualizationFactor
		ddPct, _ := maxDrawdownPct.Float64()
		v := decimal.NewFromFloat(annualizedReturn / ddPct)
		calmar = &v
	}

	return sharpe, sortino, calmar
}

func meanOf(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}
