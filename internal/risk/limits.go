// Package risk implements pre-trade risk validation (spec §4.2): a
// synchronous, multi-rule check gating every order submission against
// position, leverage, loss, concentration, margin, and open-position
// limits. The validator never errors — it always returns a graded
// ValidationResult — mirroring the teacher's risk.Manager, which never
// errors either and instead emits KillSignals on a channel.
package risk

import "github.com/shopspring/decimal"

// RiskLimits is the runtime-adjustable configuration for every rule.
// Defaults mirror spec §4.2.
type RiskLimits struct {
	// MaxPositionQty, keyed by Symbol.String(). No entry means no per-symbol
	// cap is enforced for that symbol.
	MaxPositionQty map[string]decimal.Decimal

	MaxPortfolioValue   decimal.Decimal
	MaxLeverage         decimal.Decimal
	DailyLossLimit      decimal.Decimal // positive magnitude; breach if dailyPnL < -limit
	MaxConcentrationPct decimal.Decimal // 0-100
	MaxOpenPositions    int
	MinMarginRatio      decimal.Decimal // 0-1
}

// DefaultRiskLimits returns the spec's documented sensible defaults.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionQty:      map[string]decimal.Decimal{},
		MaxPortfolioValue:   decimal.NewFromInt(1_000_000),
		MaxLeverage:         decimal.NewFromInt(3),
		DailyLossLimit:      decimal.NewFromInt(10_000),
		MaxConcentrationPct: decimal.NewFromInt(25),
		MaxOpenPositions:    10,
		MinMarginRatio:      decimal.NewFromFloat(0.15),
	}
}

// Validate checks the limits themselves are internally consistent
// (ConfigurationInvalid in spec §7 terms).
func (l RiskLimits) Validate() error {
	if l.MaxLeverage.Sign() <= 0 {
		return &ConfigurationInvalidError{Msg: "max_leverage must be > 0"}
	}
	if l.MaxConcentrationPct.Sign() < 0 || l.MaxConcentrationPct.GreaterThan(decimal.NewFromInt(100)) {
		return &ConfigurationInvalidError{Msg: "max_concentration_pct must be within [0, 100]"}
	}
	if l.MinMarginRatio.Sign() < 0 || l.MinMarginRatio.GreaterThan(decimal.NewFromInt(1)) {
		return &ConfigurationInvalidError{Msg: "min_margin_ratio must be within [0, 1]"}
	}
	if l.MaxOpenPositions < 0 {
		return &ConfigurationInvalidError{Msg: "max_open_positions must be >= 0"}
	}
	return nil
}

// ConfigurationInvalidError reports a RiskLimits value outside permitted
// ranges (spec §7: ConfigurationInvalid).
type ConfigurationInvalidError struct{ Msg string }

func (e *ConfigurationInvalidError) Error() string { return "configuration invalid: " + e.Msg }
