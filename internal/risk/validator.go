package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"quanttrade/internal/types"
)

// Severity grades a RiskViolation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Rule names each check, so ValidationResult entries are easy to filter
// and log without string-matching Message.
type Rule string

const (
	RulePositionSize   Rule = "position_size"
	RuleLeverage       Rule = "leverage"
	RuleDailyLoss      Rule = "daily_loss"
	RuleConcentration  Rule = "concentration"
	RuleMarginRequired Rule = "margin_required"
	RuleMaxOpenPos     Rule = "max_open_positions"
)

// RiskViolation is one rule breach.
type RiskViolation struct {
	Severity Severity
	Rule     Rule
	Message  string
}

// ValidationResult is the graded output of Validate. All six rules are
// always evaluated, even once a Critical violation is found, so the
// caller can log the complete violation set.
type ValidationResult struct {
	Violations []RiskViolation
}

// IsValid reports whether there are no Critical violations.
func (r ValidationResult) IsValid() bool { return !r.HasCriticalViolations() }

// HasCriticalViolations reports whether any violation is Critical.
func (r ValidationResult) HasCriticalViolations() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any violation is a Warning.
func (r ValidationResult) HasWarnings() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// PortfolioState is the read-only snapshot the validator checks an order
// against.
type PortfolioState struct {
	TotalEquity     decimal.Decimal
	AvailableMargin decimal.Decimal
	Positions       []types.Position
	DailyPnL        decimal.Decimal
}

func (p PortfolioState) positionFor(sym types.Symbol) (types.Position, bool) {
	for _, pos := range p.Positions {
		if pos.Symbol.Equal(sym) {
			return pos, true
		}
	}
	return types.Position{}, false
}

// Validator evaluates an Order against RiskLimits and a PortfolioState.
// Concurrent Validate calls are safe; limits may be swapped at runtime via
// SetLimits, which is not synchronized with Validate and so must not run
// concurrently with it.
type Validator struct {
	limits RiskLimits
}

// NewValidator creates a Validator with the given limits.
func NewValidator(limits RiskLimits) *Validator {
	return &Validator{limits: limits}
}

// SetLimits replaces the active RiskLimits (runtime-adjustable per spec §4.2).
func (v *Validator) SetLimits(limits RiskLimits) { v.limits = limits }

// Limits returns the currently active RiskLimits.
func (v *Validator) Limits() RiskLimits { return v.limits }

// Validate runs all six rules in the documented order and returns the
// complete violation set. The validator never errors.
func (v *Validator) Validate(order types.Order, marketPrice types.Price, state PortfolioState) ValidationResult {
	var result ValidationResult

	if viol, ok := v.checkPositionSize(order, state); ok {
		result.Violations = append(result.Violations, viol)
	}

	orderValue := v.orderValue(order, marketPrice)

	if viol, ok := v.checkLeverage(orderValue, state); ok {
		result.Violations = append(result.Violations, viol)
	}

	if viol, ok := v.checkDailyLoss(state); ok {
		result.Violations = append(result.Violations, viol)
	}

	if viol, ok := v.checkConcentration(orderValue, state); ok {
		result.Violations = append(result.Violations, viol)
	}

	if viol, ok := v.checkMarginRequirement(orderValue, state); ok {
		result.Violations = append(result.Violations, viol)
	}

	if viol, ok := v.checkMaxOpenPositions(order, state); ok {
		result.Violations = append(result.Violations, viol)
	}

	return result
}

// orderValue is order_qty * (order_price if provided, else current market price).
func (v *Validator) orderValue(order types.Order, marketPrice types.Price) decimal.Decimal {
	price := marketPrice
	if order.Price != nil {
		price = *order.Price
	}
	return price.Decimal().Mul(order.Quantity.Decimal())
}

// checkPositionSize implements rule 1. The Sell-side computation
// deliberately preserves the source's |current - order_qty| formula,
// which conflates "reducing a long" with "opening a short past flat" —
// see Open Question 1 in DESIGN.md. This is NOT a bug fix opportunity.
func (v *Validator) checkPositionSize(order types.Order, state PortfolioState) (RiskViolation, bool) {
	limit, ok := v.limits.MaxPositionQty[order.Symbol.String()]
	if !ok {
		return RiskViolation{}, false
	}

	var current decimal.Decimal
	if pos, found := state.positionFor(order.Symbol); found {
		current = pos.Quantity.Decimal()
	}

	var newQty decimal.Decimal
	if order.Side == types.Buy {
		newQty = current.Add(order.Quantity.Decimal())
	} else {
		newQty = current.Sub(order.Quantity.Decimal()).Abs()
	}

	if newQty.GreaterThan(limit) {
		return RiskViolation{
			Severity: SeverityCritical,
			Rule:     RulePositionSize,
			Message: fmt.Sprintf("%s: resulting position %s exceeds limit %s",
				order.Symbol, newQty, limit),
		}, true
	}
	return RiskViolation{}, false
}

// checkLeverage implements rule 2.
func (v *Validator) checkLeverage(orderValue decimal.Decimal, state PortfolioState) (RiskViolation, bool) {
	if state.TotalEquity.Sign() <= 0 {
		return RiskViolation{}, false
	}

	totalExposure := orderValue
	for _, pos := range state.Positions {
		positionValue := pos.Quantity.Decimal().Mul(pos.CurrentPrice.Decimal()).Abs()
		totalExposure = totalExposure.Add(positionValue)
	}

	leverage := totalExposure.Div(state.TotalEquity)
	if leverage.GreaterThan(v.limits.MaxLeverage) {
		return RiskViolation{
			Severity: SeverityCritical,
			Rule:     RuleLeverage,
			Message:  fmt.Sprintf("leverage %s exceeds max %s", leverage.Round(4), v.limits.MaxLeverage),
		}, true
	}
	return RiskViolation{}, false
}

// checkDailyLoss implements rule 3.
func (v *Validator) checkDailyLoss(state PortfolioState) (RiskViolation, bool) {
	threshold := v.limits.DailyLossLimit.Neg()
	if state.DailyPnL.LessThan(threshold) {
		return RiskViolation{
			Severity: SeverityCritical,
			Rule:     RuleDailyLoss,
			Message:  fmt.Sprintf("daily PnL %s breaches loss limit %s", state.DailyPnL, v.limits.DailyLossLimit),
		}, true
	}
	return RiskViolation{}, false
}

// checkConcentration implements rule 4 (Warning, not Critical).
func (v *Validator) checkConcentration(orderValue decimal.Decimal, state PortfolioState) (RiskViolation, bool) {
	if state.TotalEquity.Sign() <= 0 {
		return RiskViolation{}, false
	}
	pct := orderValue.Div(state.TotalEquity).Mul(decimal.NewFromInt(100))
	if pct.GreaterThan(v.limits.MaxConcentrationPct) {
		return RiskViolation{
			Severity: SeverityWarning,
			Rule:     RuleConcentration,
			Message:  fmt.Sprintf("order concentration %s%% exceeds max %s%%", pct.Round(2), v.limits.MaxConcentrationPct),
		}, true
	}
	return RiskViolation{}, false
}

// checkMarginRequirement implements rule 5.
func (v *Validator) checkMarginRequirement(orderValue decimal.Decimal, state PortfolioState) (RiskViolation, bool) {
	required := orderValue.Mul(v.limits.MinMarginRatio)
	if required.GreaterThan(state.AvailableMargin) {
		return RiskViolation{
			Severity: SeverityCritical,
			Rule:     RuleMarginRequired,
			Message:  fmt.Sprintf("required margin %s exceeds available %s", required.Round(2), state.AvailableMargin),
		}, true
	}
	return RiskViolation{}, false
}

// checkMaxOpenPositions implements rule 6 (Warning, not Critical).
func (v *Validator) checkMaxOpenPositions(order types.Order, state PortfolioState) (RiskViolation, bool) {
	if _, found := state.positionFor(order.Symbol); found {
		return RiskViolation{}, false // adding to an existing position never opens a new one
	}
	if len(state.Positions) >= v.limits.MaxOpenPositions {
		return RiskViolation{
			Severity: SeverityWarning,
			Rule:     RuleMaxOpenPos,
			Message:  fmt.Sprintf("opening %s would exceed max open positions (%d)", order.Symbol, v.limits.MaxOpenPositions),
		}, true
	}
	return RiskViolation{}, false
}

// ValidationFailedError is surfaced by the Order Manager when a submit
// carries any Critical violation (spec §7).
type ValidationFailedError struct {
	Violations []RiskViolation
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed with %d violation(s)", len(e.Violations))
}
