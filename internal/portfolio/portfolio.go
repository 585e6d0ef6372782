// Package portfolio implements the backtest's cash/position/PnL simulator
// (spec §4.6). It adapts the teacher's strategy.Inventory — which tracked
// a single market's YES/NO token weighted-average entry price and
// realized PnL in float64 — into a generic per-Symbol Position ledger in
// decimal.Decimal, long and short symmetric, with cash accounting and an
// equity curve the backtest replays against.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/types"
)

// InsufficientCashError is returned by ApplyFill when a buy would exceed
// available cash (spec §7).
type InsufficientCashError struct {
	Required decimal.Decimal
	Cash     decimal.Decimal
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("insufficient cash: required %s, have %s", e.Required, e.Cash)
}

// InsufficientPositionError is returned by ApplyFill when a sell exceeds
// the held position quantity (spec §7).
type InsufficientPositionError struct {
	Requested types.Quantity
	Held      types.Quantity
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("insufficient position: requested %s, held %s", e.Requested, e.Held)
}

// EquityPoint is one sample on the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// FillResult reports what a fill did to the position it was applied
// against, so the caller can attribute realized PnL and holding duration
// to the Trade record it builds (spec §4.8 trade stats need both; the
// Portfolio is the only thing that knows a fill's entry price and entry
// time). IsClose is false, and RealizedPnL/EntryTime are zero, for a fill
// that only opened or added to a position.
type FillResult struct {
	RealizedPnL decimal.Decimal
	IsClose     bool
	EntryTime   time.Time
}

// Portfolio is the backtest's cash/position/PnL ledger. Safe for
// concurrent use, though the backtest engine drives it single-threaded by
// contract (spec §4.7 determinism).
type Portfolio struct {
	mu sync.RWMutex

	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*types.Position // keyed by Symbol.String()

	realizedPnL     decimal.Decimal
	totalCommission decimal.Decimal
	totalSlippage   decimal.Decimal

	equityCurve []EquityPoint
}

// New creates a Portfolio starting with initialCapital in cash and no
// open positions.
func New(initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*types.Position),
	}
}

// ApplyFill validates and applies a Fill against the current order,
// updating cash, positions, realized PnL, and cost totals. It returns a
// FillResult describing any realized PnL the fill produced, for the
// caller to attribute to the Trade record it builds (spec §4.8).
func (p *Portfolio) ApplyFill(order *types.Order, fill types.Fill) (FillResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fill.Symbol.String()
	pos, held := p.positions[key]

	var (
		fr  FillResult
		err error
	)
	switch {
	case fill.Side == types.Buy && (!held || pos.Side != types.PositionShort):
		fr, err = p.applyBuyLocked(key, pos, held, fill)
	case fill.Side == types.Sell && held && pos.Side == types.PositionLong:
		fr, err = p.applySellLongLocked(key, pos, fill)
	case fill.Side == types.Sell:
		fr, err = p.applyOpenOrAddShortLocked(key, pos, held, fill)
	default:
		fr, err = p.applyCloseShortLocked(key, pos, fill)
	}
	if err != nil {
		return FillResult{}, err
	}
	p.totalCommission = p.totalCommission.Add(fill.Commission)
	p.totalSlippage = p.totalSlippage.Add(fill.Slippage)
	return fr, nil
}

func (p *Portfolio) applyBuyLocked(key string, pos *types.Position, held bool, fill types.Fill) (FillResult, error) {
	notional := fill.Price.Decimal().Mul(fill.Quantity.Decimal())
	required := notional.Add(fill.Commission)
	if p.cash.LessThan(required) {
		return FillResult{}, &InsufficientCashError{Required: required, Cash: p.cash}
	}

	if held && pos.Side == types.PositionShort {
		// Buying back a short: realize PnL, reduce or flip the short.
		return p.reduceShortLocked(key, pos, fill)
	}

	p.cash = p.cash.Sub(required)

	if !held {
		pos = &types.Position{
			Symbol:        fill.Symbol,
			Side:          types.PositionLong,
			Quantity:      fill.Quantity,
			AvgEntryPrice: fill.Price,
			CurrentPrice:  fill.Price,
			OpenedAt:      fill.Timestamp,
			LastUpdated:   fill.Timestamp,
		}
		p.positions[key] = pos
		return FillResult{}, nil
	}

	newQty := pos.Quantity.Add(fill.Quantity)
	weightedAvg := pos.AvgEntryPrice.Decimal().Mul(pos.Quantity.Decimal()).
		Add(fill.Price.Decimal().Mul(fill.Quantity.Decimal())).
		Div(newQty.Decimal())
	if avgPrice, err := types.NewPrice(weightedAvg); err == nil {
		pos.AvgEntryPrice = avgPrice
	}
	pos.Quantity = newQty
	pos.LastUpdated = fill.Timestamp
	return FillResult{}, nil
}

func (p *Portfolio) applySellLongLocked(key string, pos *types.Position, fill types.Fill) (FillResult, error) {
	if fill.Quantity.GreaterThan(pos.Quantity) {
		return FillResult{}, &InsufficientPositionError{Requested: fill.Quantity, Held: pos.Quantity}
	}

	tradeRealized := fill.Price.Decimal().Sub(pos.AvgEntryPrice.Decimal()).Mul(fill.Quantity.Decimal())
	proceeds := fill.Price.Decimal().Mul(fill.Quantity.Decimal()).Sub(fill.Commission)
	entryTime := pos.OpenedAt

	p.cash = p.cash.Add(proceeds)
	p.realizedPnL = p.realizedPnL.Add(tradeRealized)
	pos.RealizedPnL = pos.RealizedPnL.Add(tradeRealized)

	remaining, _ := pos.Quantity.Sub(fill.Quantity)
	pos.Quantity = remaining
	pos.LastUpdated = fill.Timestamp
	if pos.IsClosed() {
		delete(p.positions, key)
	}
	return FillResult{RealizedPnL: tradeRealized, IsClose: true, EntryTime: entryTime}, nil
}

// applyOpenOrAddShortLocked handles a Sell that opens a new short or adds
// to an existing one (short positions are handled symmetrically to longs,
// per spec §4.6).
func (p *Portfolio) applyOpenOrAddShortLocked(key string, pos *types.Position, held bool, fill types.Fill) (FillResult, error) {
	proceeds := fill.Price.Decimal().Mul(fill.Quantity.Decimal()).Sub(fill.Commission)
	p.cash = p.cash.Add(proceeds)

	if !held {
		pos = &types.Position{
			Symbol:        fill.Symbol,
			Side:          types.PositionShort,
			Quantity:      fill.Quantity,
			AvgEntryPrice: fill.Price,
			CurrentPrice:  fill.Price,
			OpenedAt:      fill.Timestamp,
			LastUpdated:   fill.Timestamp,
		}
		p.positions[key] = pos
		return FillResult{}, nil
	}

	newQty := pos.Quantity.Add(fill.Quantity)
	weightedAvg := pos.AvgEntryPrice.Decimal().Mul(pos.Quantity.Decimal()).
		Add(fill.Price.Decimal().Mul(fill.Quantity.Decimal())).
		Div(newQty.Decimal())
	if avgPrice, err := types.NewPrice(weightedAvg); err == nil {
		pos.AvgEntryPrice = avgPrice
	}
	pos.Quantity = newQty
	pos.LastUpdated = fill.Timestamp
	return FillResult{}, nil
}

// applyCloseShortLocked handles a Buy that reduces or closes an existing short.
func (p *Portfolio) applyCloseShortLocked(key string, pos *types.Position, fill types.Fill) (FillResult, error) {
	return p.reduceShortLocked(key, pos, fill)
}

func (p *Portfolio) reduceShortLocked(key string, pos *types.Position, fill types.Fill) (FillResult, error) {
	if fill.Quantity.GreaterThan(pos.Quantity) {
		return FillResult{}, &InsufficientPositionError{Requested: fill.Quantity, Held: pos.Quantity}
	}

	tradeRealized := pos.AvgEntryPrice.Decimal().Sub(fill.Price.Decimal()).Mul(fill.Quantity.Decimal())
	cost := fill.Price.Decimal().Mul(fill.Quantity.Decimal()).Add(fill.Commission)
	if p.cash.LessThan(cost) {
		return FillResult{}, &InsufficientCashError{Required: cost, Cash: p.cash}
	}
	entryTime := pos.OpenedAt

	p.cash = p.cash.Sub(cost)
	p.realizedPnL = p.realizedPnL.Add(tradeRealized)
	pos.RealizedPnL = pos.RealizedPnL.Add(tradeRealized)

	remaining, _ := pos.Quantity.Sub(fill.Quantity)
	pos.Quantity = remaining
	pos.LastUpdated = fill.Timestamp
	if pos.IsClosed() {
		delete(p.positions, key)
	}
	return FillResult{RealizedPnL: tradeRealized, IsClose: true, EntryTime: entryTime}, nil
}

// UpdatePrices sets CurrentPrice on every held Position and recomputes
// unrealized PnL. Does not write to the equity curve.
func (p *Portfolio) UpdatePrices(prices map[string]types.Price, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, pos := range p.positions {
		if price, ok := prices[key]; ok {
			pos.CurrentPrice = price
			pos.RecomputeUnrealized()
			pos.LastUpdated = at
		}
	}
}

// RecordEquity appends (timestamp, total_equity) to the equity curve.
func (p *Portfolio) RecordEquity(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.equityCurve = append(p.equityCurve, EquityPoint{Timestamp: at, Equity: p.totalEquityLocked()})
}

func (p *Portfolio) totalEquityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		sign := decimal.NewFromInt(pos.Side.Sign())
		value := sign.Mul(pos.Quantity.Decimal()).Mul(pos.CurrentPrice.Decimal())
		equity = equity.Add(value)
	}
	return equity
}

// TotalEquity returns cash + sum(position notional, signed by side).
func (p *Portfolio) TotalEquity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalEquityLocked()
}

// UnrealizedPnL sums unrealized PnL across all open positions.
func (p *Portfolio) UnrealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// TotalPnL returns realized + unrealized PnL.
func (p *Portfolio) TotalPnL() decimal.Decimal {
	return p.RealizedPnL().Add(p.UnrealizedPnL())
}

// RealizedPnL returns cumulative realized PnL from closed trades.
func (p *Portfolio) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// ReturnPct returns (total_equity - initial_capital) / initial_capital.
func (p *Portfolio) ReturnPct() decimal.Decimal {
	if p.initialCapital.Sign() == 0 {
		return decimal.Zero
	}
	return p.TotalEquity().Sub(p.initialCapital).Div(p.initialCapital)
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Positions returns a snapshot copy of all currently open positions.
func (p *Portfolio) Positions() []types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// Position returns a copy of the held position for sym, if any.
func (p *Portfolio) Position(sym types.Symbol) (types.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[sym.String()]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// EquityCurve returns a copy of the recorded equity curve.
func (p *Portfolio) EquityCurve() []EquityPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]EquityPoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// TotalCommission returns cumulative commission paid.
func (p *Portfolio) TotalCommission() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalCommission
}

// TotalSlippage returns cumulative slippage cost.
func (p *Portfolio) TotalSlippage() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalSlippage
}

// CloseAllAtMarket closes every open position at its current mark price,
// used by the backtest engine's end-of-stream finalization (spec §4.7).
func (p *Portfolio) CloseAllAtMarket(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, pos := range p.positions {
		sign := decimal.NewFromInt(pos.Side.Sign())
		tradeRealized := sign.Mul(pos.CurrentPrice.Decimal().Sub(pos.AvgEntryPrice.Decimal())).Mul(pos.Quantity.Decimal())
		notional := pos.Quantity.Decimal().Mul(pos.CurrentPrice.Decimal())
		if pos.Side == types.PositionShort {
			p.cash = p.cash.Sub(notional)
		} else {
			p.cash = p.cash.Add(notional)
		}
		p.realizedPnL = p.realizedPnL.Add(tradeRealized)
		delete(p.positions, key)
	}
	p.equityCurve = append(p.equityCurve, EquityPoint{Timestamp: at, Equity: p.cash})
}
