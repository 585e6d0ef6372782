// Package backtest implements the deterministic chronological Backtest
// Engine (spec §4.7, C9). Its shape — a single goroutine driving a
// strictly serial loop over a merged event stream — follows
// the teacher's engine.Engine orchestration, simplified: the live engine
// fans out across goroutines per market and a select loop over channels,
// because live feeds arrive concurrently and out of order; the backtest
// engine instead owns one sorted, already-merged stream and walks it
// single-threaded, which is what makes two runs byte-identical.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quanttrade/internal/costmodel"
	"quanttrade/internal/marketdata"
	"quanttrade/internal/portfolio"
	"quanttrade/internal/statemachine"
	"quanttrade/internal/strategy"
	"quanttrade/internal/types"
)

// PositionSizingMode selects how resolveQuantity sizes an order when the
// Strategy's Signal carries no SuggestedQuantity (spec §4.7, §6.6
// "position_sizing": fixed-qty or percent-of-equity).
type PositionSizingMode string

const (
	SizingFixed           PositionSizingMode = "fixed"
	SizingPercentOfEquity PositionSizingMode = "percent_of_equity"
)

// PositionSizing is the backtest's configured sizing policy.
type PositionSizing struct {
	Mode PositionSizingMode
	// FixedQty is used directly when Mode is SizingFixed.
	FixedQty types.Quantity
	// PercentOfEquity (e.g. 0.02 for 2%) is converted to a quantity at the
	// current mark price when Mode is SizingPercentOfEquity.
	PercentOfEquity decimal.Decimal
}

// Resolve computes the order quantity for a signal with no explicit
// SuggestedQuantity, given the portfolio's current total equity and the
// symbol's current price.
func (ps PositionSizing) Resolve(equity decimal.Decimal, price types.Price) types.Quantity {
	if ps.Mode != SizingPercentOfEquity {
		return ps.FixedQty
	}
	if price.Decimal().IsZero() {
		return types.ZeroQuantity()
	}
	notional := equity.Mul(ps.PercentOfEquity)
	qty, err := types.NewQuantity(notional.Div(price.Decimal()))
	if err != nil {
		return types.ZeroQuantity()
	}
	return qty
}

// Config parameterizes one backtest run.
type Config struct {
	Symbols         []types.Symbol
	Interval        types.Interval
	Start, End      time.Time
	InitialCapital  decimal.Decimal
	PositionSizing  PositionSizing // used when a Signal carries no SuggestedQuantity
	VolumeWindow    time.Duration  // 0 disables the trailing-volume average (Open Question 4)
}

// Result is everything the Result Aggregator (C10) needs.
type Result struct {
	Portfolio   *portfolio.Portfolio
	Trades      []types.Trade
	Fills       []portfolio.FillResult // parallel to Trades; realized PnL/close/entry-time per trade
	EquityCurve []portfolio.EquityPoint
}

// pendingLimit is a resting Limit order awaiting a crossing candle.
type pendingLimit struct {
	order   types.Order
	machine *statemachine.Machine
}

// Engine drives one deterministic backtest run.
type Engine struct {
	cfg       Config
	source    marketdata.Source
	strat     strategy.Strategy
	cost      *costmodel.Model
	portfolio *portfolio.Portfolio
	logger    *slog.Logger

	volumeTrackers map[string]*costmodel.TrailingVolumeTracker
	pending        map[string][]*pendingLimit // keyed by Symbol.String()
	trades         []types.Trade
	fills          []portfolio.FillResult // parallel to trades
}

// New creates a backtest Engine.
func New(cfg Config, source marketdata.Source, strat strategy.Strategy, cost *costmodel.Model, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:            cfg,
		source:         source,
		strat:          strat,
		cost:           cost,
		portfolio:      portfolio.New(cfg.InitialCapital),
		logger:         logger.With("component", "backtest.engine"),
		volumeTrackers: make(map[string]*costmodel.TrailingVolumeTracker),
		pending:        make(map[string][]*pendingLimit),
	}
}

// Run executes the full chronological replay and returns the Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	events, err := marketdata.LoadAll(ctx, e.source, e.cfg.Symbols, e.cfg.Interval, e.cfg.Start, e.cfg.End)
	if err != nil {
		return nil, err
	}

	if err := e.strat.Initialize(nil); err != nil {
		return nil, fmt.Errorf("strategy initialize: %w", err)
	}

	currentPrices := make(map[string]types.Price, len(e.cfg.Symbols))
	var lastTimestamp time.Time

	for _, ev := range events {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		candle := ev.Candle
		lastTimestamp = candle.Timestamp
		key := ev.Symbol.String()

		// (1) mark-to-market
		currentPrices[key] = candle.Close
		e.portfolio.UpdatePrices(currentPrices, candle.Timestamp)
		e.portfolio.RecordEquity(candle.Timestamp)
		e.trackVolume(key, candle)

		// (2) pending-order fill check
		e.evaluatePending(ev.Symbol, candle)

		// (3) strategy observation
		e.strat.OnMarketData(strategy.MarketEvent{Type: strategy.EventCandle, Symbol: ev.Symbol, Candle: &candle})

		// (4) signal execution
		signal := e.strat.GenerateSignal()
		if signal.Type == types.SignalHold {
			continue
		}
		if err := e.executeSignal(ev.Symbol, candle, signal); err != nil {
			e.logger.Warn("signal execution failed, treating as hold", "symbol", ev.Symbol, "error", err)
		}
	}

	if !lastTimestamp.IsZero() {
		e.portfolio.CloseAllAtMarket(lastTimestamp)
	}

	e.strat.Shutdown()

	return &Result{
		Portfolio:   e.portfolio,
		Trades:      e.trades,
		Fills:       e.fills,
		EquityCurve: e.portfolio.EquityCurve(),
	}, nil
}

func (e *Engine) trackVolume(key string, candle types.Candle) {
	tracker, ok := e.volumeTrackers[key]
	if !ok {
		tracker = costmodel.NewTrailingVolumeTracker(e.cfg.VolumeWindow)
		e.volumeTrackers[key] = tracker
	}
	tracker.Observe(candle.Timestamp, candle.Volume.Decimal())
}

func (e *Engine) avgVolume(key string, candle types.Candle) decimal.Decimal {
	tracker, ok := e.volumeTrackers[key]
	if !ok {
		return candle.Volume.Decimal()
	}
	return tracker.Average(candle.Volume.Decimal())
}

// evaluatePending fills resting Limit orders whose price the candle's
// [low, high] range crosses, at the limit price with zero slippage
// (spec §4.7 step 3c; maker fills never slip, per C7).
func (e *Engine) evaluatePending(symbol types.Symbol, candle types.Candle) {
	key := symbol.String()
	list := e.pending[key]
	if len(list) == 0 {
		return
	}

	remaining := list[:0]
	for _, p := range list {
		limitPrice := p.order.Price
		crossed := limitPrice != nil &&
			!limitPrice.GreaterThan(candle.High) &&
			!limitPrice.LessThan(candle.Low)

		if !crossed {
			remaining = append(remaining, p)
			continue
		}

		commission := e.cost.CalculateCommission(p.order.Type, *limitPrice, p.order.Quantity)
		fill := types.Fill{
			Symbol:     symbol,
			Side:       p.order.Side,
			Quantity:   p.order.Quantity,
			Price:      *limitPrice,
			Commission: commission,
			Timestamp:  candle.Timestamp,
		}
		fr, err := e.portfolio.ApplyFill(&p.order, fill)
		if err != nil {
			e.logger.Warn("pending limit fill rejected by portfolio", "order_id", p.order.ID, "error", err)
			continue
		}
		if err := p.order.ApplyFill(p.order.Quantity, *limitPrice, candle.Timestamp); err != nil {
			e.logger.Warn("order fill bookkeeping failed", "order_id", p.order.ID, "error", err)
		}
		_ = p.machine.Transition(statemachine.Filled, candle.Timestamp, "limit crossed", nil)

		e.recordTrade(p.order, fill, fr)
		e.strat.OnOrderFill(p.order)
	}
	e.pending[key] = remaining
}

// executeSignal translates a non-Hold Signal into an Order and either
// fills it synchronously (Market) or parks it for later crossing (Limit).
func (e *Engine) executeSignal(symbol types.Symbol, candle types.Candle, signal types.Signal) error {
	side, closeExisting, err := signalToSide(signal.Type)
	if err != nil {
		return err
	}

	qty := e.resolveQuantity(symbol, candle, signal, closeExisting)
	if qty.IsZero() {
		return nil
	}

	orderType := types.OrderMarket
	var limitPrice *types.Price
	if signal.TargetPrice != nil {
		orderType = types.OrderLimit
		limitPrice = signal.TargetPrice
	}

	builder := types.NewOrderBuilder(symbol, side, qty)
	if limitPrice != nil {
		builder = builder.WithLimitPrice(*limitPrice)
	}
	order := builder.Build(candle.Timestamp)
	machine := statemachine.New(candle.Timestamp)
	advanceToAcknowledged(machine, candle.Timestamp)

	if orderType == types.OrderMarket {
		key := symbol.String()
		execPrice, commission, slippage := e.cost.CalculateTotalCost(orderType, side, candle.Close, qty, e.avgVolume(key, candle))
		fill := types.Fill{
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			Price:      execPrice,
			Commission: commission,
			Slippage:   slippage,
			Timestamp:  candle.Timestamp,
		}
		fr, err := e.portfolio.ApplyFill(&order, fill)
		if err != nil {
			return err
		}
		if err := order.ApplyFill(qty, execPrice, candle.Timestamp); err != nil {
			return err
		}
		_ = machine.Transition(statemachine.Filled, candle.Timestamp, "market fill", nil)
		e.recordTrade(order, fill, fr)
		e.strat.OnOrderFill(order)
		return nil
	}

	key := symbol.String()
	e.pending[key] = append(e.pending[key], &pendingLimit{order: order, machine: machine})
	return nil
}

// advanceToAcknowledged drives a fresh Machine through the
// Created->Validated->Submitted->Acknowledged chain the backtest engine
// assumes for every order it accepts (no risk rejection or exchange
// rejection path exists in backtest mode).
func advanceToAcknowledged(m *statemachine.Machine, at time.Time) {
	_ = m.Transition(statemachine.Validated, at, "backtest accepts all orders", nil)
	_ = m.Transition(statemachine.Submitted, at, "backtest accepts all orders", nil)
	_ = m.Transition(statemachine.Acknowledged, at, "backtest accepts all orders", nil)
}

// resolveQuantity picks the order quantity: the signal's explicit
// suggestion, the full current position for a close signal, or the
// engine's configured position-sizing policy (spec §4.7 step 3f).
func (e *Engine) resolveQuantity(symbol types.Symbol, candle types.Candle, signal types.Signal, closeExisting bool) types.Quantity {
	if closeExisting {
		if pos, ok := e.portfolio.Position(symbol); ok {
			return pos.Quantity
		}
		return types.ZeroQuantity()
	}
	if signal.SuggestedQuantity != nil {
		return *signal.SuggestedQuantity
	}
	return e.cfg.PositionSizing.Resolve(e.portfolio.TotalEquity(), candle.Close)
}

func signalToSide(t types.SignalType) (side types.Side, closeExisting bool, err error) {
	switch t {
	case types.SignalBuy:
		return types.Buy, false, nil
	case types.SignalSell:
		return types.Sell, false, nil
	case types.SignalCloseLong:
		return types.Sell, true, nil
	case types.SignalCloseShort:
		return types.Buy, true, nil
	default:
		return "", false, fmt.Errorf("unsupported signal type %q", t)
	}
}

func (e *Engine) recordTrade(order types.Order, fill types.Fill, fr portfolio.FillResult) {
	trade := types.Trade{
		ID:            uuid.NewString(),
		ClientOrderID: order.ClientID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		OrderType:     order.Type,
		Quantity:      fill.Quantity,
		Price:         fill.Price,
		Commission:    fill.Commission,
		ExecutedAt:    fill.Timestamp,
	}
	if fr.IsClose {
		realized := fr.RealizedPnL
		trade.RealizedPnL = &realized
	}
	e.trades = append(e.trades, trade)
	e.fills = append(e.fills, fr)
}
