package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an Order or Position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PositionSide distinguishes a Position's directional exposure. Net is
// used for spot books that don't separate long/short (e.g. a single
// accumulated inventory that can flip sign).
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionNet   PositionSide = "NET"
)

// Sign returns the PnL sign convention for a PositionSide (spec §3:
// sign(Long)=+1, sign(Short)=-1, sign(Net)=+1).
func (s PositionSide) Sign() int64 {
	if s == PositionShort {
		return -1
	}
	return 1
}

// OrderType enumerates every order type the core understands.
type OrderType string

const (
	OrderMarket       OrderType = "MARKET"
	OrderLimit        OrderType = "LIMIT"
	OrderPostOnly     OrderType = "POST_ONLY"
	OrderIOC          OrderType = "IOC"
	OrderFOK          OrderType = "FOK"
	OrderStopLoss     OrderType = "STOP_LOSS"
	OrderTakeProfit   OrderType = "TAKE_PROFIT"
	OrderTrailingStop OrderType = "TRAILING_STOP"
	OrderIceberg      OrderType = "ICEBERG"
)

// RequiresPrice reports whether this order type must carry a requested
// price (every type except Market, per spec §3).
func (t OrderType) RequiresPrice() bool { return t != OrderMarket }

// IsMaker reports whether this order type rests on the book when it fills
// passively. Used by the cost model (C7) to pick the commission rate.
func (t OrderType) IsMaker() bool {
	return t == OrderLimit || t == OrderPostOnly
}

// OrderStatus is the coarse lifecycle status carried on Order itself,
// distinct from (but driven by) the fine-grained OrderStateMachine state.
type OrderStatus string

const (
	StatusCreated   OrderStatus = "CREATED"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusFailed    OrderStatus = "FAILED"
)

// IsTerminal reports whether this coarse status is final.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Order tracks a single order from creation to terminal disposition.
// It is owned exclusively by one subsystem at a time (the Order Manager in
// live mode, the Backtest Engine in backtest mode); external observers
// receive copies via events, never a live reference.
type Order struct {
	ID           string  // internal id (uuid)
	ExchangeID   string  // assigned once acknowledged; empty until then
	ClientID     string  // opaque, unique across the run
	StrategyID   string
	Symbol       Symbol
	Side         Side
	Type         OrderType
	Quantity     Quantity
	Price        *Price // required for all non-Market types

	FilledQuantity Quantity
	AvgFillPrice   Price

	Status       OrderStatus
	RejectReason string

	CreatedAt        time.Time
	SubmittedAt      *time.Time
	FirstFillAt      *time.Time
	CompletedAt      *time.Time
	FirstFillLatency *time.Duration
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() Quantity {
	r, err := o.Quantity.Sub(o.FilledQuantity)
	if err != nil {
		// FilledQuantity must never exceed Quantity; a violation here is a
		// programming error upstream, not a recoverable runtime condition.
		return ZeroQuantity()
	}
	return r
}

// IsTerminal reports whether the order's coarse status is final.
func (o *Order) IsTerminal() bool { return o.Status.IsTerminal() }

// ApplyFill merges a fill into the order's aggregate fill state: updates
// FilledQuantity, recomputes the volume-weighted AvgFillPrice, advances
// Status to Partial or Filled, and — on the very first fill — stamps
// FirstFillAt/FirstFillLatency. Callers are responsible for driving the
// OrderStateMachine transition alongside this call.
func (o *Order) ApplyFill(fillQty Quantity, fillPrice Price, now time.Time) error {
	newFilled := o.FilledQuantity.Add(fillQty)
	if newFilled.GreaterThan(o.Quantity) {
		return newErr(ErrInvalidQuantity, "fill would overfill order %s: filled=%s + %s > qty=%s",
			o.ID, o.FilledQuantity, fillQty, o.Quantity)
	}

	if o.FirstFillAt == nil {
		t := now
		o.FirstFillAt = &t
		if o.SubmittedAt != nil {
			lat := now.Sub(*o.SubmittedAt)
			o.FirstFillLatency = &lat
		}
	}

	// Volume-weighted average fill price across all fills so far.
	prevNotional := o.AvgFillPrice.Decimal().Mul(o.FilledQuantity.Decimal())
	addNotional := fillPrice.Decimal().Mul(fillQty.Decimal())
	o.FilledQuantity = newFilled
	if !newFilled.IsZero() {
		avg := prevNotional.Add(addNotional).Div(newFilled.Decimal())
		if p, err := NewPrice(avg); err == nil {
			o.AvgFillPrice = p
		}
	}

	if o.FilledQuantity.Equal(o.Quantity) {
		o.Status = StatusFilled
		t := now
		o.CompletedAt = &t
	} else {
		o.Status = StatusPartial
	}
	return nil
}

// OrderBuilder assembles a fresh Order, generating its ID/ClientID and
// stamping CreatedAt so every call site that constructs a child or
// simulated order (execution algorithms' slices, the backtest engine's
// synthesized orders) doesn't repeat that field wiring. Grounded on the
// teacher's Client.buildOrderPayload, which centralized the same kind of
// repeated order-assembly boilerplate for its wire format.
type OrderBuilder struct {
	order Order
}

// NewOrderBuilder starts a builder for a Market order on symbol/side/qty,
// the common case; WithLimitPrice switches it to Limit.
func NewOrderBuilder(symbol Symbol, side Side, quantity Quantity) OrderBuilder {
	return OrderBuilder{order: Order{
		ID:       uuid.NewString(),
		ClientID: uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Type:     OrderMarket,
		Quantity: quantity,
		Status:   StatusCreated,
	}}
}

// WithLimitPrice sets the order to Limit at the given price.
func (b OrderBuilder) WithLimitPrice(price Price) OrderBuilder {
	b.order.Type = OrderLimit
	b.order.Price = &price
	return b
}

// WithType overrides the order type set by NewOrderBuilder/WithLimitPrice,
// for callers that need a non-Market, non-plain-Limit type (e.g. PostOnly,
// IOC) while still supplying a price via WithLimitPrice.
func (b OrderBuilder) WithType(t OrderType) OrderBuilder {
	b.order.Type = t
	return b
}

// WithStrategyID tags the order with its originating strategy/algorithm.
func (b OrderBuilder) WithStrategyID(id string) OrderBuilder {
	b.order.StrategyID = id
	return b
}

// Build stamps CreatedAt and returns the finished Order.
func (b OrderBuilder) Build(createdAt time.Time) Order {
	b.order.CreatedAt = createdAt
	return b.order
}

// Position is a strategy's holding in one Symbol.
type Position struct {
	ID       string
	Strategy string
	Symbol   Symbol
	Side     PositionSide
	Quantity Quantity

	AvgEntryPrice Price
	CurrentPrice  Price

	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal

	Margin           *decimal.Decimal
	Leverage         *decimal.Decimal
	LiquidationPrice *Price

	OpenedAt    time.Time
	LastUpdated time.Time
}

// IsClosed reports whether the position has been fully closed (spec §3:
// quantity = 0 iff closed).
func (p *Position) IsClosed() bool { return p.Quantity.IsZero() }

// RecomputeUnrealized recomputes UnrealizedPnL from CurrentPrice per the
// spec invariant: sign(Side) * (current - avg_entry) * quantity.
func (p *Position) RecomputeUnrealized() {
	diff := p.CurrentPrice.Decimal().Sub(p.AvgEntryPrice.Decimal())
	sign := decimal.NewFromInt(p.Side.Sign())
	p.UnrealizedPnL = sign.Mul(diff).Mul(p.Quantity.Decimal())
}

// Trade is a completed execution record.
type Trade struct {
	ID             string
	ExchangeID     string
	ClientOrderID  string
	StrategyID     string
	Symbol         Symbol
	Side           Side
	OrderType      OrderType
	Quantity       Quantity
	Price          Price
	Commission     decimal.Decimal
	CommissionAsset string
	RealizedPnL    *decimal.Decimal
	SlippageBps    *decimal.Decimal
	ExecutedAt     time.Time
	LatencyMs      *int64
}

// TradeValue returns price * quantity, exact (no rounding drift).
func (t *Trade) TradeValue() decimal.Decimal { return t.Price.Decimal().Mul(t.Quantity.Decimal()) }

// NetValue returns trade value adjusted for commission: minus on buy,
// plus on sell.
func (t *Trade) NetValue() decimal.Decimal {
	v := t.TradeValue()
	if t.Side == Buy {
		return v.Sub(t.Commission)
	}
	return v.Add(t.Commission)
}

// EffectivePrice returns NetValue / Quantity.
func (t *Trade) EffectivePrice() decimal.Decimal {
	if t.Quantity.IsZero() {
		return decimal.Zero
	}
	return t.NetValue().Div(t.Quantity.Decimal())
}

// SignalType enumerates the Strategy-emitted signal kinds.
type SignalType string

const (
	SignalBuy        SignalType = "BUY"
	SignalSell       SignalType = "SELL"
	SignalHold       SignalType = "HOLD"
	SignalCloseLong  SignalType = "CLOSE_LONG"
	SignalCloseShort SignalType = "CLOSE_SHORT"
)

// Signal is emitted by a Strategy to express trading intent.
type Signal struct {
	Type              SignalType
	Confidence         float64 // [0, 1]
	TargetPrice        *Price
	StopLossPrice      *Price
	TakeProfitPrice    *Price
	SuggestedQuantity  *Quantity
	Metadata           map[string]string
}

// Fill is a transient execution event produced during backtest simulation
// that feeds the Portfolio simulator.
type Fill struct {
	Symbol     Symbol
	Side       Side
	Quantity   Quantity
	Price      Price
	Commission decimal.Decimal
	Slippage   decimal.Decimal
	Timestamp  time.Time
}

// Candle is an aggregated OHLCV market summary over a fixed interval.
type Candle struct {
	Symbol    Symbol
	Timestamp time.Time
	Open      Price
	High      Price
	Low       Price
	Close     Price
	Volume    Quantity
}

// Interval is a discrete candle aggregation period.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Duration returns the wall-clock span of one candle at this interval.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
