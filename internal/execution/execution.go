// Package execution implements the Execution Algorithms (spec §4.4, C6):
// TWAP and VWAP, both of which wrap a parent intent (total Quantity,
// Side, Symbol) as a series of child Orders submitted to the Order
// Manager and monitored via its OrderEvent stream. The monitor-the-event-
// stream-for-completion shape follows the teacher's strategy.Maker.Run —
// a ticker-driven select loop that reacts to trade/order channels rather
// than polling — generalized here to drive one parent execution instead
// of one market-maker's continuous quoting.
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/eventbus"
	"quanttrade/internal/risk"
	"quanttrade/internal/types"
)

// OrderSubmitter is the subset of the Order Manager's API an execution
// algorithm needs: submit a child order, cancel it if the parent is
// cancelled, and look it up for an ApplyFill-equivalent status read. It
// is declared narrowly here rather than imported from ordermanager so a
// test can supply a fake without any ordermanager dependency.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order types.Order, marketPrice types.Price, state risk.PortfolioState) (string, error)
	CancelOrder(ctx context.Context, internalID string) error
	GetOrder(internalID string) (types.Order, bool)
	SubscribeEvents() (<-chan eventbus.OrderEvent, func())
}

// PriceFunc returns the current reference price for a symbol, used to
// compute offset-adjusted limit prices and to supply the Risk Validator's
// marketPrice argument.
type PriceFunc func(symbol types.Symbol) (types.Price, error)

// StateFunc returns the current portfolio risk state, passed through to
// every child order's SubmitOrder call.
type StateFunc func() risk.PortfolioState

// SliceExecution is one child order's outcome (spec §4.4 step 4).
type SliceExecution struct {
	TargetQty    types.Quantity
	ExecutedQty  types.Quantity
	Price        types.Price
	Timestamp    time.Time
	Success      bool
	FailReason   string
}

// offsetPrice applies a basis-point offset to current, in the direction
// that favors the order's side (spec §4.4 step 3d): a Buy's limit sits
// below market, a Sell's sits above, so a passive order has room to earn
// the spread instead of crossing it immediately.
func offsetPrice(current types.Price, side types.Side, offsetBps int) (types.Price, error) {
	factor := decimal.NewFromInt(1)
	bps := decimal.NewFromInt(int64(offsetBps)).Div(decimal.NewFromInt(10000))
	if side == types.Sell {
		factor = factor.Add(bps)
	} else {
		factor = factor.Sub(bps)
	}
	return types.NewPrice(current.Decimal().Mul(factor))
}

// awaitTerminal blocks on the event stream for orderID to reach a
// terminal or partial-fill-observed outcome, or until ctx is cancelled
// (the per-slice timeout, spec §4.4 step 3e).
func awaitTerminal(ctx context.Context, events <-chan eventbus.OrderEvent, orderID string) (eventbus.OrderEvent, bool) {
	for {
		select {
		case <-ctx.Done():
			return eventbus.OrderEvent{}, false
		case evt, ok := <-events:
			if !ok {
				return eventbus.OrderEvent{}, false
			}
			if evt.OrderID != orderID {
				continue
			}
			switch evt.Type {
			case eventbus.EvOrderFilled, eventbus.EvOrderPartiallyFilled, eventbus.EvOrderRejected, eventbus.EvOrderFailed, eventbus.EvOrderCancelled, eventbus.EvOrderExpired:
				return evt, true
			}
		}
	}
}

// volumeWeightedAverage computes the quantity-weighted average price
// across a set of slice executions, skipping slices with zero executed
// quantity.
func volumeWeightedAverage(slices []SliceExecution) decimal.Decimal {
	var notional, qty decimal.Decimal
	for _, s := range slices {
		if s.ExecutedQty.IsZero() {
			continue
		}
		notional = notional.Add(s.Price.Decimal().Mul(s.ExecutedQty.Decimal()))
		qty = qty.Add(s.ExecutedQty.Decimal())
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}
