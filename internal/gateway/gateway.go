// Package gateway implements the ExchangeGateway abstraction (spec §6.1)
// consumed by the Order Manager: submit, cancel, query, and an optional
// push stream of order updates. The core depends only on the Gateway
// interface; RESTGateway is one concrete implementation, adapted from the
// teacher's internal/exchange.Client (resty client with retry, rate
// limiting, and a dry-run mode), generalized from Polymarket's
// EIP-712-signed CLOB orders to plain REST submit/cancel/query against a
// generic symbol/side/quantity/price order shape.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quanttrade/internal/types"
)

// ErrorCategory distinguishes retryable from terminal gateway failures
// (spec §6.1: "Errors are categorized by the gateway as Transient
// (retryable) or Permanent (terminal for the order)").
type ErrorCategory string

const (
	Transient ErrorCategory = "TRANSIENT"
	Permanent ErrorCategory = "PERMANENT"
)

// Error wraps an underlying failure with its retry category so the Order
// Manager can branch with errors.As instead of string matching.
type Error struct {
	Category ErrorCategory
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s: %s: %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a gateway Error categorized as
// Transient. A nil or uncategorized error is not transient.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == Transient
}

// OrderSnapshot is the exchange's view of one order, returned by Query and
// by the optional push stream (spec §6.1).
type OrderSnapshot struct {
	ExchangeID     string
	Status         RemoteStatus
	FilledQuantity types.Quantity
	AvgFillPrice   *types.Price
	RejectReason   string
	Timestamp      time.Time
}

// RemoteStatus is the exchange-reported order status, coarser than the
// core's own OrderStateMachine — reconciliation maps it onto a State
// transition.
type RemoteStatus string

const (
	RemoteOpen      RemoteStatus = "OPEN"
	RemotePartial   RemoteStatus = "PARTIALLY_FILLED"
	RemoteFilled    RemoteStatus = "FILLED"
	RemoteCancelled RemoteStatus = "CANCELLED"
	RemoteRejected  RemoteStatus = "REJECTED"
	RemoteNotFound  RemoteStatus = "NOT_FOUND"
)

// SubmitRequest carries the fields a gateway needs to place an order. It
// is a narrow projection of types.Order rather than the Order itself, so
// a gateway implementation never depends on internal order bookkeeping
// fields (FilledQuantity, Status, state-machine history).
type SubmitRequest struct {
	ClientID string
	Symbol   types.Symbol
	Side     types.Side
	Type     types.OrderType
	Quantity types.Quantity
	Price    *types.Price
}

// Gateway is the ExchangeGateway abstraction (spec §6.1). All operations
// are fallible; failures are *Error values carrying a retry category.
type Gateway interface {
	// Submit places a new order and returns the exchange-assigned id.
	Submit(ctx context.Context, req SubmitRequest) (exchangeID string, err error)

	// Cancel requests cancellation of a previously submitted order. It
	// returns a Permanent *Error if the order is already terminal at the
	// exchange.
	Cancel(ctx context.Context, exchangeID string) error

	// Query fetches the exchange's current view of one order, used by the
	// reconciliation loop.
	Query(ctx context.Context, exchangeID string) (OrderSnapshot, error)

	// StreamOrderUpdates returns a channel of push updates, or nil if this
	// gateway has no push channel (spec §6.1: "if absent, reconciliation
	// handles everything by polling"). The channel is closed when ctx is
	// cancelled or the underlying connection ends for good.
	StreamOrderUpdates(ctx context.Context) (<-chan OrderSnapshot, error)
}
