// Package eventbus provides a generic, drop-counting many-producer/
// one-consumer-per-subscriber fan-out hub.
//
// It generalizes the teacher's WebSocket broadcast hub
// (internal/api.Hub / internal/api.Client in the retrieved Polymarket
// market-maker): register/unregister a subscriber, broadcast to all of
// them, and if a subscriber's buffer is full, drop the event for that
// subscriber rather than block the producer. The original hub pushed
// JSON frames over a socket; this one pushes typed OrderEvent values
// over a plain buffered channel, since the trading core has no built-in
// transport of its own — delivery to a UI, a Kafka topic, or anything
// else is an external adapter's job.
package eventbus

import (
	"log/slog"
	"sync"

	"quanttrade/internal/types"
)

// OrderEventType enumerates the OrderEvent sum type (spec §6.4).
type OrderEventType string

const (
	EvOrderCreated         OrderEventType = "OrderCreated"
	EvOrderSubmitted       OrderEventType = "OrderSubmitted"
	EvOrderAcknowledged    OrderEventType = "OrderAcknowledged"
	EvOrderPartiallyFilled OrderEventType = "OrderPartiallyFilled"
	EvOrderFilled          OrderEventType = "OrderFilled"
	EvOrderCancelled       OrderEventType = "OrderCancelled"
	EvOrderRejected        OrderEventType = "OrderRejected"
	EvOrderFailed          OrderEventType = "OrderFailed"
	EvOrderExpired         OrderEventType = "OrderExpired"
)

// OrderEvent carries the internal order id, the exchange id (when known),
// a timestamp, and variant-specific fields. It is a single flat struct
// rather than a tagged union of distinct Go types so that a subscriber's
// channel can be of one concrete type; callers switch on Type.
type OrderEvent struct {
	Type       OrderEventType
	OrderID    string
	ExchangeID string
	Timestamp  int64 // unix nanos; avoids importing time into hot broadcast path

	Reason         string           // set for Rejected/Failed/Expired
	FilledQuantity *types.Quantity  // set for PartiallyFilled/Filled
	AvgFillPrice   *types.Price     // set for PartiallyFilled/Filled
}

// Hub fans OrderEvents out to any number of subscribers. A subscriber that
// falls behind (its channel fills up) has events dropped for it; the drop
// is counted, never silent, and never blocks the producer or other
// subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
	dropped     uint64
	logger      *slog.Logger
}

type subscriber struct {
	ch chan OrderEvent
}

// NewHub creates a hub whose subscriber channels are each buffered to
// bufferSize (spec §4.3: "configurable buffer, default large enough to
// absorb a full reconciliation cycle").
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "eventbus"),
	}
}

// Subscribe registers a new subscriber and returns a receive-only channel
// and an unsubscribe function. The channel is never closed by Publish;
// callers must call unsubscribe when done to release it.
func (h *Hub) Subscribe() (<-chan OrderEvent, func()) {
	sub := &subscriber{ch: make(chan OrderEvent, h.bufferSize)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[sub]; ok {
			delete(h.subscribers, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish delivers evt to every current subscriber, non-blocking. A
// subscriber whose buffer is full has the event dropped for it and the
// hub's DroppedCount incremented.
func (h *Hub) Publish(evt OrderEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		select {
		case sub.ch <- evt:
		default:
			h.dropped++
			h.logger.Warn("event bus subscriber buffer full, dropping event",
				"event_type", evt.Type, "order_id", evt.OrderID)
		}
	}
}

// DroppedCount returns the cumulative number of events dropped across all
// subscribers since the hub was created.
func (h *Hub) DroppedCount() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// SubscriberCount returns the number of currently-registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
