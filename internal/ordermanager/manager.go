package ordermanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quanttrade/internal/eventbus"
	"quanttrade/internal/gateway"
	"quanttrade/internal/risk"
	"quanttrade/internal/statemachine"
	"quanttrade/internal/types"
)

// Config tunes the Order Manager's async submission, reconciliation, and
// event-stream behavior (spec §6.6).
type Config struct {
	OrderTimeout             time.Duration // reconciliation expiry threshold per order
	ReconciliationInterval   time.Duration // how often the reconciliation loop ticks
	MaxSubmitRetries         int           // cap on exchange-submit retries
	RetryBackoff             time.Duration // base for exponential backoff
	EventBufferSize          int           // drop threshold for the order-event stream
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		OrderTimeout:           60 * time.Second,
		ReconciliationInterval: 10 * time.Second,
		MaxSubmitRetries:       3,
		RetryBackoff:           500 * time.Millisecond,
		EventBufferSize:        256,
	}
}

// ManagedOrder bundles an Order with its owning state machine and the
// Order Manager's own bookkeeping (spec §4.3: "ManagedOrder = (Order,
// OrderStateMachine, retry_count, last_sync_timestamp)").
type ManagedOrder struct {
	mu             sync.RWMutex
	Order          types.Order
	Machine        *statemachine.Machine
	RetryCount     int
	LastSyncAt     time.Time
}

func (m *ManagedOrder) snapshot() types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Order
}

// Manager is the authoritative in-memory registry of live orders (C5). It
// owns the Created→...→terminal progression via a Gateway, reconciles
// with the exchange, and emits lifecycle events through an eventbus.Hub.
//
// Locking follows the teacher's maker.go discipline: the registry map is
// guarded by a shared-reader/exclusive-writer lock; each ManagedOrder has
// its own lock for in-place mutation; no lock is ever held across a
// Gateway call (spec §5: "No order entry is ever held across a long
// network call").
type Manager struct {
	cfg       Config
	gw        gateway.Gateway
	validator *risk.Validator
	hub       *eventbus.Hub
	store     *Store
	logger    *slog.Logger

	regMu         sync.RWMutex
	registry      map[string]*ManagedOrder // internal id -> order
	exchangeIndex map[string]string        // exchange id -> internal id
}

// New creates a Manager. store may be nil to disable persistence.
func New(cfg Config, gw gateway.Gateway, validator *risk.Validator, hub *eventbus.Hub, store *Store, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		gw:            gw,
		validator:     validator,
		hub:           hub,
		store:         store,
		logger:        logger.With("component", "ordermanager"),
		registry:      make(map[string]*ManagedOrder),
		exchangeIndex: make(map[string]string),
	}
}

// Resume reloads every persisted non-terminal order from the Store into
// the registry (spec §6.5: resume after restart). Call once at startup,
// before accepting new submissions.
func (m *Manager) Resume() error {
	if m.store == nil {
		return nil
	}
	managed, err := m.store.LoadAll()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	m.regMu.Lock()
	defer m.regMu.Unlock()
	for _, mo := range managed {
		m.registry[mo.Order.ID] = mo
		if mo.Order.ExchangeID != "" {
			m.exchangeIndex[mo.Order.ExchangeID] = mo.Order.ID
		}
	}
	m.logger.Info("resumed orders from persisted state", "count", len(managed))
	return nil
}

// SubmitOrder validates and registers a new order, then starts its
// asynchronous submission. Returns the internal id immediately; the
// caller observes subsequent lifecycle transitions via SubscribeEvents.
func (m *Manager) SubmitOrder(ctx context.Context, order types.Order, marketPrice types.Price, state risk.PortfolioState) (string, error) {
	now := time.Now()
	machine := statemachine.New(now)

	result := m.validator.Validate(order, marketPrice, state)
	if result.HasCriticalViolations() {
		_ = machine.Transition(statemachine.Rejected, now, "critical risk violation", nil)
		order.Status = types.StatusRejected
		order.RejectReason = "risk validation failed"
		m.publish(eventbus.OrderEvent{
			Type:      eventbus.EvOrderRejected,
			OrderID:   order.ID,
			Timestamp: now.UnixNano(),
			Reason:    "risk validation failed",
		})
		return "", &risk.ValidationFailedError{Violations: result.Violations}
	}

	if err := machine.Transition(statemachine.Validated, now, "risk validation passed", nil); err != nil {
		return "", err
	}

	managed := &ManagedOrder{Order: order, Machine: machine, LastSyncAt: now}
	m.regMu.Lock()
	m.registry[order.ID] = managed
	m.regMu.Unlock()
	m.persist(managed)

	m.publish(eventbus.OrderEvent{Type: eventbus.EvOrderCreated, OrderID: order.ID, Timestamp: now.UnixNano()})

	go m.submitAsync(ctx, managed)

	return order.ID, nil
}

func (m *Manager) submitAsync(ctx context.Context, managed *ManagedOrder) {
	now := time.Now()

	managed.mu.Lock()
	if err := managed.Machine.Transition(statemachine.Submitted, now, "submitting to exchange", nil); err != nil {
		managed.mu.Unlock()
		m.logger.Error("cannot transition to submitted", "order_id", managed.Order.ID, "error", err)
		return
	}
	managed.Order.Status = types.StatusSubmitted
	managed.Order.SubmittedAt = &now
	req := gateway.SubmitRequest{
		ClientID: managed.Order.ClientID,
		Symbol:   managed.Order.Symbol,
		Side:     managed.Order.Side,
		Type:     managed.Order.Type,
		Quantity: managed.Order.Quantity,
		Price:    managed.Order.Price,
	}
	managed.mu.Unlock()
	m.persist(managed)
	m.publish(eventbus.OrderEvent{Type: eventbus.EvOrderSubmitted, OrderID: managed.Order.ID, Timestamp: now.UnixNano()})

	// No lock held across the network call (spec §5). A Transient error
	// is retried with exponential backoff up to MaxSubmitRetries, after
	// which the order is marked Failed (an infrastructure-level failure,
	// not an exchange decision). A Permanent error is the exchange itself
	// rejecting the order, so the order is marked Rejected instead.
	var exchangeID string
	retries := 0
	for {
		var err error
		exchangeID, err = m.gw.Submit(ctx, req)
		if err == nil {
			break
		}
		if !gateway.IsTransient(err) {
			m.rejectSubmission(managed, retries, err)
			return
		}
		if retries >= m.cfg.MaxSubmitRetries {
			m.failSubmission(managed, retries, err)
			return
		}
		retries++
		backoff := m.cfg.RetryBackoff * time.Duration(1<<uint(retries-1))
		m.logger.Warn("transient submit failure, retrying", "order_id", managed.Order.ID, "attempt", retries, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			m.failSubmission(managed, retries, ctx.Err())
			return
		case <-time.After(backoff):
		}
	}

	now = time.Now()
	managed.mu.Lock()
	managed.RetryCount = retries
	managed.Order.ExchangeID = exchangeID
	txErr := managed.Machine.Transition(statemachine.Acknowledged, now, "exchange acknowledged", nil)
	managed.Order.Status = types.StatusSubmitted
	managed.LastSyncAt = now
	managed.mu.Unlock()
	if txErr != nil {
		m.logger.Error("state transition failed after submit", "order_id", managed.Order.ID, "error", txErr)
	}
	m.regMu.Lock()
	m.exchangeIndex[exchangeID] = managed.Order.ID
	m.regMu.Unlock()
	m.persist(managed)

	m.publish(eventbus.OrderEvent{Type: eventbus.EvOrderAcknowledged, OrderID: managed.Order.ID, ExchangeID: exchangeID, Timestamp: now.UnixNano()})
}

// rejectSubmission handles a Permanent gateway error: the exchange itself
// refused the order (spec §4.3: "On exchange-side rejection: transition
// to Rejected and emit OrderRejected").
func (m *Manager) rejectSubmission(managed *ManagedOrder, retries int, cause error) {
	now := time.Now()
	managed.mu.Lock()
	managed.RetryCount = retries
	_ = managed.Machine.Transition(statemachine.Rejected, now, cause.Error(), nil)
	managed.Order.Status = types.StatusRejected
	managed.Order.RejectReason = cause.Error()
	managed.mu.Unlock()
	m.persist(managed)
	m.removeTerminal(managed)
	m.publish(eventbus.OrderEvent{Type: eventbus.EvOrderRejected, OrderID: managed.Order.ID, Timestamp: now.UnixNano(), Reason: cause.Error()})
}

func (m *Manager) failSubmission(managed *ManagedOrder, retries int, cause error) {
	now := time.Now()
	managed.mu.Lock()
	managed.RetryCount = retries
	_ = managed.Machine.Transition(statemachine.Failed, now, cause.Error(), nil)
	managed.Order.Status = types.StatusFailed
	managed.Order.RejectReason = cause.Error()
	managed.mu.Unlock()
	m.persist(managed)
	m.removeTerminal(managed)
	m.publish(eventbus.OrderEvent{Type: eventbus.EvOrderFailed, OrderID: managed.Order.ID, Timestamp: now.UnixNano(), Reason: cause.Error()})
}

// CancelOrder requests cancellation of a managed order. Returns
// AlreadyTerminalError if the order's state machine is already terminal.
func (m *Manager) CancelOrder(ctx context.Context, internalID string) error {
	managed, ok := m.lookup(internalID)
	if !ok {
		return &OrderNotFoundError{ID: internalID}
	}

	managed.mu.RLock()
	canCancel := managed.Machine.CanCancel()
	exchangeID := managed.Order.ExchangeID
	managed.mu.RUnlock()
	if !canCancel {
		return &AlreadyTerminalError{ID: internalID}
	}

	// No lock held across the network call.
	if exchangeID != "" {
		if err := m.gw.Cancel(ctx, exchangeID); err != nil {
			var gerr *gateway.Error
			if errors.As(err, &gerr) && gerr.Category == gateway.Permanent {
				return &AlreadyTerminalError{ID: internalID}
			}
			return err
		}
	}

	now := time.Now()
	managed.mu.Lock()
	err := managed.Machine.Transition(statemachine.Cancelled, now, "cancelled by caller", nil)
	managed.Order.Status = types.StatusCancelled
	managed.mu.Unlock()
	if err != nil {
		return err
	}
	m.persist(managed)
	m.removeTerminal(managed)
	m.publish(eventbus.OrderEvent{Type: eventbus.EvOrderCancelled, OrderID: internalID, ExchangeID: exchangeID, Timestamp: now.UnixNano()})
	return nil
}

// GetOrder returns a copy of one managed order's current state.
func (m *Manager) GetOrder(internalID string) (types.Order, bool) {
	managed, ok := m.lookup(internalID)
	if !ok {
		return types.Order{}, false
	}
	return managed.snapshot(), true
}

// GetActiveOrders returns a copy of every non-terminal order.
func (m *Manager) GetActiveOrders() []types.Order {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	out := make([]types.Order, 0, len(m.registry))
	for _, managed := range m.registry {
		managed.mu.RLock()
		active := managed.Machine.IsActive()
		ord := managed.Order
		managed.mu.RUnlock()
		if active {
			out = append(out, ord)
		}
	}
	return out
}

// Stats summarizes registry and event-bus health.
type Stats struct {
	ActiveOrders   int
	TerminalOrders int
	DroppedEvents  uint64
}

// GetStats returns a point-in-time snapshot of the registry.
func (m *Manager) GetStats() Stats {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	var s Stats
	for _, managed := range m.registry {
		managed.mu.RLock()
		terminal := managed.Machine.IsTerminal()
		managed.mu.RUnlock()
		if terminal {
			s.TerminalOrders++
		} else {
			s.ActiveOrders++
		}
	}
	s.DroppedEvents = m.hub.DroppedCount()
	return s
}

// SubscribeEvents registers a new OrderEvent subscriber.
func (m *Manager) SubscribeEvents() (<-chan eventbus.OrderEvent, func()) {
	return m.hub.Subscribe()
}

func (m *Manager) lookup(internalID string) (*ManagedOrder, bool) {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	managed, ok := m.registry[internalID]
	return managed, ok
}

func (m *Manager) lookupByExchangeID(exchangeID string) (*ManagedOrder, bool) {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	internalID, ok := m.exchangeIndex[exchangeID]
	if !ok {
		return nil, false
	}
	managed, ok := m.registry[internalID]
	return managed, ok
}

func (m *Manager) removeTerminal(managed *ManagedOrder) {
	if m.store != nil {
		if err := m.store.Remove(managed.Order.ID); err != nil {
			m.logger.Warn("failed to remove terminal order from store", "order_id", managed.Order.ID, "error", err)
		}
	}
}

func (m *Manager) persist(managed *ManagedOrder) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(managed); err != nil {
		m.logger.Warn("failed to persist order", "order_id", managed.Order.ID, "error", err)
	}
}

func (m *Manager) publish(evt eventbus.OrderEvent) {
	m.hub.Publish(evt)
}
