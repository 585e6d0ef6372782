package ordermanager

import (
	"context"
	"time"

	"quanttrade/internal/eventbus"
	"quanttrade/internal/gateway"
	"quanttrade/internal/statemachine"
	"quanttrade/internal/types"
)

// RunReconciliation drives the periodic reconciliation loop (spec §4.3,
// §6.5) until ctx is cancelled. If the Gateway exposes a push channel via
// StreamOrderUpdates, pushed snapshots are applied as they arrive in
// addition to the poll tick; if it returns nil, polling alone keeps the
// registry in sync (spec §6.1: "if absent, reconciliation handles
// everything by polling").
func (m *Manager) RunReconciliation(ctx context.Context) error {
	pushCh, err := m.gw.StreamOrderUpdates(ctx)
	if err != nil {
		m.logger.Warn("stream_order_updates unavailable, falling back to polling only", "error", err)
		pushCh = nil
	}

	ticker := time.NewTicker(m.cfg.ReconciliationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-pushCh:
			if !ok {
				pushCh = nil
				continue
			}
			m.applySnapshot(snap)
		case <-ticker.C:
			m.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce polls every active order once, applying its snapshot and
// expiring anything that has sat past its configured timeout.
func (m *Manager) reconcileOnce(ctx context.Context) {
	now := time.Now()

	m.regMu.RLock()
	due := make([]*ManagedOrder, 0, len(m.registry))
	for _, managed := range m.registry {
		managed.mu.RLock()
		active := managed.Machine.IsActive()
		exchangeID := managed.Order.ExchangeID
		managed.mu.RUnlock()
		if active && exchangeID != "" {
			due = append(due, managed)
		}
	}
	m.regMu.RUnlock()

	for _, managed := range due {
		managed.mu.RLock()
		sinceSync := now.Sub(managed.LastSyncAt)
		lifetime := managed.Machine.Lifetime(now)
		exchangeID := managed.Order.ExchangeID
		internalID := managed.Order.ID
		managed.mu.RUnlock()

		if lifetime > m.cfg.OrderTimeout {
			m.expireOrder(managed)
			continue
		}
		_ = sinceSync // reserved for a future staggered-poll optimization

		snap, err := m.gw.Query(ctx, exchangeID)
		if err != nil {
			// Reconciliation failures recover locally: log and re-tick
			// (spec §7), never surfaced to the caller.
			m.logger.Warn("reconciliation query failed", "order_id", internalID, "exchange_id", exchangeID, "error", err)
			continue
		}
		m.applySnapshot(snap)
	}
}

func (m *Manager) expireOrder(managed *ManagedOrder) {
	now := time.Now()
	managed.mu.Lock()
	if !managed.Machine.CanTransition(statemachine.Expired) {
		managed.mu.Unlock()
		return
	}
	_ = managed.Machine.Transition(statemachine.Expired, now, "reconciliation timeout", nil)
	managed.Order.Status = types.StatusFailed
	id := managed.Order.ID
	managed.mu.Unlock()
	m.persist(managed)
	m.removeTerminal(managed)
	m.publish(eventbus.OrderEvent{Type: eventbus.EvOrderExpired, OrderID: id, Timestamp: now.UnixNano(), Reason: "reconciliation timeout"})
}

// applySnapshot merges an exchange OrderSnapshot into the matching
// ManagedOrder, whether it arrived via polling or the push channel. Every
// transition is gated by Machine.CanTransition, so a late-arriving
// duplicate or an update that lost the race to an already-applied
// terminal transition is silently absorbed instead of corrupting state —
// this is the Order Manager's resolution of Open Question 5 (push update
// vs. reconciliation poll racing for the same order): whichever one's
// transition the state machine accepts first wins, and the loser's
// transition is simply rejected as a no-op.
func (m *Manager) applySnapshot(snap gateway.OrderSnapshot) {
	managed, ok := m.lookupByExchangeID(snap.ExchangeID)
	if !ok {
		m.logger.Debug("snapshot for unknown exchange id, ignoring", "exchange_id", snap.ExchangeID)
		return
	}

	now := time.Now()
	managed.mu.Lock()
	managed.LastSyncAt = now

	var toEmit *eventbus.OrderEvent
	switch snap.Status {
	case gateway.RemoteOpen:
		if managed.Machine.CanTransition(statemachine.Acknowledged) {
			_ = managed.Machine.Transition(statemachine.Acknowledged, now, "reconciliation: exchange open", nil)
			toEmit = &eventbus.OrderEvent{Type: eventbus.EvOrderAcknowledged, OrderID: managed.Order.ID, ExchangeID: snap.ExchangeID, Timestamp: now.UnixNano()}
		}

	case gateway.RemotePartial:
		m.mergeFillLocked(managed, snap, now)
		if managed.Machine.CanTransition(statemachine.PartiallyFilled) {
			_ = managed.Machine.Transition(statemachine.PartiallyFilled, now, "reconciliation: partial fill", nil)
		}
		filledQty, avgPrice := managed.Order.FilledQuantity, managed.Order.AvgFillPrice
		toEmit = &eventbus.OrderEvent{
			Type: eventbus.EvOrderPartiallyFilled, OrderID: managed.Order.ID, ExchangeID: snap.ExchangeID, Timestamp: now.UnixNano(),
			FilledQuantity: &filledQty, AvgFillPrice: &avgPrice,
		}

	case gateway.RemoteFilled:
		m.mergeFillLocked(managed, snap, now)
		if managed.Machine.CanTransition(statemachine.Filled) {
			_ = managed.Machine.Transition(statemachine.Filled, now, "reconciliation: filled", nil)
		}
		filledQty, avgPrice := managed.Order.FilledQuantity, managed.Order.AvgFillPrice
		toEmit = &eventbus.OrderEvent{
			Type: eventbus.EvOrderFilled, OrderID: managed.Order.ID, ExchangeID: snap.ExchangeID, Timestamp: now.UnixNano(),
			FilledQuantity: &filledQty, AvgFillPrice: &avgPrice,
		}

	case gateway.RemoteCancelled:
		if managed.Machine.CanTransition(statemachine.Cancelled) {
			_ = managed.Machine.Transition(statemachine.Cancelled, now, "reconciliation: cancelled at exchange", nil)
			managed.Order.Status = types.StatusCancelled
			toEmit = &eventbus.OrderEvent{Type: eventbus.EvOrderCancelled, OrderID: managed.Order.ID, ExchangeID: snap.ExchangeID, Timestamp: now.UnixNano()}
		}

	case gateway.RemoteRejected:
		if managed.Machine.CanTransition(statemachine.Rejected) {
			_ = managed.Machine.Transition(statemachine.Rejected, now, snap.RejectReason, nil)
			managed.Order.Status = types.StatusRejected
			managed.Order.RejectReason = snap.RejectReason
			toEmit = &eventbus.OrderEvent{Type: eventbus.EvOrderRejected, OrderID: managed.Order.ID, ExchangeID: snap.ExchangeID, Timestamp: now.UnixNano(), Reason: snap.RejectReason}
		}

	case gateway.RemoteNotFound:
		// The exchange has no record yet (propagation lag) or has purged
		// a long-terminal order; neither warrants a local transition.
	}
	managed.mu.Unlock()

	m.persist(managed)
	if toEmit != nil {
		if toEmit.Type == eventbus.EvOrderCancelled || toEmit.Type == eventbus.EvOrderFilled || toEmit.Type == eventbus.EvOrderRejected {
			m.removeTerminal(managed)
		}
		m.publish(*toEmit)
	}
}

// mergeFillLocked applies the exchange's cumulative filled quantity/price
// to the order, assuming the caller already holds managed.mu. It computes
// the incremental fill since the last known FilledQuantity so
// Order.ApplyFill's overfill guard and first-fill latency bookkeeping
// stay meaningful even though the exchange reports cumulative state.
func (m *Manager) mergeFillLocked(managed *ManagedOrder, snap gateway.OrderSnapshot, now time.Time) {
	delta, err := snap.FilledQuantity.Sub(managed.Order.FilledQuantity)
	if err != nil || delta.IsZero() {
		return
	}
	price := managed.Order.AvgFillPrice
	if snap.AvgFillPrice != nil {
		price = *snap.AvgFillPrice
	}
	if err := managed.Order.ApplyFill(delta, price, now); err != nil {
		m.logger.Warn("reconciliation fill merge rejected", "order_id", managed.Order.ID, "error", err)
	}
}
