package ordermanager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quanttrade/internal/eventbus"
	"quanttrade/internal/gateway"
	"quanttrade/internal/risk"
	"quanttrade/internal/types"
)

type fakeGateway struct {
	mu          sync.Mutex
	submitErr   error
	nextID      int
	cancelled   map[string]bool
	submitted   []gateway.SubmitRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{cancelled: make(map[string]bool)}
}

func (g *fakeGateway) Submit(ctx context.Context, req gateway.SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.nextID++
	g.submitted = append(g.submitted, req)
	return uuid.NewString(), nil
}

func (g *fakeGateway) Cancel(ctx context.Context, exchangeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled[exchangeID] = true
	return nil
}

func (g *fakeGateway) Query(ctx context.Context, exchangeID string) (gateway.OrderSnapshot, error) {
	return gateway.OrderSnapshot{ExchangeID: exchangeID, Status: gateway.RemoteOpen}, nil
}

func (g *fakeGateway) StreamOrderUpdates(ctx context.Context) (<-chan gateway.OrderSnapshot, error) {
	return nil, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testOrder(sym types.Symbol, qty string) types.Order {
	return types.Order{
		ID:        uuid.NewString(),
		ClientID:  uuid.NewString(),
		Symbol:    sym,
		Side:      types.Buy,
		Type:      types.OrderMarket,
		Quantity:  types.MustQuantity(qty),
		Status:    types.StatusCreated,
		CreatedAt: time.Now(),
	}
}

func permissiveState() risk.PortfolioState {
	return risk.PortfolioState{
		TotalEquity:     decimal.NewFromInt(1_000_000),
		AvailableMargin: decimal.NewFromInt(1_000_000),
	}
}

func waitForEvent(t *testing.T, ch <-chan eventbus.OrderEvent, want eventbus.OrderEventType) eventbus.OrderEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestSubmitOrderAcknowledgesOnSuccess(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	mgr := New(DefaultConfig(), gw, risk.NewValidator(risk.DefaultRiskLimits()), eventbus.NewHub(16, testLogger()), nil, testLogger())

	events, unsub := mgr.SubscribeEvents()
	defer unsub()

	sym := types.MustSymbol("BTC-USDT")
	order := testOrder(sym, "1")
	id, err := mgr.SubmitOrder(context.Background(), order, types.MustPrice("100"), permissiveState())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	waitForEvent(t, events, eventbus.EvOrderCreated)
	waitForEvent(t, events, eventbus.EvOrderSubmitted)
	waitForEvent(t, events, eventbus.EvOrderAcknowledged)

	got, ok := mgr.GetOrder(id)
	if !ok {
		t.Fatal("order not found after acknowledgement")
	}
	if got.ExchangeID == "" {
		t.Error("expected ExchangeID to be set after acknowledgement")
	}
}

func TestSubmitOrderRejectsCriticalViolation(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	mgr := New(DefaultConfig(), gw, risk.NewValidator(risk.DefaultRiskLimits()), eventbus.NewHub(16, testLogger()), nil, testLogger())

	sym := types.MustSymbol("BTC-USDT")
	order := testOrder(sym, "1000000") // grossly oversized vs. default limits
	state := risk.PortfolioState{TotalEquity: decimal.NewFromInt(1000), AvailableMargin: decimal.NewFromInt(1000)}

	_, err := mgr.SubmitOrder(context.Background(), order, types.MustPrice("100"), state)
	var valErr *risk.ValidationFailedError
	if !errors.As(err, &valErr) {
		t.Fatalf("SubmitOrder error = %v, want *risk.ValidationFailedError", err)
	}
}

func TestCancelOrderOnTerminalOrderFails(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	mgr := New(DefaultConfig(), gw, risk.NewValidator(risk.DefaultRiskLimits()), eventbus.NewHub(16, testLogger()), nil, testLogger())

	events, unsub := mgr.SubscribeEvents()
	defer unsub()

	sym := types.MustSymbol("BTC-USDT")
	order := testOrder(sym, "1")
	id, err := mgr.SubmitOrder(context.Background(), order, types.MustPrice("100"), permissiveState())
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	waitForEvent(t, events, eventbus.EvOrderAcknowledged)

	if err := mgr.CancelOrder(context.Background(), id); err != nil {
		t.Fatalf("first CancelOrder: %v", err)
	}
	waitForEvent(t, events, eventbus.EvOrderCancelled)

	err = mgr.CancelOrder(context.Background(), id)
	var termErr *AlreadyTerminalError
	if !errors.As(err, &termErr) {
		t.Fatalf("second CancelOrder error = %v, want *AlreadyTerminalError", err)
	}
}

func TestCancelUnknownOrderReturnsNotFound(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	mgr := New(DefaultConfig(), gw, risk.NewValidator(risk.DefaultRiskLimits()), eventbus.NewHub(16, testLogger()), nil, testLogger())

	err := mgr.CancelOrder(context.Background(), "does-not-exist")
	var notFound *OrderNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("CancelOrder error = %v, want *OrderNotFoundError", err)
	}
}
