package ordermanager

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"quanttrade/internal/statemachine"
	"quanttrade/internal/types"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	sym := types.MustSymbol("BTC-USDT")
	order := types.Order{
		ID:        uuid.NewString(),
		ClientID:  uuid.NewString(),
		Symbol:    sym,
		Side:      types.Buy,
		Type:      types.OrderLimit,
		Quantity:  types.MustQuantity("2"),
		Price:     func() *types.Price { p := types.MustPrice("100"); return &p }(),
		Status:    types.StatusSubmitted,
		CreatedAt: time.Now(),
	}
	machine := statemachine.New(time.Now())
	_ = machine.Transition(statemachine.Validated, time.Now(), "ok", nil)
	_ = machine.Transition(statemachine.Submitted, time.Now(), "ok", nil)

	managed := &ManagedOrder{Order: order, Machine: machine}
	if err := store.Save(managed); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadAll returned %d orders, want 1", len(loaded))
	}
	if loaded[0].Order.ID != order.ID {
		t.Errorf("loaded order ID = %s, want %s", loaded[0].Order.ID, order.ID)
	}
	if loaded[0].Machine.State() != statemachine.Submitted {
		t.Errorf("loaded state = %s, want %s", loaded[0].Machine.State(), statemachine.Submitted)
	}

	if err := store.Remove(order.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	loaded, err = store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll after remove: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("LoadAll after remove returned %d orders, want 0", len(loaded))
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := store.Remove("never-existed"); err != nil {
		t.Errorf("Remove on missing file should be idempotent, got %v", err)
	}
}
