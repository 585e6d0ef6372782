// Package ordermanager implements the Order Manager (spec §4.3, C5): the
// authoritative in-memory registry of live orders, asynchronous submit
// via an ExchangeGateway, cancellation, a reconciliation loop, and an
// OrderEvent stream.
package ordermanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"quanttrade/internal/statemachine"
	"quanttrade/internal/types"
)

// persistedOrder is the on-disk snapshot of one ManagedOrder: the order
// itself plus its full state-machine history, enough to reconstruct a
// Machine via statemachine.Restore on resume (spec §6.5: "accepts an
// optional initial state on startup... to resume after restart").
type persistedOrder struct {
	Order       types.Order            `json:"order"`
	State       statemachine.State     `json:"state"`
	History     []statemachine.Transition `json:"history"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	RetryCount  int                    `json:"retry_count"`
}

// Store persists one file per order, adapted from the teacher's
// internal/store.Store: write to a .tmp file then rename, so a crash
// mid-write never leaves a corrupt snapshot behind. Unlike the teacher's
// store (one file per market, overwritten on every fill), this store
// keys by internal order id and removes the file once an order reaches
// a terminal state — a live system's order count grows without bound,
// and terminal orders have nothing left to resume.
type Store struct {
	dir string
	mu  sync.Mutex
}

// OpenStore creates a Store backed by dir, creating it if necessary.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create order store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(internalID string) string {
	return filepath.Join(s.dir, "order_"+internalID+".json")
}

// Save atomically persists one order's current snapshot.
func (s *Store) Save(m *ManagedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.mu.RLock()
	snap := persistedOrder{
		Order:      m.Order,
		State:      m.Machine.State(),
		History:    m.Machine.History(),
		CreatedAt:  m.Machine.CreatedAt(),
		UpdatedAt:  m.Machine.LastUpdated(),
		RetryCount: m.RetryCount,
	}
	m.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", m.Order.ID, err)
	}

	path := s.path(m.Order.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write order %s: %w", m.Order.ID, err)
	}
	return os.Rename(tmp, path)
}

// Remove deletes a terminal order's persisted file. A missing file is
// not an error — Remove is idempotent.
func (s *Store) Remove(internalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(internalID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove order %s: %w", internalID, err)
	}
	return nil
}

// LoadAll reconstructs every persisted non-terminal order, for use as the
// Order Manager's initial registry on startup.
func (s *Store) LoadAll() ([]*ManagedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read order store dir: %w", err)
	}

	var out []*ManagedOrder
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var snap persistedOrder
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", entry.Name(), err)
		}
		machine := statemachine.Restore(snap.State, snap.History, snap.CreatedAt, snap.UpdatedAt)
		out = append(out, &ManagedOrder{
			Order:      snap.Order,
			Machine:    machine,
			RetryCount: snap.RetryCount,
		})
	}
	return out, nil
}
