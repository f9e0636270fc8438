// Package memory provides in-memory implementations of the storage
// interfaces. They are safe for concurrent use and are primarily intended
// for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/orderflow/stockhold/internal/domain/stock"
	"github.com/orderflow/stockhold/internal/storage"
)

// Store is an in-memory DurableStore.
type Store struct {
	mu         sync.RWMutex
	quantities map[stock.ItemRef]int64
}

var _ storage.DurableStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{quantities: make(map[stock.ItemRef]int64)}
}

// SetQuantity sets the authoritative quantity for a row, simulating a
// restock or admin correction.
func (s *Store) SetQuantity(branchID, itemID string, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quantities[stock.ItemRef{BranchID: branchID, ItemID: itemID}] = qty
}

func (s *Store) GetTruthQuantity(_ context.Context, branchID, itemID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quantities[stock.ItemRef{BranchID: branchID, ItemID: itemID}], nil
}

func (s *Store) EnsureRow(_ context.Context, branchID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := stock.ItemRef{BranchID: branchID, ItemID: itemID}
	if _, ok := s.quantities[ref]; !ok {
		s.quantities[ref] = 0
	}
	return nil
}

func (s *Store) ListQuantities(_ context.Context) ([]stock.TruthRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]stock.TruthRow, 0, len(s.quantities))
	for ref, qty := range s.quantities {
		rows = append(rows, stock.TruthRow{BranchID: ref.BranchID, ItemID: ref.ItemID, Quantity: qty})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].BranchID != rows[j].BranchID {
			return rows[i].BranchID < rows[j].BranchID
		}
		return rows[i].ItemID < rows[j].ItemID
	})
	return rows, nil
}

// Oracle is an in-memory CartStatusOracle.
type Oracle struct {
	mu       sync.RWMutex
	statuses map[string]stock.CartStatus
}

var _ storage.CartStatusOracle = (*Oracle)(nil)

// NewOracle creates an oracle with no known carts.
func NewOracle() *Oracle {
	return &Oracle{statuses: make(map[string]stock.CartStatus)}
}

// SetStatus records the status the oracle reports for a cart.
func (o *Oracle) SetStatus(cartID string, status stock.CartStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[cartID] = status
}

func (o *Oracle) GetStatus(_ context.Context, cartIDs []string) (map[string]stock.CartStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	result := make(map[string]stock.CartStatus, len(cartIDs))
	for _, id := range cartIDs {
		if status, ok := o.statuses[id]; ok {
			result[id] = status
		} else {
			result[id] = stock.StatusUnknown
		}
	}
	return result, nil
}
