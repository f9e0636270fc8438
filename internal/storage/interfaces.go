// Package storage declares the engine's view of its external collaborators:
// the durable source-of-truth quantities and the cart status oracle.
package storage

import (
	"context"

	"github.com/orderflow/stockhold/internal/domain/stock"
)

// DurableStore exposes the authoritative per-(branch, item) quantity. It is
// updated out of band (restocks, admin corrections); the engine only reads
// it and lazily creates rows it references.
type DurableStore interface {
	GetTruthQuantity(ctx context.Context, branchID, itemID string) (int64, error)
	EnsureRow(ctx context.Context, branchID, itemID string) error
	ListQuantities(ctx context.Context) ([]stock.TruthRow, error)
}

// CartStatusOracle answers, for a batch of cart ids, whether each cart is
// still open or has been converted to an order. Ids the oracle has never
// seen map to StatusUnknown.
type CartStatusOracle interface {
	GetStatus(ctx context.Context, cartIDs []string) (map[string]stock.CartStatus, error)
}
