// Package stock defines the domain model for the inventory reservation
// engine: ledger counters, hold leases and the errors callers observe.
package stock

import (
	"errors"
	"time"
)

// Errors surfaced by the hold lifecycle. ErrOutOfStock is an expected
// user-facing outcome, not a bug; ErrInvalidQuantity is a caller contract
// violation. Neither leaves any side effect behind.
var (
	ErrOutOfStock      = errors.New("insufficient available stock")
	ErrInvalidQuantity = errors.New("quantity must be a non-negative integer")
)

// Level is the pair of counters the ledger keeps per (branch, item).
// available + reserved tracks the durable store's truth up to
// reconciliation lag; available never goes negative.
type Level struct {
	Available int64
	Reserved  int64
}

// HoldKey identifies a single lease: one cart holding one item variant at
// one branch.
type HoldKey struct {
	CartID     string
	BranchID   string
	ItemID     string
	VariantSig string
}

// Hold is a lease over reserved units. A hold with Quantity 0 does not
// exist; it is deleted rather than stored.
type Hold struct {
	Key       HoldKey
	Quantity  int64
	ExpiresAt time.Time
}

// CartStatus is the oracle's answer for a cart at reap time.
type CartStatus string

const (
	StatusOpen       CartStatus = "open"
	StatusCheckedOut CartStatus = "checked_out"
	StatusUnknown    CartStatus = "unknown"
)

// ItemRef identifies a (branch, item) row in the durable store.
type ItemRef struct {
	BranchID string
	ItemID   string
}

// TruthRow is one row of the durable store enumeration used by rehydration.
type TruthRow struct {
	BranchID string
	ItemID   string
	Quantity int64
}
