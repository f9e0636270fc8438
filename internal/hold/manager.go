// Package hold implements the reservation lifecycle exposed to the cart
// subsystem: set an absolute desired quantity, then consume or release
// everything a cart is holding.
package hold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderflow/stockhold/internal/domain/stock"
	"github.com/orderflow/stockhold/internal/ledger"
	"github.com/orderflow/stockhold/internal/metrics"
	"github.com/orderflow/stockhold/internal/storage"
	"github.com/orderflow/stockhold/pkg/logger"
)

// Ledger is the subset of atomic steps the manager needs.
type Ledger interface {
	ApplyDesired(ctx context.Context, k stock.HoldKey, desired int64, now time.Time, ttl, grace time.Duration) (ledger.ApplyResult, error)
	Settle(ctx context.Context, member string, credit bool) (ledger.SettleResult, error)
	CartHolds(ctx context.Context, cartID string) ([]string, error)
	ClearCart(ctx context.Context, cartID string) error
	Seed(ctx context.Context, branchID, itemID string, available int64) (bool, error)
}

// Manager mediates every hold mutation. Callers never touch the ledger
// directly; the absolute-target contract keeps retried calls idempotent.
type Manager struct {
	ledger  Ledger
	durable storage.DurableStore
	log     *logger.Logger

	ttl   time.Duration
	grace time.Duration
	now   func() time.Time
}

// New creates a manager with the default lease TTL (15m) and grace period
// (30m). The grace period must exceed the maximum plausible reaper sweep
// latency; see WithGrace.
func New(l Ledger, durable storage.DurableStore, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("hold-manager")
	}
	return &Manager{
		ledger:  l,
		durable: durable,
		log:     log,
		ttl:     15 * time.Minute,
		grace:   30 * time.Minute,
		now:     time.Now,
	}
}

// WithTTL sets the logical lease TTL.
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// WithGrace sets the grace period added to the physical record TTL. It must
// exceed the maximum plausible reaper sweep latency, otherwise an expired
// record could be evicted before the reaper reads it and its quantity would
// be lost, neither consumed nor released.
func (m *Manager) WithGrace(grace time.Duration) *Manager {
	if grace > 0 {
		m.grace = grace
	}
	return m
}

// SetDesiredQuantity sets the absolute held quantity for one
// (cart, branch, item, variant) lease. desired is a target, not a delta;
// zero removes the lease. Fails with stock.ErrOutOfStock when the increase
// exceeds what remains available, with no mutation at all.
func (m *Manager) SetDesiredQuantity(ctx context.Context, cartID, branchID, itemID, variantSig string, desired int64) error {
	if desired < 0 {
		metrics.RecordSetDesired("invalid")
		return fmt.Errorf("%w: %d", stock.ErrInvalidQuantity, desired)
	}
	if cartID == "" || branchID == "" || itemID == "" || variantSig == "" {
		metrics.RecordSetDesired("invalid")
		return fmt.Errorf("%w: empty identifier", stock.ErrInvalidQuantity)
	}

	k := stock.HoldKey{CartID: cartID, BranchID: branchID, ItemID: itemID, VariantSig: variantSig}

	res, err := m.ledger.ApplyDesired(ctx, k, desired, m.now(), m.ttl, m.grace)
	if err != nil {
		return err
	}
	if res.Outcome == ledger.Unseeded {
		if err := m.seedFromTruth(ctx, branchID, itemID); err != nil {
			return err
		}
		res, err = m.ledger.ApplyDesired(ctx, k, desired, m.now(), m.ttl, m.grace)
		if err != nil {
			return err
		}
		if res.Outcome == ledger.Unseeded {
			return fmt.Errorf("stock record for %s/%s vanished after seeding", branchID, itemID)
		}
	}

	if res.Outcome == ledger.InsufficientStock {
		metrics.RecordSetDesired("out_of_stock")
		return fmt.Errorf("%w: %s/%s", stock.ErrOutOfStock, branchID, itemID)
	}

	metrics.RecordSetDesired("ok")
	return nil
}

// ConsumeCart finalizes every hold the cart owns as a permanent sale:
// reserved drops, available is not credited. Idempotent.
func (m *Manager) ConsumeCart(ctx context.Context, cartID string) error {
	return m.settleCart(ctx, cartID, false)
}

// ReleaseCart returns every hold the cart owns to available stock.
// Idempotent.
func (m *Manager) ReleaseCart(ctx context.Context, cartID string) error {
	return m.settleCart(ctx, cartID, true)
}

func (m *Manager) settleCart(ctx context.Context, cartID string, credit bool) error {
	mode := "consume"
	if credit {
		mode = "release"
	}

	members, err := m.ledger.CartHolds(ctx, cartID)
	if err != nil {
		return err
	}

	var errs []error
	for _, member := range members {
		res, err := m.ledger.Settle(ctx, member, credit)
		if err != nil {
			m.log.WithError(err).
				WithField("cart_id", cartID).
				WithField("hold", member).
				Warn("settle hold failed")
			errs = append(errs, err)
			continue
		}
		if res.SettledQty > 0 {
			metrics.RecordSettle(mode)
		}
	}

	// Leave the set in place when some holds could not be settled so a
	// retried call can finish the job.
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return m.ledger.ClearCart(ctx, cartID)
}

func (m *Manager) seedFromTruth(ctx context.Context, branchID, itemID string) error {
	if err := m.durable.EnsureRow(ctx, branchID, itemID); err != nil {
		return fmt.Errorf("ensure durable row: %w", err)
	}
	truth, err := m.durable.GetTruthQuantity(ctx, branchID, itemID)
	if err != nil {
		return fmt.Errorf("read truth quantity: %w", err)
	}
	created, err := m.ledger.Seed(ctx, branchID, itemID, truth)
	if err != nil {
		return err
	}
	if created {
		m.log.WithField("branch_id", branchID).
			WithField("item_id", itemID).
			WithField("quantity", truth).
			Info("seeded stock record from durable store")
	}
	return nil
}
