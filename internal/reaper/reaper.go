// Package reaper resolves holds whose lease has lapsed. Naively releasing
// every expired hold would refund stock already sold whenever the
// post-payment consume step failed to run, so each lease is resolved by
// consulting the cart's status first: checked-out carts are consumed,
// everything else is released.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/orderflow/stockhold/internal/domain/stock"
	"github.com/orderflow/stockhold/internal/ledger"
	"github.com/orderflow/stockhold/internal/metrics"
	"github.com/orderflow/stockhold/internal/storage"
	"github.com/orderflow/stockhold/pkg/logger"
)

// Ledger is the subset of atomic steps the reaper needs.
type Ledger interface {
	ExpiredCandidates(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ParseHoldMember(member string) (stock.HoldKey, error)
	SettleIfExpired(ctx context.Context, member string, credit bool, now time.Time) (ledger.SettleResult, bool, error)
	DropIndexEntry(ctx context.Context, member string) error
}

// Report aggregates the outcomes of one sweep.
type Report struct {
	Scanned  int `json:"scanned"`
	Consumed int `json:"consumed"`
	Released int `json:"released"`
	Dropped  int `json:"dropped"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Reaper sweeps the expiry index on demand or on a timer (see Poller).
type Reaper struct {
	ledger Ledger
	oracle storage.CartStatusOracle
	log    *logger.Logger

	batchSize int64
	now       func() time.Time
}

// New creates a reaper with the default batch size (256).
func New(l Ledger, oracle storage.CartStatusOracle, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.NewDefault("reaper")
	}
	return &Reaper{
		ledger:    l,
		oracle:    oracle,
		log:       log,
		batchSize: 256,
		now:       time.Now,
	}
}

// WithBatchSize bounds how many leases one sweep resolves. The remainder is
// picked up by the next sweep.
func (r *Reaper) WithBatchSize(n int64) *Reaper {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// RunOnce performs a single bounded sweep. Per-lease failures are logged and
// counted; only a failure to read the index or the oracle aborts the sweep,
// and an aborted sweep is simply retried on the next tick.
func (r *Reaper) RunOnce(ctx context.Context) (Report, error) {
	start := r.now()
	defer func() {
		metrics.RecordSweep(time.Since(start))
	}()

	var report Report

	candidates, err := r.ledger.ExpiredCandidates(ctx, start, r.batchSize)
	if err != nil {
		return report, fmt.Errorf("scan expired leases: %w", err)
	}
	report.Scanned = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	// Corrupt members are scrubbed unconditionally so one bad entry can
	// never block the sweep. Everything else is grouped by cart for one
	// batched oracle round trip.
	holds := make(map[string]stock.HoldKey, len(candidates))
	cartIDs := make([]string, 0, len(candidates))
	seen := make(map[string]bool)
	for _, member := range candidates {
		k, err := r.ledger.ParseHoldMember(member)
		if err != nil {
			r.log.WithError(err).WithField("member", member).Warn("dropping corrupt index entry")
			if dropErr := r.ledger.DropIndexEntry(ctx, member); dropErr != nil {
				r.log.WithError(dropErr).WithField("member", member).Warn("drop index entry failed")
				report.Errors++
				metrics.RecordReap("error")
				continue
			}
			report.Dropped++
			metrics.RecordReap("dropped")
			continue
		}
		holds[member] = k
		if !seen[k.CartID] {
			seen[k.CartID] = true
			cartIDs = append(cartIDs, k.CartID)
		}
	}
	if len(holds) == 0 {
		return report, nil
	}

	// An oracle failure is transient store unavailability, never a status:
	// guessing here could refund stock that was already sold.
	statuses, err := r.oracle.GetStatus(ctx, cartIDs)
	if err != nil {
		return report, fmt.Errorf("resolve cart statuses: %w", err)
	}

	for member, k := range holds {
		credit := statuses[k.CartID] != stock.StatusCheckedOut
		// The sweep time is passed through so a lease refreshed after the
		// index scan is left alone instead of being settled while live.
		res, skipped, err := r.ledger.SettleIfExpired(ctx, member, credit, start)
		if err != nil {
			r.log.WithError(err).WithField("member", member).Warn("settle expired lease failed")
			report.Errors++
			metrics.RecordReap("error")
			continue
		}
		if skipped {
			report.Skipped++
			metrics.RecordReap("skipped")
			continue
		}
		if credit {
			report.Released++
			metrics.RecordReap("released")
		} else {
			report.Consumed++
			metrics.RecordReap("consumed")
		}
		r.log.WithFields(map[string]interface{}{
			"cart_id":  k.CartID,
			"branch":   k.BranchID,
			"item":     k.ItemID,
			"qty":      res.SettledQty,
			"credited": credit,
		}).Debug("expired lease resolved")
	}

	return report, nil
}
