// Package rehydrate reconciles the fast ledger against the durable source
// of truth. Out-of-band corrections (restocks, admin adjustments) only touch
// the durable store; this job periodically folds them back into the ledger's
// available figure without ever touching reserved, which the hold lifecycle
// owns exclusively.
package rehydrate

import (
	"context"
	"fmt"

	"github.com/orderflow/stockhold/internal/metrics"
	"github.com/orderflow/stockhold/internal/storage"
	"github.com/orderflow/stockhold/pkg/logger"
)

// Ledger is the subset of atomic steps rehydration needs.
type Ledger interface {
	SetAvailable(ctx context.Context, branchID, itemID string, truth int64) (prev, next int64, err error)
}

// Locker is the cluster-wide mutual exclusion lease guarding a run.
type Locker interface {
	Acquire(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) (bool, error)
}

// Report aggregates one rehydration pass.
type Report struct {
	Skipped       bool  `json:"skipped"`
	Scanned       int64 `json:"scanned"`
	Corrected     int64 `json:"corrected_count"`
	MaxAbsDrift   int64 `json:"max_abs_drift"`
	TotalAbsDrift int64 `json:"total_abs_drift"`
	Errors        int64 `json:"errors"`
}

// Job recomputes available = max(0, truth - reserved) for every durable row.
type Job struct {
	ledger  Ledger
	durable storage.DurableStore
	lock    Locker
	log     *logger.Logger
}

// New creates a rehydration job.
func New(l Ledger, durable storage.DurableStore, lock Locker, log *logger.Logger) *Job {
	if log == nil {
		log = logger.NewDefault("rehydration")
	}
	return &Job{ledger: l, durable: durable, lock: lock, log: log}
}

// RunOnce performs a full reconciliation pass. Failing to take the lock is
// contention, not an error: the report comes back with Skipped set. Per-row
// failures are logged and counted without aborting the pass.
func (j *Job) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	token, ok, err := j.lock.Acquire(ctx)
	if err != nil {
		metrics.RecordRehydration("error", 0, 0, 0, 0)
		return report, err
	}
	if !ok {
		report.Skipped = true
		metrics.RecordRehydration("skipped", 0, 0, 0, 0)
		j.log.Debug("rehydration skipped: lock held elsewhere")
		return report, nil
	}
	defer func() {
		released, err := j.lock.Release(ctx, token)
		if err != nil {
			j.log.WithError(err).Warn("release rehydration lock failed")
		} else if !released {
			j.log.Warn("rehydration lock lease expired mid-run")
		}
	}()

	rows, err := j.durable.ListQuantities(ctx)
	if err != nil {
		metrics.RecordRehydration("error", 0, 0, 0, 0)
		return report, fmt.Errorf("enumerate durable rows: %w", err)
	}

	for _, row := range rows {
		prev, next, err := j.ledger.SetAvailable(ctx, row.BranchID, row.ItemID, row.Quantity)
		if err != nil {
			j.log.WithError(err).
				WithField("branch_id", row.BranchID).
				WithField("item_id", row.ItemID).
				Warn("rehydrate row failed")
			report.Errors++
			continue
		}
		report.Scanned++

		drift := prev - next
		if drift < 0 {
			drift = -drift
		}
		if drift > 0 {
			report.Corrected++
			report.TotalAbsDrift += drift
			if drift > report.MaxAbsDrift {
				report.MaxAbsDrift = drift
			}
			j.log.WithFields(map[string]interface{}{
				"branch_id": row.BranchID,
				"item_id":   row.ItemID,
				"previous":  prev,
				"corrected": next,
				"drift":     drift,
			}).Info("rehydration corrected drift")
		}
	}

	metrics.RecordRehydration("ok", report.Scanned, report.Corrected, report.MaxAbsDrift, report.TotalAbsDrift)
	return report, nil
}
