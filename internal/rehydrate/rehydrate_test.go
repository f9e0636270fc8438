package rehydrate

import (
	"context"
	"testing"
	"time"

	"github.com/orderflow/stockhold/internal/domain/stock"
	"github.com/orderflow/stockhold/internal/ledger"
	"github.com/orderflow/stockhold/internal/ledger/redistest"
	"github.com/orderflow/stockhold/internal/storage/memory"
)

func TestRunOnce_CorrectsDrift(t *testing.T) {
	client, _ := redistest.New(t)
	l := ledger.New(client)
	durable := memory.New()
	ctx := context.Background()

	// Ledger thinks 1 available with 4 reserved; truth says 10 on hand.
	if _, err := l.Seed(ctx, "b1", "i1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
	k := stock.HoldKey{CartID: "c1", BranchID: "b1", ItemID: "i1", VariantSig: "ffee00112233aabb"}
	if _, err := l.ApplyDesired(ctx, k, 4, time.Now(), 10*time.Minute, 30*time.Minute); err != nil {
		t.Fatalf("apply: %v", err)
	}
	durable.SetQuantity("b1", "i1", 10)

	// A second row with no drift.
	if _, err := l.Seed(ctx, "b1", "i2", 3); err != nil {
		t.Fatalf("seed i2: %v", err)
	}
	durable.SetQuantity("b1", "i2", 3)

	job := New(l, durable, ledger.NewLock(client, "rehydration", time.Minute), nil)
	report, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Skipped {
		t.Fatal("run unexpectedly skipped")
	}
	if report.Scanned != 2 || report.Corrected != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	// available goes 1 -> max(0, 10-4) = 6, drift 5.
	if report.MaxAbsDrift != 5 || report.TotalAbsDrift != 5 {
		t.Fatalf("unexpected drift: %+v", report)
	}

	level, err := l.Snapshot(ctx, "b1", "i1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if level.Available != 6 || level.Reserved != 4 {
		t.Fatalf("unexpected level: %+v", level)
	}
}

func TestRunOnce_SkipsOnContention(t *testing.T) {
	client, _ := redistest.New(t)
	l := ledger.New(client)
	durable := memory.New()
	durable.SetQuantity("b1", "i1", 5)
	ctx := context.Background()

	lock := ledger.NewLock(client, "rehydration", time.Minute)
	token, ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	job := New(l, durable, lock, nil)
	report, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !report.Skipped || report.Scanned != 0 {
		t.Fatalf("expected skip: %+v", report)
	}

	// Once released the job runs and releases the lock itself afterwards.
	if _, err := lock.Release(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	report, err = job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Skipped {
		t.Fatal("second run should not skip")
	}
	if _, ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("lock not released after run: ok=%v err=%v", ok, err)
	}
}

func TestRunOnce_FloorsAtZero(t *testing.T) {
	client, _ := redistest.New(t)
	l := ledger.New(client)
	durable := memory.New()
	ctx := context.Background()

	if _, err := l.Seed(ctx, "b1", "i1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
	k := stock.HoldKey{CartID: "c1", BranchID: "b1", ItemID: "i1", VariantSig: "ffee00112233aabb"}
	if _, err := l.ApplyDesired(ctx, k, 4, time.Now(), 10*time.Minute, 30*time.Minute); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Truth dropped below what is reserved: available floors at zero and
	// reserved is left alone.
	durable.SetQuantity("b1", "i1", 2)

	job := New(l, durable, ledger.NewLock(client, "rehydration", time.Minute), nil)
	if _, err := job.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	level, err := l.Snapshot(ctx, "b1", "i1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if level.Available != 0 || level.Reserved != 4 {
		t.Fatalf("unexpected level: %+v", level)
	}
}
