package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/orderflow/stockhold/internal/domain/stock"
	"github.com/orderflow/stockhold/internal/ledger/redistest"
)

var (
	testTTL   = 10 * time.Minute
	testGrace = 30 * time.Minute
)

func testKey(cart string) stock.HoldKey {
	return stock.HoldKey{CartID: cart, BranchID: "b1", ItemID: "i1", VariantSig: "abcd1234abcd1234"}
}

func TestApplyDesired_RequiresSeed(t *testing.T) {
	client, _ := redistest.New(t)
	l := New(client)
	ctx := context.Background()

	res, err := l.ApplyDesired(ctx, testKey("c1"), 2, time.Now(), testTTL, testGrace)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Outcome != Unseeded {
		t.Fatalf("expected Unseeded, got %v", res.Outcome)
	}

	created, err := l.Seed(ctx, "b1", "i1", 5)
	if err != nil || !created {
		t.Fatalf("seed: created=%v err=%v", created, err)
	}
	// Seeding again must not clobber counters.
	created, err = l.Seed(ctx, "b1", "i1", 99)
	if err != nil || created {
		t.Fatalf("second seed should be a no-op: created=%v err=%v", created, err)
	}

	res, err = l.ApplyDesired(ctx, testKey("c1"), 2, time.Now(), testTTL, testGrace)
	if err != nil {
		t.Fatalf("apply after seed: %v", err)
	}
	if res.Outcome != Applied || res.Level.Available != 3 || res.Level.Reserved != 2 || res.Held != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestApplyDesired_DeltaAlgorithm(t *testing.T) {
	client, _ := redistest.New(t)
	l := New(client)
	ctx := context.Background()
	k := testKey("c1")

	if _, err := l.Seed(ctx, "b1", "i1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Increase to 3.
	res, err := l.ApplyDesired(ctx, k, 3, time.Now(), testTTL, testGrace)
	if err != nil {
		t.Fatalf("apply 3: %v", err)
	}
	if res.Level.Available != 2 || res.Level.Reserved != 3 {
		t.Fatalf("after desired=3: %+v", res.Level)
	}

	// Idempotent repeat: no stock movement.
	res, err = l.ApplyDesired(ctx, k, 3, time.Now(), testTTL, testGrace)
	if err != nil {
		t.Fatalf("apply 3 again: %v", err)
	}
	if res.Level.Available != 2 || res.Level.Reserved != 3 || res.Held != 3 {
		t.Fatalf("idempotent repeat moved stock: %+v", res)
	}

	// Decrease to 1 credits the difference back.
	res, err = l.ApplyDesired(ctx, k, 1, time.Now(), testTTL, testGrace)
	if err != nil {
		t.Fatalf("apply 1: %v", err)
	}
	if res.Level.Available != 4 || res.Level.Reserved != 1 {
		t.Fatalf("after desired=1: %+v", res.Level)
	}

	// Denial beyond available: all-or-nothing, nothing moves.
	res, err = l.ApplyDesired(ctx, k, 6, time.Now(), testTTL, testGrace)
	if err != nil {
		t.Fatalf("apply 6: %v", err)
	}
	if res.Outcome != InsufficientStock {
		t.Fatalf("expected InsufficientStock, got %v", res.Outcome)
	}
	level, err := l.Snapshot(ctx, "b1", "i1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if level.Available != 4 || level.Reserved != 1 {
		t.Fatalf("denied increase moved stock: %+v", level)
	}

	// Zero deletes the hold and returns stock to the pre-hold level.
	res, err = l.ApplyDesired(ctx, k, 0, time.Now(), testTTL, testGrace)
	if err != nil {
		t.Fatalf("apply 0: %v", err)
	}
	if res.Level.Available != 5 || res.Level.Reserved != 0 {
		t.Fatalf("round trip did not restore stock: %+v", res.Level)
	}
	if _, exists, err := l.Hold(ctx, k); err != nil || exists {
		t.Fatalf("hold should be gone: exists=%v err=%v", exists, err)
	}
	members, err := l.CartHolds(ctx, "c1")
	if err != nil {
		t.Fatalf("cart holds: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("cart set should be empty: %v", members)
	}
}

func TestApplyDesired_IndexAndExpiry(t *testing.T) {
	client, _ := redistest.New(t)
	l := New(client)
	ctx := context.Background()
	k := testKey("c1")
	now := time.Now()

	if _, err := l.Seed(ctx, "b1", "i1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := l.ApplyDesired(ctx, k, 2, now, testTTL, testGrace); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Not yet expired.
	members, err := l.ExpiredCandidates(ctx, now.Add(testTTL-time.Second), 100)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("lease should not be a candidate yet: %v", members)
	}

	// Past logical expiry the lease is a candidate and its record is still
	// readable thanks to the grace period on the physical TTL.
	members, err = l.ExpiredCandidates(ctx, now.Add(testTTL+time.Second), 100)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected one candidate: %v", members)
	}
	parsed, err := l.ParseHoldMember(members[0])
	if err != nil {
		t.Fatalf("parse member: %v", err)
	}
	if parsed != k {
		t.Fatalf("parsed key mismatch: %+v", parsed)
	}

	hold, exists, err := l.Hold(ctx, k)
	if err != nil || !exists {
		t.Fatalf("hold should exist: exists=%v err=%v", exists, err)
	}
	if hold.Quantity != 2 {
		t.Fatalf("unexpected held qty: %d", hold.Quantity)
	}
	if got := hold.ExpiresAt.UnixMilli(); got != now.Add(testTTL).UnixMilli() {
		t.Fatalf("unexpected logical expiry: %d", got)
	}
}

func TestSettle_ConsumeAndRelease(t *testing.T) {
	client, _ := redistest.New(t)
	l := New(client)
	ctx := context.Background()

	if _, err := l.Seed(ctx, "b1", "i1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	kA := testKey("cartA")
	kB := testKey("cartB")
	if _, err := l.ApplyDesired(ctx, kA, 2, time.Now(), testTTL, testGrace); err != nil {
		t.Fatalf("apply A: %v", err)
	}
	if _, err := l.ApplyDesired(ctx, kB, 1, time.Now(), testTTL, testGrace); err != nil {
		t.Fatalf("apply B: %v", err)
	}

	membersA, err := l.CartHolds(ctx, "cartA")
	if err != nil || len(membersA) != 1 {
		t.Fatalf("cart A holds: %v %v", membersA, err)
	}

	// Consume: reserved drops, available is not credited.
	res, err := l.Settle(ctx, membersA[0], false)
	if err != nil {
		t.Fatalf("settle consume: %v", err)
	}
	if res.SettledQty != 2 || res.Level.Available != 2 || res.Level.Reserved != 1 {
		t.Fatalf("unexpected consume result: %+v", res)
	}

	// Settling the same member again moves nothing.
	res, err = l.Settle(ctx, membersA[0], false)
	if err != nil {
		t.Fatalf("settle consume again: %v", err)
	}
	if res.SettledQty != 0 || res.Level.Available != 2 || res.Level.Reserved != 1 {
		t.Fatalf("repeated settle moved stock: %+v", res)
	}

	// Release: reserved drops and available is credited back.
	membersB, err := l.CartHolds(ctx, "cartB")
	if err != nil || len(membersB) != 1 {
		t.Fatalf("cart B holds: %v %v", membersB, err)
	}
	res, err = l.Settle(ctx, membersB[0], true)
	if err != nil {
		t.Fatalf("settle release: %v", err)
	}
	if res.SettledQty != 1 || res.Level.Available != 3 || res.Level.Reserved != 0 {
		t.Fatalf("unexpected release result: %+v", res)
	}

	// Index is clean afterwards.
	members, err := l.ExpiredCandidates(ctx, time.Now().Add(2*testTTL), 100)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("index not scrubbed: %v", members)
	}
}

func TestSettleIfExpired_SkipsRefreshedHold(t *testing.T) {
	client, _ := redistest.New(t)
	l := New(client)
	ctx := context.Background()
	k := testKey("c1")

	if _, err := l.Seed(ctx, "b1", "i1", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Place a hold that is already past its logical expiry.
	placed := time.Now().Add(-2 * testTTL)
	if _, err := l.ApplyDesired(ctx, k, 2, placed, testTTL, testGrace); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sweep := time.Now()
	members, err := l.ExpiredCandidates(ctx, sweep, 100)
	if err != nil || len(members) != 1 {
		t.Fatalf("candidates: %v %v", members, err)
	}

	// The shopper touches the cart between the scan and the settle,
	// pushing the lease into the future again.
	if _, err := l.ApplyDesired(ctx, k, 2, sweep, testTTL, testGrace); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	res, skipped, err := l.SettleIfExpired(ctx, members[0], true, sweep)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !skipped {
		t.Fatalf("live lease was settled: %+v", res)
	}
	if res.Level.Available != 3 || res.Level.Reserved != 2 {
		t.Fatalf("skip moved stock: %+v", res.Level)
	}
	if _, exists, err := l.Hold(ctx, k); err != nil || !exists {
		t.Fatalf("hold should survive the sweep: exists=%v err=%v", exists, err)
	}
	holds, err := l.CartHolds(ctx, "c1")
	if err != nil || len(holds) != 1 {
		t.Fatalf("cart set should be intact: %v %v", holds, err)
	}

	// Once the refreshed lease lapses too, the guard lets the settle
	// through.
	res, skipped, err = l.SettleIfExpired(ctx, members[0], true, sweep.Add(testTTL+time.Second))
	if err != nil {
		t.Fatalf("settle after lapse: %v", err)
	}
	if skipped {
		t.Fatal("lapsed lease should settle")
	}
	if res.SettledQty != 2 || res.Level.Available != 5 || res.Level.Reserved != 0 {
		t.Fatalf("unexpected settle result: %+v", res)
	}
}

func TestSetAvailable_Rehydration(t *testing.T) {
	client, _ := redistest.New(t)
	l := New(client)
	ctx := context.Background()

	if _, err := l.Seed(ctx, "b1", "i1", 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := l.ApplyDesired(ctx, testKey("c1"), 1, time.Now(), testTTL, testGrace); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// available=0 reserved=1; truth says 10.
	prev, next, err := l.SetAvailable(ctx, "b1", "i1", 10)
	if err != nil {
		t.Fatalf("set available: %v", err)
	}
	if prev != 0 || next != 9 {
		t.Fatalf("unexpected rehydration: prev=%d next=%d", prev, next)
	}

	// Truth below reserved floors at zero and never touches reserved.
	prev, next, err = l.SetAvailable(ctx, "b1", "i1", 0)
	if err != nil {
		t.Fatalf("set available: %v", err)
	}
	if prev != 9 || next != 0 {
		t.Fatalf("unexpected floor: prev=%d next=%d", prev, next)
	}
	level, err := l.Snapshot(ctx, "b1", "i1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if level.Reserved != 1 {
		t.Fatalf("rehydration touched reserved: %+v", level)
	}
}

func TestParseHoldKey_Malformed(t *testing.T) {
	for _, member := range []string{
		"hold:index",
		"hold:cart:c1",
		"hold:a:b:c",
		"hold:a:b:c:d:e",
		"hold::b1:i1:v",
		"stock:b1:i1",
		"",
	} {
		if _, err := parseHoldKey(member); err == nil {
			t.Fatalf("expected parse failure for %q", member)
		}
	}

	k, err := parseHoldKey("hold:c1:b1:i1:deadbeef00000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if k.CartID != "c1" || k.BranchID != "b1" || k.ItemID != "i1" || k.VariantSig != "deadbeef00000000" {
		t.Fatalf("unexpected parse: %+v", k)
	}
}
