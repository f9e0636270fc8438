// Package ledger owns every interaction with the shared key-value layer:
// stock counters, hold records, the expiry index and per-cart hold sets.
// All multi-key mutations run as server-side scripts so each one is a single
// atomic step; partial application is impossible by construction.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orderflow/stockhold/internal/domain/stock"
)

// Outcome reports how an ApplyDesired step resolved.
type Outcome int

const (
	// Applied means the delta was applied in full.
	Applied Outcome = iota
	// InsufficientStock means the increase was denied and nothing changed.
	InsufficientStock
	// Unseeded means no stock record exists yet for the (branch, item);
	// the caller should seed it from the durable store and retry.
	Unseeded
)

// ApplyResult is the post-step state returned by ApplyDesired.
type ApplyResult struct {
	Outcome Outcome
	Level   stock.Level
	Held    int64
}

// SettleResult is the post-step state returned by Settle.
type SettleResult struct {
	SettledQty int64
	Level      stock.Level
}

// Ledger wraps a Redis client with the engine's atomic steps.
type Ledger struct {
	client *redis.Client
}

// New creates a ledger over the provided client.
func New(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

// ApplyDesired executes the absolute-target delta algorithm for one hold as
// a single atomic step. The physical record TTL is the logical lease TTL
// plus the grace period, keeping the record readable until the reaper has
// had a chance to resolve it.
func (l *Ledger) ApplyDesired(ctx context.Context, k stock.HoldKey, desired int64, now time.Time, ttl, grace time.Duration) (ApplyResult, error) {
	expiresAt := now.Add(ttl).UnixMilli()
	physicalTTL := (ttl + grace).Milliseconds()

	keys := []string{
		stockKey(k.BranchID, k.ItemID),
		holdKey(k),
		indexKey,
		cartSetKey(k.CartID),
	}
	raw, err := applyDesiredScript.Run(ctx, l.client, keys, desired, expiresAt, physicalTTL).Result()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply desired quantity: %w", err)
	}

	vals, err := scriptInts(raw, 4)
	if err != nil {
		return ApplyResult{}, err
	}

	result := ApplyResult{
		Level: stock.Level{Available: vals[1], Reserved: vals[2]},
		Held:  vals[3],
	}
	switch vals[0] {
	case 1:
		result.Outcome = Applied
	case 0:
		result.Outcome = InsufficientStock
	default:
		result.Outcome = Unseeded
	}
	return result, nil
}

// Settle resolves a single hold: credit=false finalizes it as a sale
// (reserved drops, available is not credited), credit=true returns the
// units to available. Settling an already-gone hold moves no stock but
// still scrubs its index and cart-set entries.
func (l *Ledger) Settle(ctx context.Context, member string, credit bool) (SettleResult, error) {
	result, _, err := l.settle(ctx, member, credit, 0)
	return result, err
}

// SettleIfExpired settles the hold only if its logical expiry is at or
// before now. A hold that was refreshed after being scanned reports
// skipped=true and is left untouched.
func (l *Ledger) SettleIfExpired(ctx context.Context, member string, credit bool, now time.Time) (SettleResult, bool, error) {
	return l.settle(ctx, member, credit, now.UnixMilli())
}

func (l *Ledger) settle(ctx context.Context, member string, credit bool, cutoffMs int64) (SettleResult, bool, error) {
	k, err := parseHoldKey(member)
	if err != nil {
		return SettleResult{}, false, err
	}

	creditFlag := 0
	if credit {
		creditFlag = 1
	}
	keys := []string{
		stockKey(k.BranchID, k.ItemID),
		member,
		indexKey,
		cartSetKey(k.CartID),
	}
	raw, err := settleScript.Run(ctx, l.client, keys, creditFlag, cutoffMs).Result()
	if err != nil {
		return SettleResult{}, false, fmt.Errorf("settle hold: %w", err)
	}

	vals, err := scriptInts(raw, 3)
	if err != nil {
		return SettleResult{}, false, err
	}
	level := stock.Level{Available: vals[1], Reserved: vals[2]}
	if vals[0] < 0 {
		return SettleResult{Level: level}, true, nil
	}
	return SettleResult{
		SettledQty: vals[0],
		Level:      level,
	}, false, nil
}

// ParseHoldMember recovers the hold identity from an index or cart-set
// member.
func (l *Ledger) ParseHoldMember(member string) (stock.HoldKey, error) {
	return parseHoldKey(member)
}

// CartHolds returns the hold members currently owned by the cart.
func (l *Ledger) CartHolds(ctx context.Context, cartID string) ([]string, error) {
	members, err := l.client.SMembers(ctx, cartSetKey(cartID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list cart holds: %w", err)
	}
	return members, nil
}

// ClearCart removes the cart's hold set. Individual members are removed by
// Settle; this drops the (by then empty) set itself.
func (l *Ledger) ClearCart(ctx context.Context, cartID string) error {
	if err := l.client.Del(ctx, cartSetKey(cartID)).Err(); err != nil {
		return fmt.Errorf("clear cart hold set: %w", err)
	}
	return nil
}

// ExpiredCandidates returns up to limit hold members whose logical expiry is
// at or before now, oldest first.
func (l *Ledger) ExpiredCandidates(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	members, err := l.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expiry index: %w", err)
	}
	return members, nil
}

// DropIndexEntry removes a member from the expiry index unconditionally.
// Used to scrub corrupt members so one bad entry can never stall the sweep.
func (l *Ledger) DropIndexEntry(ctx context.Context, member string) error {
	if err := l.client.ZRem(ctx, indexKey, member).Err(); err != nil {
		return fmt.Errorf("drop index entry: %w", err)
	}
	return nil
}

// SetAvailable overwrites available with max(0, truth - reserved) in one
// atomic step, returning the previous and the new available figure.
func (l *Ledger) SetAvailable(ctx context.Context, branchID, itemID string, truth int64) (prev, next int64, err error) {
	raw, err := setAvailableScript.Run(ctx, l.client, []string{stockKey(branchID, itemID)}, truth).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("set available: %w", err)
	}
	vals, err := scriptInts(raw, 2)
	if err != nil {
		return 0, 0, err
	}
	return vals[0], vals[1], nil
}

// Seed creates the stock record if it does not exist yet, with the given
// available quantity and zero reserved. Returns true when the record was
// created by this call.
func (l *Ledger) Seed(ctx context.Context, branchID, itemID string, available int64) (bool, error) {
	raw, err := seedScript.Run(ctx, l.client, []string{stockKey(branchID, itemID)}, available).Result()
	if err != nil {
		return false, fmt.Errorf("seed stock record: %w", err)
	}
	created, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("seed stock record: unexpected reply %T", raw)
	}
	return created == 1, nil
}

// Snapshot reads the current counters for a (branch, item). Missing fields
// read as zero.
func (l *Ledger) Snapshot(ctx context.Context, branchID, itemID string) (stock.Level, error) {
	vals, err := l.client.HMGet(ctx, stockKey(branchID, itemID), "available", "reserved").Result()
	if err != nil {
		return stock.Level{}, fmt.Errorf("read stock record: %w", err)
	}
	var level stock.Level
	if level.Available, err = hashInt(vals[0]); err != nil {
		return stock.Level{}, err
	}
	if level.Reserved, err = hashInt(vals[1]); err != nil {
		return stock.Level{}, err
	}
	return level, nil
}

// Hold reads the current lease for a hold key. The second return is false
// when no lease exists.
func (l *Ledger) Hold(ctx context.Context, k stock.HoldKey) (stock.Hold, bool, error) {
	vals, err := l.client.HMGet(ctx, holdKey(k), "qty", "expires_at").Result()
	if err != nil {
		return stock.Hold{}, false, fmt.Errorf("read hold record: %w", err)
	}
	if vals[0] == nil {
		return stock.Hold{}, false, nil
	}
	qty, err := hashInt(vals[0])
	if err != nil {
		return stock.Hold{}, false, err
	}
	expiresMs, err := hashInt(vals[1])
	if err != nil {
		return stock.Hold{}, false, err
	}
	return stock.Hold{
		Key:       k,
		Quantity:  qty,
		ExpiresAt: time.UnixMilli(expiresMs),
	}, true, nil
}

// Ping checks connectivity to the key-value layer.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func scriptInts(raw interface{}, want int) ([]int64, error) {
	slice, ok := raw.([]interface{})
	if !ok || len(slice) != want {
		return nil, fmt.Errorf("unexpected script reply %T", raw)
	}
	vals := make([]int64, want)
	for i, v := range slice {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script reply element %T", v)
		}
		vals[i] = n
	}
	return vals, nil
}

func hashInt(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected hash value %T", v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash value %q: %w", s, err)
	}
	return n, nil
}
