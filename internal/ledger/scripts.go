package ledger

import "github.com/go-redis/redis/v8"

// Server-side scripts. Redis executes each script as a single step, which is
// what gives every multi-key mutation its all-or-nothing guarantee; no
// component is allowed to mutate these keys through separate read-then-write
// round trips.

// applyDesiredScript implements the absolute-target delta algorithm.
//
// KEYS: 1 stock hash, 2 hold hash, 3 expiry index, 4 cart hold set
// ARGV: 1 desired qty, 2 logical expiry (unix ms), 3 physical TTL (ms)
//
// Returns {status, available, reserved, held} where status is
// 1 = applied, 0 = insufficient stock, -1 = stock record not seeded.
var applyDesiredScript = redis.NewScript(`
local desired = tonumber(ARGV[1])
local held = tonumber(redis.call('HGET', KEYS[2], 'qty') or '0')
local delta = desired - held

if delta > 0 then
  if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1, 0, 0, held}
  end
  local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
  if available < delta then
    local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
    return {0, available, reserved, held}
  end
  redis.call('HINCRBY', KEYS[1], 'available', -delta)
  redis.call('HINCRBY', KEYS[1], 'reserved', delta)
elseif delta < 0 then
  redis.call('HINCRBY', KEYS[1], 'available', -delta)
  local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0') + delta
  if reserved < 0 then
    reserved = 0
  end
  redis.call('HSET', KEYS[1], 'reserved', reserved)
end

if desired <= 0 then
  redis.call('DEL', KEYS[2])
  redis.call('ZREM', KEYS[3], KEYS[2])
  redis.call('SREM', KEYS[4], KEYS[2])
else
  redis.call('HSET', KEYS[2], 'qty', desired)
  redis.call('HSET', KEYS[2], 'expires_at', ARGV[2])
  redis.call('PEXPIRE', KEYS[2], tonumber(ARGV[3]))
  redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), KEYS[2])
  redis.call('SADD', KEYS[4], KEYS[2])
end

local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
return {1, available, reserved, desired}
`)

// settleScript resolves one hold to a permanent sale (no credit) or a stock
// credit-back. Idempotent: a missing hold still scrubs the index and cart
// set entries and moves no stock.
//
// A nonzero cutoff makes the settle conditional: a hold whose logical
// expiry is past the cutoff is left entirely alone. The reaper passes its
// sweep time here so a lease refreshed between the index scan and this step
// is never settled while live again.
//
// KEYS: 1 stock hash, 2 hold hash, 3 expiry index, 4 cart hold set
// ARGV: 1 credit flag (1 = release, 0 = consume), 2 expiry cutoff unix ms
// (0 = settle unconditionally)
//
// Returns {settled qty, available, reserved}; qty is -1 when the cutoff
// skipped a still-live hold.
var settleScript = redis.NewScript(`
local cutoff = tonumber(ARGV[2])
if cutoff > 0 then
  local expires = tonumber(redis.call('HGET', KEYS[2], 'expires_at') or '0')
  if expires > cutoff then
    local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
    local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
    return {-1, available, reserved}
  end
end

local qty = tonumber(redis.call('HGET', KEYS[2], 'qty') or '0')
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[3], KEYS[2])
redis.call('SREM', KEYS[4], KEYS[2])

if qty > 0 then
  local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0') - qty
  if reserved < 0 then
    reserved = 0
  end
  redis.call('HSET', KEYS[1], 'reserved', reserved)
  if tonumber(ARGV[1]) == 1 then
    redis.call('HINCRBY', KEYS[1], 'available', qty)
  end
end

local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
return {qty, available, reserved}
`)

// setAvailableScript is the rehydration overwrite:
// available = max(0, truth - reserved). Reserved is owned by the hold
// lifecycle and is never touched here.
//
// KEYS: 1 stock hash
// ARGV: 1 truth quantity
//
// Returns {previous available, new available}.
var setAvailableScript = redis.NewScript(`
local truth = tonumber(ARGV[1])
local prev = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local desired = truth - reserved
if desired < 0 then
  desired = 0
end
redis.call('HSET', KEYS[1], 'available', desired)
return {prev, desired}
`)

// seedScript creates a stock record if absent. Existing counters are left
// untouched so a concurrent seeding race cannot clobber live state.
//
// KEYS: 1 stock hash
// ARGV: 1 initial available quantity
var seedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'available', tonumber(ARGV[1]))
redis.call('HSET', KEYS[1], 'reserved', 0)
return 1
`)

// unlockScript releases a lock only while still owned by the given token, so
// a runner whose lease expired mid-run cannot release a later runner's lock.
//
// KEYS: 1 lock key
// ARGV: 1 owner token
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
