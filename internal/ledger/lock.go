package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lock is a short-lived, token-owned cluster-wide mutual exclusion lease.
// Acquisition is SET NX with an expiry; release only succeeds while the
// caller's token still owns the key, so a holder whose lease lapsed mid-run
// cannot release a lock since acquired by someone else.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewLock creates a lock named by the given suffix.
func NewLock(client *redis.Client, name string, ttl time.Duration) *Lock {
	return &Lock{client: client, key: lockKeyPrefix + name, ttl: ttl}
}

// Acquire attempts to take the lock. The returned token identifies this
// holder and must be passed to Release. ok is false when another holder owns
// the lock; that is contention, not an error.
func (l *Lock) Acquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lock back if this token still owns it. Returns false
// when the lease had already expired and the key is gone or re-acquired.
func (l *Lock) Release(ctx context.Context, token string) (bool, error) {
	raw, err := unlockScript.Run(ctx, l.client, []string{l.key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("release lock %s: %w", l.key, err)
	}
	n, _ := raw.(int64)
	return n == 1, nil
}
