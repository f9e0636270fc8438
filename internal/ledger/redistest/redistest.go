// Package redistest spins up an in-process Redis for tests so the ledger's
// server-side scripts run for real instead of against hand-written fakes.
package redistest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// New returns a client connected to a fresh in-process Redis. Both are torn
// down when the test finishes.
func New(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, srv
}
