// Package lock implements a short-TTL SETNX-based per-claim lock used
// to guard Evaluate against concurrent invocation across multiple
// orchestrator instances (§5's "additional guard for multi-instance
// deployments"). The Postgres row-level lock is the authoritative guard
// within one instance; this is a best-effort cross-instance fence.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "claimledger:claim-lock:"

// ClaimLock acquires and releases a per-claim mutual-exclusion lock
// backed by Redis.
type ClaimLock struct {
	Client *redis.Client
	TTL    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *ClaimLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ClaimLock{Client: client, TTL: ttl}
}

// Acquire attempts to take the lock for claimID, returning ok=false
// (not an error) if another instance already holds it.
func (l *ClaimLock) Acquire(ctx context.Context, claimID, holder string) (ok bool, err error) {
	ok, err = l.Client.SetNX(ctx, keyPrefix+claimID, holder, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire claim lock: %w", err)
	}
	return ok, nil
}

// Release removes the lock for claimID only if holder still owns it,
// avoiding releasing a lock a different holder has since acquired after
// this holder's TTL expired.
func (l *ClaimLock) Release(ctx context.Context, claimID, holder string) error {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`
	if err := l.Client.Eval(ctx, script, []string{keyPrefix + claimID}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release claim lock: %w", err)
	}
	return nil
}
