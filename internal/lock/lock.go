// package lock implements lease-based exclusive locks on logical resources
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/store"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by [Locker.Inspect] when no live entry exists for a key.
var ErrNotHeld = fmt.Errorf("%w: lock not held", shared.ErrNotFound)

// Each script runs atomically on the server, so no read-then-write window exists between callers.
var (
	acquireScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'holder', ARGV[1], 'acquired_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

	renewScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// Entry describes the live holder of a resource.
type Entry struct {
	ResourceKey    string    `json:"resource_key"`
	HolderJobID    string    `json:"holder_job_id"`
	AcquiredAt     time.Time `json:"acquired_at"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// Locker grants at most one live lease per resource key.
type Locker struct {
	store *store.Store
	now   func() time.Time
}

// New creates a Locker backed by s.
func New(s *store.Store) *Locker {
	return &Locker{store: s, now: time.Now}
}

func (l *Locker) key(resourceKey string) string {
	return l.store.Key("lock", resourceKey)
}

// TryAcquire takes the lock for jobID if no unexpired entry exists.
//
// Returns false when another holder has it. Store failures are reported as [shared.ErrStoreUnavailable]
// and must be treated as "not acquired".
func (l *Locker) TryAcquire(ctx context.Context, resourceKey, jobID string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		return false, fmt.Errorf("%w: lease must be positive", shared.ErrInvalidArgument)
	}
	now := l.now().UTC()
	n, err := acquireScript.Run(ctx, l.store.Client(),
		[]string{l.key(resourceKey)},
		jobID, lease.Milliseconds(), now.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, store.Wrap(err)
	}
	return n == 1, nil
}

// Renew extends the lease if jobID still holds it.
//
// False means exclusivity was lost: the lease expired or another job holds the key.
func (l *Locker) Renew(ctx context.Context, resourceKey, jobID string, lease time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.store.Client(),
		[]string{l.key(resourceKey)},
		jobID, lease.Milliseconds(),
	).Int()
	if err != nil {
		return false, store.Wrap(err)
	}
	return n == 1, nil
}

// Release deletes the entry only if jobID holds it. Releasing an absent or foreign lock is a no-op.
func (l *Locker) Release(ctx context.Context, resourceKey, jobID string) error {
	if err := releaseScript.Run(ctx, l.store.Client(), []string{l.key(resourceKey)}, jobID).Err(); err != nil {
		return store.Wrap(err)
	}
	return nil
}

// Inspect returns the live entry for resourceKey.
func (l *Locker) Inspect(ctx context.Context, resourceKey string) (*Entry, error) {
	key := l.key(resourceKey)

	pipe := l.store.Client().Pipeline()
	fields := pipe.HGetAll(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, store.Wrap(err)
	}

	vals := fields.Val()
	if len(vals) == 0 || ttl.Val() <= 0 {
		return nil, ErrNotHeld
	}

	entry := &Entry{ResourceKey: resourceKey, HolderJobID: vals["holder"]}
	if at, err := time.Parse(time.RFC3339Nano, vals["acquired_at"]); err == nil {
		entry.AcquiredAt = at
	}
	entry.LeaseExpiresAt = l.now().UTC().Add(ttl.Val())
	return entry, nil
}
