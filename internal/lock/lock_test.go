package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/store"
	"github.com/redis/go-redis/v9"
)

func setupLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { s.Close() })
	return New(s), mr
}

func TestLocker(t *testing.T) {
	const key = "refresh_podcast:42"
	lease := time.Minute

	t.Run("TryAcquire", func(t *testing.T) {
		t.Run("first caller wins", func(t *testing.T) {
			l, _ := setupLocker(t)
			ctx := context.Background()

			ok, err := l.TryAcquire(ctx, key, "job-a", lease)
			if err != nil || !ok {
				t.Fatalf("expected acquire, got ok=%v err=%v", ok, err)
			}

			ok, err = l.TryAcquire(ctx, key, "job-b", lease)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Error("second acquire should fail while lease is live")
			}
		})

		t.Run("different keys are independent", func(t *testing.T) {
			l, _ := setupLocker(t)
			ctx := context.Background()

			for _, k := range []string{"refresh_podcast:1", "refresh_podcast:2", "backup:server"} {
				if ok, err := l.TryAcquire(ctx, k, "job-"+k, lease); err != nil || !ok {
					t.Errorf("expected acquire of %s, got ok=%v err=%v", k, ok, err)
				}
			}
		})

		t.Run("expired lease can be taken", func(t *testing.T) {
			l, mr := setupLocker(t)
			ctx := context.Background()

			if ok, _ := l.TryAcquire(ctx, key, "job-a", lease); !ok {
				t.Fatal("expected first acquire")
			}
			mr.FastForward(lease + time.Second)

			ok, err := l.TryAcquire(ctx, key, "job-b", lease)
			if err != nil || !ok {
				t.Errorf("expected acquire after expiry, got ok=%v err=%v", ok, err)
			}
		})

		t.Run("rejects non-positive lease", func(t *testing.T) {
			l, _ := setupLocker(t)

			if _, err := l.TryAcquire(context.Background(), key, "job-a", 0); !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})

		t.Run("store failure is not an acquire", func(t *testing.T) {
			l, mr := setupLocker(t)
			mr.SetError("ERR store offline")

			ok, err := l.TryAcquire(context.Background(), key, "job-a", lease)
			if ok {
				t.Error("acquire must not succeed when the store fails")
			}
			if !errors.Is(err, shared.ErrStoreUnavailable) {
				t.Errorf("expected ErrStoreUnavailable, got %v", err)
			}
		})

		t.Run("concurrent callers", func(t *testing.T) {
			l, _ := setupLocker(t)
			ctx := context.Background()

			const n = 32
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, err := l.TryAcquire(ctx, key, fmt.Sprintf("job-%d", i), lease)
					if err != nil {
						t.Errorf("unexpected error: %v", err)
					}
					if ok {
						wins.Add(1)
					}
				}(i)
			}
			wg.Wait()

			if wins.Load() != 1 {
				t.Errorf("expected exactly one winner, got %d", wins.Load())
			}
		})
	})

	t.Run("Renew", func(t *testing.T) {
		t.Run("holder extends lease", func(t *testing.T) {
			l, mr := setupLocker(t)
			ctx := context.Background()

			l.TryAcquire(ctx, key, "job-a", lease)
			mr.FastForward(lease / 2)

			ok, err := l.Renew(ctx, key, "job-a", lease)
			if err != nil || !ok {
				t.Fatalf("expected renew, got ok=%v err=%v", ok, err)
			}

			mr.FastForward(lease * 3 / 4)
			if _, err := l.Inspect(ctx, key); err != nil {
				t.Errorf("renewed lock should still be held: %v", err)
			}
		})

		t.Run("non-holder cannot renew", func(t *testing.T) {
			l, _ := setupLocker(t)
			ctx := context.Background()

			l.TryAcquire(ctx, key, "job-a", lease)
			if ok, _ := l.Renew(ctx, key, "job-b", lease); ok {
				t.Error("renew by non-holder should fail")
			}
		})

		t.Run("expired lease cannot be renewed", func(t *testing.T) {
			l, mr := setupLocker(t)
			ctx := context.Background()

			l.TryAcquire(ctx, key, "job-a", lease)
			mr.FastForward(lease + time.Second)

			if ok, _ := l.Renew(ctx, key, "job-a", lease); ok {
				t.Error("renew after expiry should fail")
			}
		})
	})

	t.Run("Release", func(t *testing.T) {
		t.Run("holder releases", func(t *testing.T) {
			l, _ := setupLocker(t)
			ctx := context.Background()

			l.TryAcquire(ctx, key, "job-a", lease)
			if err := l.Release(ctx, key, "job-a"); err != nil {
				t.Fatalf("release failed: %v", err)
			}

			if ok, _ := l.TryAcquire(ctx, key, "job-b", lease); !ok {
				t.Error("lock should be free after release")
			}
		})

		t.Run("idempotent", func(t *testing.T) {
			l, _ := setupLocker(t)
			ctx := context.Background()

			l.TryAcquire(ctx, key, "job-a", lease)
			for i := range 3 {
				if err := l.Release(ctx, key, "job-a"); err != nil {
					t.Errorf("release %d failed: %v", i, err)
				}
			}
		})

		t.Run("never affects another holder", func(t *testing.T) {
			l, mr := setupLocker(t)
			ctx := context.Background()

			l.TryAcquire(ctx, key, "job-a", lease)
			mr.FastForward(lease + time.Second)
			l.TryAcquire(ctx, key, "job-b", lease)

			if err := l.Release(ctx, key, "job-a"); err != nil {
				t.Fatalf("stale release should be a no-op, got %v", err)
			}

			entry, err := l.Inspect(ctx, key)
			if err != nil {
				t.Fatalf("lock should still be held: %v", err)
			}
			if entry.HolderJobID != "job-b" {
				t.Errorf("expected holder job-b, got %s", entry.HolderJobID)
			}
		})
	})

	t.Run("Inspect", func(t *testing.T) {
		l, _ := setupLocker(t)
		ctx := context.Background()

		if _, err := l.Inspect(ctx, key); !errors.Is(err, ErrNotHeld) || !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotHeld, got %v", err)
		}

		before := time.Now().UTC()
		l.TryAcquire(ctx, key, "job-a", lease)

		entry, err := l.Inspect(ctx, key)
		if err != nil {
			t.Fatalf("inspect failed: %v", err)
		}
		if entry.HolderJobID != "job-a" || entry.ResourceKey != key {
			t.Errorf("unexpected entry %+v", entry)
		}
		if entry.AcquiredAt.Before(before.Add(-time.Second)) {
			t.Errorf("acquired_at %v is too early", entry.AcquiredAt)
		}
		if !entry.LeaseExpiresAt.After(entry.AcquiredAt) {
			t.Errorf("lease should expire after acquisition, got %v", entry.LeaseExpiresAt)
		}
	})
}
