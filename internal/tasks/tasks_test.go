package tasks

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/desertthunder/podtasks/internal/lock"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/progress"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/store"
	"github.com/redis/go-redis/v9"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) forJob(id string) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, e := range p.events {
		if e.JobID == id {
			out = append(out, e)
		}
	}
	return out
}

type stubLocker struct {
	mu       sync.Mutex
	renewOK  bool
	renewErr error
	hang     bool // Renew blocks until its context ends
	released []string
}

func (l *stubLocker) TryAcquire(ctx context.Context, resourceKey, jobID string, lease time.Duration) (bool, error) {
	return true, nil
}

func (l *stubLocker) Renew(ctx context.Context, resourceKey, jobID string, lease time.Duration) (bool, error) {
	if l.hang {
		<-ctx.Done()
		return false, store.Wrap(ctx.Err())
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.renewOK, l.renewErr
}

func (l *stubLocker) Release(ctx context.Context, resourceKey, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, jobID)
	return nil
}

func (l *stubLocker) releasedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.released)
}

type recordingRecorder struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (r *recordingRecorder) Record(ctx context.Context, job models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

type fixture struct {
	spawner *Spawner
	pub     *recordingPublisher
	store   *store.Store
	mr      *miniredis.Miniredis
}

func setupSpawner(t *testing.T, locks Locker, opts Options) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	s := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { s.Close() })
	return newFixture(t, s, mr, locks, opts)
}

func newFixture(t *testing.T, s *store.Store, mr *miniredis.Miniredis, locks Locker, opts Options) *fixture {
	t.Helper()

	if locks == nil {
		locks = lock.New(s)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	pub := &recordingPublisher{}
	sp := NewSpawner(s, locks, progress.NewTracker(s, progress.Options{}), pub, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sp.Shutdown(ctx)
	})
	return &fixture{spawner: sp, pub: pub, store: s, mr: mr}
}

// waitTerminal polls until the job's terminal event has been published.
func (f *fixture) waitTerminal(t *testing.T, id string) models.Event {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range f.pub.forJob(id) {
			if e.State.Terminal() {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", id)
	return models.Event{}
}

// reached reports whether an event with state was published for the job.
func (f *fixture) reached(id string, state models.State) bool {
	for _, e := range f.pub.forJob(id) {
		if e.State == state {
			return true
		}
	}
	return false
}

func noop(ctx context.Context, r *Reporter) error { return nil }

func TestSpawner_Submit(t *testing.T) {
	t.Run("runs work to success", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})
		ctx := context.Background()

		id, err := f.spawner.Submit(ctx, Request{
			Kind:   models.KindRefreshPodcast,
			Owner:  7,
			Target: "42",
			Work: func(ctx context.Context, r *Reporter) error {
				for _, p := range []int{10, 50, 30, 80} {
					if err := r.Report(p, "fetching"); err != nil {
						return err
					}
				}
				return nil
			},
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		final := f.waitTerminal(t, id)
		if final.State != models.StateSucceeded || final.Progress != 100 {
			t.Errorf("expected succeeded at 100, got %s at %d", final.State, final.Progress)
		}

		events := f.pub.forJob(id)
		if events[0].State != models.StateQueued {
			t.Errorf("expected first event queued, got %s", events[0].State)
		}
		if events[1].State != models.StateRunning {
			t.Errorf("expected second event running, got %s", events[1].State)
		}

		last := -1
		terminal := 0
		for _, e := range events {
			if e.Progress < last {
				t.Errorf("progress moved backwards: %d after %d", e.Progress, last)
			}
			last = e.Progress
			if e.State.Terminal() {
				terminal++
			}
		}
		if terminal != 1 {
			t.Errorf("expected exactly one terminal event, got %d", terminal)
		}

		job, err := f.spawner.Status(ctx, id)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if job.State != models.StateSucceeded || job.StartedAt == nil || job.FinishedAt == nil {
			t.Errorf("unexpected snapshot %+v", job)
		}
	})

	t.Run("rejects a busy resource", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})
		ctx := context.Background()
		release := make(chan struct{})

		first, err := f.spawner.Submit(ctx, Request{
			Kind: models.KindRefreshPodcast, Owner: 7, Target: "42",
			Work: func(ctx context.Context, r *Reporter) error {
				<-release
				return nil
			},
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		// A different user refreshing the same podcast hits the same resource.
		_, err = f.spawner.Submit(ctx, Request{Kind: models.KindRefreshPodcast, Owner: 8, Target: "42", Work: noop})
		if !errors.Is(err, shared.ErrAlreadyRunning) {
			t.Errorf("expected ErrAlreadyRunning, got %v", err)
		}

		other, err := f.spawner.Submit(ctx, Request{Kind: models.KindRefreshPodcast, Owner: 7, Target: "43", Work: noop})
		if err != nil {
			t.Fatalf("independent resource should be accepted: %v", err)
		}
		f.waitTerminal(t, other)

		close(release)
		f.waitTerminal(t, first)

		again, err := f.spawner.Submit(ctx, Request{Kind: models.KindRefreshPodcast, Owner: 8, Target: "42", Work: noop})
		if err != nil {
			t.Fatalf("resubmit after terminal event failed: %v", err)
		}
		f.waitTerminal(t, again)
	})

	t.Run("concurrent submits", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})
		release := make(chan struct{})
		defer close(release)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
			rejected int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.spawner.Submit(context.Background(), Request{
					Kind: models.KindBackup, Owner: 1, Target: "server",
					Work: func(ctx context.Context, r *Reporter) error {
						<-release
						return nil
					},
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					accepted++
				case errors.Is(err, shared.ErrAlreadyRunning):
					rejected++
				default:
					t.Errorf("unexpected error %v", err)
				}
			}()
		}
		wg.Wait()

		if accepted != 1 || rejected != 15 {
			t.Errorf("expected 1 accepted and 15 rejected, got %d and %d", accepted, rejected)
		}
	})

	t.Run("store unavailable fails closed", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})
		f.mr.SetError("ERR store offline")

		ran := false
		_, err := f.spawner.Submit(context.Background(), Request{
			Kind: models.KindRefreshPodcast, Owner: 7, Target: "42",
			Work: func(ctx context.Context, r *Reporter) error {
				ran = true
				return nil
			},
		})
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
		if ran {
			t.Error("work should not run without a lock")
		}
		if n := f.spawner.registry.Len(); n != 0 {
			t.Errorf("expected empty registry, got %d", n)
		}
	})

	t.Run("invalid requests", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})

		tests := []struct {
			name string
			req  Request
			want error
		}{
			{name: "unknown kind", req: Request{Kind: "reindex", Owner: 1, Target: "x", Work: noop}, want: shared.ErrInvalidKind},
			{name: "no owner", req: Request{Kind: models.KindBackup, Target: "server", Work: noop}, want: shared.ErrInvalidInput},
			{name: "no target", req: Request{Kind: models.KindBackup, Owner: 1, Work: noop}, want: shared.ErrInvalidInput},
			{name: "no work", req: Request{Kind: models.KindBackup, Owner: 1, Target: "server"}, want: shared.ErrInvalidInput},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := f.spawner.Submit(context.Background(), tt.req); !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})
}

func TestSpawner_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		work      Work
		wantState models.State
		wantError string
	}{
		{
			name:      "error message kept verbatim",
			work:      func(ctx context.Context, r *Reporter) error { return errors.New("feed returned 404") },
			wantState: models.StateFailed,
			wantError: "feed returned 404",
		},
		{
			name:      "panic becomes failure",
			work:      func(ctx context.Context, r *Reporter) error { panic("boom") },
			wantState: models.StateFailed,
			wantError: "work failed: panic: boom",
		},
		{
			name:      "cancelled error",
			work:      func(ctx context.Context, r *Reporter) error { return shared.ErrCancelled },
			wantState: models.StateCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupSpawner(t, nil, Options{})
			id, err := f.spawner.Submit(context.Background(), Request{Kind: models.KindExportOPML, Owner: 3, Target: "3", Work: tt.work})
			if err != nil {
				t.Fatalf("submit failed: %v", err)
			}

			final := f.waitTerminal(t, id)
			if final.State != tt.wantState || final.Error != tt.wantError {
				t.Errorf("expected %s %q, got %s %q", tt.wantState, tt.wantError, final.State, final.Error)
			}
		})
	}
}

func TestSpawner_Cancel(t *testing.T) {
	t.Run("cooperative", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})
		ctx := context.Background()
		started := make(chan struct{})

		id, err := f.spawner.Submit(ctx, Request{
			Kind: models.KindImportOPML, Owner: 5, Target: "5",
			Work: func(ctx context.Context, r *Reporter) error {
				close(started)
				for {
					if err := r.Checkpoint(); err != nil {
						if !r.Cancelled() {
							t.Error("Cancelled should report true once Checkpoint fails on cancel")
						}
						return err
					}
					if ctx.Err() != nil {
						t.Error("cancel should not cancel the work context")
						return ctx.Err()
					}
					time.Sleep(2 * time.Millisecond)
				}
			},
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		<-started

		if err := f.spawner.Cancel(ctx, id); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if final := f.waitTerminal(t, id); final.State != models.StateCancelled {
			t.Errorf("expected cancelled, got %s", final.State)
		}

		if err := f.spawner.Cancel(ctx, id); err != nil {
			t.Errorf("cancelling a finished job should be a no-op, got %v", err)
		}
	})

	t.Run("advisory before the first checkpoint", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})
		ctx := context.Background()
		started := make(chan struct{})
		gate := make(chan struct{})

		id, err := f.spawner.Submit(ctx, Request{
			Kind: models.KindRefreshPodcast, Owner: 5, Target: "42",
			Work: func(ctx context.Context, r *Reporter) error {
				close(started)
				<-gate
				return nil
			},
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		<-started

		if err := f.spawner.Cancel(ctx, id); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		close(gate)

		final := f.waitTerminal(t, id)
		if final.State != models.StateSucceeded || final.Progress != 100 {
			t.Errorf("expected succeeded at 100, got %s at %d", final.State, final.Progress)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{})
		if err := f.spawner.Cancel(context.Background(), "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("forwarded to the owning instance", func(t *testing.T) {
		owner := setupSpawner(t, nil, Options{})
		peer := newFixture(t, owner.store, owner.mr, nil, Options{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go owner.spawner.Run(ctx)
		select {
		case <-owner.spawner.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("listener never became ready")
		}

		id, err := owner.spawner.Submit(ctx, Request{
			Kind: models.KindSyncNextcloud, Owner: 9, Target: "9",
			Work: func(ctx context.Context, r *Reporter) error {
				for {
					if err := r.Checkpoint(); err != nil {
						return err
					}
					time.Sleep(2 * time.Millisecond)
				}
			},
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		if err := peer.spawner.Cancel(ctx, id); err != nil {
			t.Fatalf("forwarded cancel failed: %v", err)
		}
		if final := owner.waitTerminal(t, id); final.State != models.StateCancelled {
			t.Errorf("expected cancelled, got %s", final.State)
		}
	})
}

func TestSpawner_LockLost(t *testing.T) {
	tests := []struct {
		name   string
		locker *stubLocker
	}{
		{name: "renew rejected", locker: &stubLocker{renewOK: false}},
		{name: "store unreachable for a full lease", locker: &stubLocker{renewErr: shared.ErrStoreUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupSpawner(t, tt.locker, Options{Lease: 60 * time.Millisecond, RenewInterval: 10 * time.Millisecond})

			id, err := f.spawner.Submit(context.Background(), Request{
				Kind: models.KindRestore, Owner: 1, Target: "server",
				Work: func(ctx context.Context, r *Reporter) error {
					<-ctx.Done()
					return r.Checkpoint()
				},
			})
			if err != nil {
				t.Fatalf("submit failed: %v", err)
			}

			final := f.waitTerminal(t, id)
			if final.State != models.StateFailed || final.Error != shared.ErrLockLost.Error() {
				t.Errorf("expected failed with %q, got %s %q", shared.ErrLockLost, final.State, final.Error)
			}
			if n := tt.locker.releasedCount(); n != 0 {
				t.Errorf("a lost lock must not be released, got %d releases", n)
			}
		})
	}

	t.Run("stops inside the lease when the store is unreachable", func(t *testing.T) {
		const lease = 300 * time.Millisecond

		tests := []struct {
			name   string
			locker *stubLocker
		}{
			{name: "renew errors", locker: &stubLocker{renewErr: shared.ErrStoreUnavailable}},
			{name: "renew hangs", locker: &stubLocker{hang: true}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := setupSpawner(t, tt.locker, Options{Lease: lease, RenewInterval: 100 * time.Millisecond})
				stopped := make(chan time.Time, 1)

				before := time.Now()
				id, err := f.spawner.Submit(context.Background(), Request{
					Kind: models.KindRestore, Owner: 1, Target: "server",
					Work: func(ctx context.Context, r *Reporter) error {
						<-ctx.Done()
						stopped <- time.Now()
						return r.Checkpoint()
					},
				})
				if err != nil {
					t.Fatalf("submit failed: %v", err)
				}

				if elapsed := (<-stopped).Sub(before); elapsed >= lease {
					t.Errorf("expected work to stop before the %v lease ran out, stopped after %v", lease, elapsed)
				}
				if final := f.waitTerminal(t, id); final.Error != shared.ErrLockLost.Error() {
					t.Errorf("expected %q, got %q", shared.ErrLockLost, final.Error)
				}
			})
		}
	})

	t.Run("renewal refreshes the snapshot ttl", func(t *testing.T) {
		f := setupSpawner(t, nil, Options{Lease: 60 * time.Millisecond, RenewInterval: 10 * time.Millisecond})
		gate := make(chan struct{})
		defer close(gate)

		id, err := f.spawner.Submit(context.Background(), Request{
			Kind: models.KindRefreshPodcast, Owner: 1, Target: "42",
			Work: func(ctx context.Context, r *Reporter) error {
				<-gate
				return nil
			},
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for !f.reached(id, models.StateRunning) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		key := f.store.Key("job", id)
		f.mr.SetTTL(key, time.Second)

		for time.Now().Before(deadline) {
			if f.mr.TTL(key) > time.Second {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Errorf("expected a renew to push the ttl back up, got %v", f.mr.TTL(key))
	})

	t.Run("resubmit after the lease expires", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
		t.Cleanup(func() { s.Close() })
		locks := lock.New(s)
		f := newFixture(t, s, mr, locks, Options{Lease: time.Minute})
		ctx := context.Background()

		// Another holder still owns the key after this process lost it.
		if ok, _ := locks.TryAcquire(ctx, "backup:server", "stale-holder", time.Minute); !ok {
			t.Fatal("setup acquire failed")
		}
		if _, err := f.spawner.Submit(ctx, Request{Kind: models.KindBackup, Owner: 1, Target: "server", Work: noop}); !errors.Is(err, shared.ErrAlreadyRunning) {
			t.Fatalf("expected ErrAlreadyRunning while the stale lease lives, got %v", err)
		}

		mr.FastForward(2 * time.Minute)
		id, err := f.spawner.Submit(ctx, Request{Kind: models.KindBackup, Owner: 1, Target: "server", Work: noop})
		if err != nil {
			t.Fatalf("submit after expiry failed: %v", err)
		}
		f.waitTerminal(t, id)
	})
}

func TestSpawner_Reporter(t *testing.T) {
	f := setupSpawner(t, nil, Options{})
	reporters := make(chan *Reporter, 1)

	id, err := f.spawner.Submit(context.Background(), Request{
		Kind: models.KindRefreshPodcast, Owner: 7, Target: "42",
		Work: func(ctx context.Context, r *Reporter) error {
			reporters <- r
			if r.JobID() == "" {
				t.Error("reporter should know its job id")
			}
			return r.Reportf(40, "fetched %d episodes", 12)
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	f.waitTerminal(t, id)
	before := len(f.pub.forJob(id))

	r := <-reporters
	if err := r.Report(90, "late"); err != nil {
		t.Errorf("late report should be ignored, got %v", err)
	}
	if after := len(f.pub.forJob(id)); after != before {
		t.Errorf("late report published %d extra events", after-before)
	}

	stages := []string{}
	for _, e := range f.pub.forJob(id) {
		if e.Stage != "" {
			stages = append(stages, e.Stage)
		}
	}
	if len(stages) == 0 || stages[0] != "fetched 12 episodes" {
		t.Errorf("expected formatted stage, got %v", stages)
	}
}

func TestSpawner_ListAndRecorder(t *testing.T) {
	rec := &recordingRecorder{}
	f := setupSpawner(t, nil, Options{Recorder: rec})
	ctx := context.Background()

	first, _ := f.spawner.Submit(ctx, Request{Kind: models.KindRefreshPodcast, Owner: 7, Target: "1", Work: noop})
	f.waitTerminal(t, first)
	second, _ := f.spawner.Submit(ctx, Request{Kind: models.KindRefreshPodcast, Owner: 7, Target: "2", Work: noop})
	f.waitTerminal(t, second)

	jobs, err := f.spawner.List(ctx, 7)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.spawner.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.jobs) != 2 || !rec.jobs[0].State.Terminal() {
		t.Errorf("expected two terminal records, got %+v", rec.jobs)
	}
}

func TestSpawner_Shutdown(t *testing.T) {
	f := setupSpawner(t, nil, Options{})
	ctx := context.Background()

	id, err := f.spawner.Submit(ctx, Request{
		Kind: models.KindBackup, Owner: 1, Target: "server",
		Work: func(ctx context.Context, r *Reporter) error {
			<-ctx.Done()
			return context.Cause(ctx)
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.spawner.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	job, err := f.spawner.Status(ctx, id)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if job.State != models.StateFailed || job.Error != "interrupted: server shutting down" {
		t.Errorf("unexpected snapshot %+v", job)
	}

	if _, err := f.spawner.Submit(ctx, Request{Kind: models.KindBackup, Owner: 1, Target: "server", Work: noop}); !errors.Is(err, shared.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable after shutdown, got %v", err)
	}
}

func TestSpawner_Status(t *testing.T) {
	f := setupSpawner(t, nil, Options{})
	ctx := context.Background()
	gate := make(chan struct{})
	defer close(gate)

	id, err := f.spawner.Submit(ctx, Request{
		Kind: models.KindExportOPML, Owner: 3, Target: "3",
		Work: func(ctx context.Context, r *Reporter) error {
			if err := r.Report(30, "writing"); err != nil {
				return err
			}
			<-gate
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, err := f.spawner.Status(ctx, id); err == nil && job.Progress == 30 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.mr.SetError("ERR store offline")
	defer f.mr.SetError("")

	job, err := f.spawner.Status(ctx, id)
	if err != nil {
		t.Fatalf("expected the local snapshot while the store is down, got %v", err)
	}
	if job.State != models.StateRunning || job.Progress != 30 {
		t.Errorf("expected running at 30, got %s at %d", job.State, job.Progress)
	}

	if _, err := f.spawner.Status(ctx, "elsewhere"); !errors.Is(err, shared.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable for a job not running here, got %v", err)
	}
}
