package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/progress"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/store"
)

// errShutdown is the cancellation cause for work interrupted by [Spawner.Shutdown].
var errShutdown = errors.New("server shutting down")

// Work is the body of a job. It should call [Reporter.Checkpoint] between units of work
// and return the error it gets.
type Work func(ctx context.Context, r *Reporter) error

// Request describes a job to submit.
type Request struct {
	Kind   models.Kind
	Owner  int64
	Target string // identifies the resource within Kind, e.g. a podcast id
	Work   Work
}

// Locker is the resource lock the spawner relies on for exclusivity.
type Locker interface {
	TryAcquire(ctx context.Context, resourceKey, jobID string, lease time.Duration) (bool, error)
	Renew(ctx context.Context, resourceKey, jobID string, lease time.Duration) (bool, error)
	Release(ctx context.Context, resourceKey, jobID string) error
}

// Publisher delivers job events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Recorder keeps terminal job outcomes after the tracker evicts them.
type Recorder interface {
	Record(ctx context.Context, job models.Job) error
}

// Options configures a [Spawner].
type Options struct {
	Lease         time.Duration // lock lease, renewed every RenewInterval
	RenewInterval time.Duration // defaults to Lease/3
	StoreTimeout  time.Duration // per-call timeout for bookkeeping writes
	Recorder      Recorder      // optional
	Logger        *log.Logger
	Now           func() time.Time
}

// Spawner submits and supervises jobs.
type Spawner struct {
	locks     Locker
	tracker   *progress.Tracker
	publisher Publisher
	store     *store.Store
	registry  *Registry
	opts      Options
	logger    *log.Logger

	base   context.Context
	stop   context.CancelCauseFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	ready  chan struct{}
	once   sync.Once
}

// NewSpawner creates a Spawner. The store carries cross-instance cancel requests.
func NewSpawner(s *store.Store, locks Locker, tracker *progress.Tracker, pub Publisher, opts Options) *Spawner {
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.Lease {
		opts.RenewInterval = opts.Lease / 3
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	base, stop := context.WithCancelCause(context.Background())
	return &Spawner{
		locks:     locks,
		tracker:   tracker,
		publisher: pub,
		store:     s,
		registry:  NewRegistry(),
		opts:      opts,
		logger:    shared.WithLogger(opts.Logger, "component", "spawner"),
		base:      base,
		stop:      stop,
		ready:     make(chan struct{}),
	}
}

// Submit starts a job for req, or fails with [shared.ErrAlreadyRunning] if the resource is busy.
//
// A busy resource is rejected outright; nothing is queued. If the store cannot be reached the
// submission fails with [shared.ErrStoreUnavailable] and no work starts.
func (s *Spawner) Submit(ctx context.Context, req Request) (string, error) {
	if !req.Kind.Valid() {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidKind, req.Kind)
	}
	if req.Owner <= 0 || req.Target == "" || req.Work == nil {
		return "", fmt.Errorf("%w: job needs an owner, a target and work", shared.ErrInvalidInput)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, errShutdown)
	}

	job := models.NewJob(shared.GenerateID(), req.Kind, req.Owner, req.Target, s.opts.Now())
	logger := shared.WithLogger(s.logger, "job_id", job.ID, "resource", job.ResourceKey)

	// The store's lease can only expire later than this.
	leasedAt := s.opts.Now()
	ok, err := s.locks.TryAcquire(ctx, job.ResourceKey, job.ID, s.opts.Lease)
	if err != nil {
		logger.Error("lock acquire failed", "error", err)
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrAlreadyRunning, job.ResourceKey)
	}

	if err := s.tracker.Set(ctx, job); err != nil {
		logger.Error("failed to store queued job", "error", err)
		s.release(job.ResourceKey, job.ID, logger)
		return "", err
	}
	s.emit(ctx, *job)

	workCtx, cancel := context.WithCancelCause(s.base)
	e := &entry{job: *job, cancel: cancel, leasedAt: leasedAt}
	s.registry.add(e)

	s.wg.Add(1)
	go s.run(workCtx, e, req.Work, logger)

	logger.Info("job submitted", "owner", job.OwnerUserID)
	return job.ID, nil
}

// Status returns the tracker's snapshot. [shared.ErrNotFound] means unknown: assume not running.
//
// While the store is unreachable, jobs running on this instance are still answered from the registry.
func (s *Spawner) Status(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.tracker.Get(ctx, jobID)
	if errors.Is(err, shared.ErrStoreUnavailable) {
		if local, ok := s.registry.Get(jobID); ok {
			return &local, nil
		}
	}
	return job, err
}

// List returns the user's known jobs, newest first.
func (s *Spawner) List(ctx context.Context, userID int64) ([]models.Job, error) {
	return s.tracker.ListByUser(ctx, userID)
}

// Cancel requests cooperative cancellation. It only sets a flag: work stops at its next checkpoint.
//
// Jobs owned by another instance are reached through the store. Cancelling a finished job is a no-op;
// an unknown job is [shared.ErrNotFound].
func (s *Spawner) Cancel(ctx context.Context, jobID string) error {
	if s.registry.Cancel(jobID) {
		s.logger.Info("cancellation requested", "job_id", jobID)
		return nil
	}

	job, err := s.tracker.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	if err := s.store.Publish(ctx, s.cancelChannel(), []byte(jobID)); err != nil {
		return err
	}
	s.logger.Info("cancellation forwarded", "job_id", jobID)
	return nil
}

func (s *Spawner) cancelChannel() string {
	return s.store.Key("cancel")
}

// Ready is closed once [Spawner.Run] is listening for forwarded cancellations.
func (s *Spawner) Ready() <-chan struct{} {
	return s.ready
}

// Run listens for cancellations forwarded by other instances until ctx is done.
func (s *Spawner) Run(ctx context.Context) error {
	sub, err := s.store.Subscribe(ctx, s.cancelChannel())
	if err != nil {
		return err
	}
	defer sub.Close()
	s.once.Do(func() { close(s.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if s.registry.Cancel(msg.Payload) {
				s.logger.Info("forwarded cancellation applied", "job_id", msg.Payload)
			}
		}
	}
}

// Shutdown stops accepting jobs, interrupts running work and waits for it to finalize.
func (s *Spawner) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop(errShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %d jobs still running", shared.ErrTimeout, s.registry.Len())
	}
}

// run drives one job from Running to its terminal state.
func (s *Spawner) run(ctx context.Context, e *entry, work Work, logger *log.Logger) {
	defer s.wg.Done()

	s.start(e, logger)

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		s.renew(e, stop, logger)
	}()

	rep := newReporter(s, e)
	err := invoke(ctx, work, rep)

	close(stop)
	<-renewed
	rep.close()

	if err != nil && errors.Is(context.Cause(ctx), errShutdown) && !errors.Is(err, shared.ErrCancelled) {
		err = fmt.Errorf("interrupted: %w", errShutdown)
	}
	s.finalize(e, err, logger)
	e.cancel(nil)
}

func (s *Spawner) start(e *entry, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	started := s.opts.Now().UTC()
	e.job.State = models.StateRunning
	e.job.StartedAt = &started
	if err := s.tracker.Set(ctx, &e.job); err != nil {
		logger.Warn("failed to store running state", "error", err)
	}
	s.emit(ctx, e.job)
}

// invoke runs work, turning a panic into an error.
func invoke(ctx context.Context, work Work, rep *Reporter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", shared.ErrWorkFailed, p)
		}
	}()
	return work(ctx, rep)
}

// renew keeps the lease alive until stop is closed.
//
// A renew that returns false means another holder may exist, so the job is stopped at once.
// Store errors are tolerated only while the next tick still falls inside the lease; a renew call
// never runs past it. Successful renews also keep the tracker's snapshot from expiring.
func (s *Spawner) renew(e *entry, stop <-chan struct{}, logger *log.Logger) {
	ticker := time.NewTicker(s.opts.RenewInterval)
	defer ticker.Stop()

	deadline := e.leasedAt.Add(s.opts.Lease)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		attempt := s.opts.Now()
		ctx, cancel := context.WithTimeout(context.Background(), min(s.opts.RenewInterval, deadline.Sub(attempt)))
		ok, err := s.locks.Renew(ctx, e.job.ResourceKey, e.job.ID, s.opts.Lease)
		cancel()

		switch {
		case err != nil && deadline.Sub(s.opts.Now()) > s.opts.RenewInterval:
			logger.Warn("lease renew failed, will retry", "error", err)
			continue
		case err != nil:
			logger.Error("lease about to expire while store unreachable", "error", err)
		case !ok:
			logger.Error("lease renew rejected")
		default:
			deadline = attempt.Add(s.opts.Lease)
			s.touch(e, logger)
			continue
		}

		e.lost.Store(true)
		e.cancel(shared.ErrLockLost)
		return
	}
}

// touch extends the snapshot's TTL so a long job with no progress reports stays visible.
func (s *Spawner) touch(e *entry, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()

	if err := s.tracker.Touch(ctx, e.job.ID); err != nil {
		logger.Warn("failed to refresh snapshot ttl", "error", err)
	}
}

// finalize records the outcome, frees the lock, and publishes the terminal event.
//
// The lock is released before the terminal event goes out so a client reacting to it can resubmit.
// A job that lost its lock does not release: the key may belong to someone else by now.
func (s *Spawner) finalize(e *entry, workErr error, logger *log.Logger) {
	state, message := outcome(workErr, e.lost.Load())

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()

	e.mu.Lock()
	if err := s.tracker.Finalize(ctx, &e.job, state, message); err != nil {
		logger.Error("failed to store terminal state", "state", state, "error", err)
	}
	job := e.job
	e.mu.Unlock()

	if !e.lost.Load() {
		s.release(job.ResourceKey, job.ID, logger)
	}
	s.registry.remove(job.ID)
	s.emit(ctx, job)

	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.Record(ctx, job); err != nil {
			logger.Warn("failed to record job history", "error", err)
		}
	}

	switch state {
	case models.StateFailed:
		logger.Error("job failed", "error", message)
	default:
		logger.Info("job finished", "state", state)
	}
}

// outcome maps what work returned onto a terminal state and error message.
func outcome(workErr error, lost bool) (models.State, string) {
	switch {
	case lost:
		return models.StateFailed, shared.ErrLockLost.Error()
	case workErr == nil:
		return models.StateSucceeded, ""
	case errors.Is(workErr, shared.ErrCancelled):
		return models.StateCancelled, ""
	default:
		return models.StateFailed, workErr.Error()
	}
}

func (s *Spawner) release(resourceKey, jobID string, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()

	if err := s.locks.Release(ctx, resourceKey, jobID); err != nil {
		// The lease expires on its own.
		logger.Warn("failed to release lock", "error", err)
	}
}

// emit publishes the job's current snapshot. Delivery problems never affect the job.
func (s *Spawner) emit(ctx context.Context, job models.Job) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, job.Event(s.opts.Now())); err != nil {
		s.logger.Warn("failed to publish event", "job_id", job.ID, "state", job.State, "error", err)
	}
}
