package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/shared"
)

// Reporter is the handle a [Work] function uses to report progress and observe cancellation.
//
// It is safe for concurrent use. Calls after the job has finished are ignored.
type Reporter struct {
	s      *Spawner
	e      *entry
	logger *log.Logger
	closed bool // guarded by e.mu
}

func newReporter(s *Spawner, e *entry) *Reporter {
	return &Reporter{
		s:      s,
		e:      e,
		logger: shared.WithLogger(s.logger, "job_id", e.job.ID, "kind", e.job.Kind),
	}
}

// JobID returns the id of the job being reported on.
func (r *Reporter) JobID() string {
	return r.e.job.ID
}

// Logger returns a logger tagged with the job id and kind.
func (r *Reporter) Logger() *log.Logger {
	return r.logger
}

// Report records progress (0..100) and an optional stage label, then notifies subscribers.
//
// Values are clamped and progress never moves backwards. A failed store write is logged and
// returned, but the job keeps running.
func (r *Reporter) Report(progress int, stage string) error {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()

	if r.closed {
		return nil
	}

	next := max(r.e.job.Progress, min(max(progress, 0), 100))
	if next == r.e.job.Progress && (stage == "" || stage == r.e.job.Stage) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.s.opts.StoreTimeout)
	defer cancel()

	err := r.s.tracker.SetProgress(ctx, &r.e.job, next, stage)
	if err != nil {
		r.logger.Warn("failed to store progress", "progress", next, "error", err)
	}
	r.s.emit(ctx, r.e.job)
	return err
}

// Reportf reports progress with a formatted stage label.
func (r *Reporter) Reportf(progress int, format string, args ...any) error {
	return r.Report(progress, fmt.Sprintf(format, args...))
}

// Cancelled reports whether cancellation was requested for the job.
func (r *Reporter) Cancelled() bool {
	return r.e.cancelled.Load()
}

// Checkpoint returns [shared.ErrCancelled] once cancellation was requested and [shared.ErrLockLost]
// once the resource lock was lost. Work should return the error it gets.
func (r *Reporter) Checkpoint() error {
	switch {
	case r.e.lost.Load():
		return shared.ErrLockLost
	case r.e.cancelled.Load():
		return shared.ErrCancelled
	}
	return nil
}

func (r *Reporter) close() {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	r.closed = true
}
