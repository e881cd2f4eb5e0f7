// package progress stores job snapshots in the shared state store
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/store"
	"github.com/redis/go-redis/v9"
)

// Options sets snapshot lifetimes.
type Options struct {
	ActiveTTL time.Duration // TTL while the job has not finished, refreshed on every write
	Retention time.Duration // TTL once the job is terminal
	Now       func() time.Time
}

// Tracker is the authority on a job's state and progress.
//
// Snapshots live at "<prefix>:job:<id>". Each user also has a sorted index of job ids at
// "<prefix>:user:<id>:jobs", scored by creation time, pruned lazily as snapshots expire.
type Tracker struct {
	store *store.Store
	opts  Options
}

// NewTracker creates a Tracker. Zero durations fall back to one hour active and seven days retention.
func NewTracker(s *store.Store, opts Options) *Tracker {
	if opts.ActiveTTL <= 0 {
		opts.ActiveTTL = time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{store: s, opts: opts}
}

func (t *Tracker) jobKey(id string) string {
	return t.store.Key("job", id)
}

func (t *Tracker) userKey(userID int64) string {
	return t.store.Key("user", strconv.FormatInt(userID, 10), "jobs")
}

// Set writes the snapshot and refreshes its TTL.
func (t *Tracker) Set(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ttl := t.opts.ActiveTTL
	if job.State.Terminal() {
		ttl = t.opts.Retention
	}

	userKey := t.userKey(job.OwnerUserID)
	pipe := t.store.Client().TxPipeline()
	pipe.Set(ctx, t.jobKey(job.ID), data, ttl)
	pipe.ZAdd(ctx, userKey, redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
	pipe.Expire(ctx, userKey, t.opts.Retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return store.Wrap(err)
	}
	return nil
}

// Touch pushes back the expiry of a live snapshot by the active TTL. A missing snapshot is [shared.ErrNotFound].
func (t *Tracker) Touch(ctx context.Context, id string) error {
	ok, err := t.store.Client().Expire(ctx, t.jobKey(id), t.opts.ActiveTTL).Result()
	if err != nil {
		return store.Wrap(err)
	}
	if !ok {
		return fmt.Errorf("%w: job %s", shared.ErrNotFound, id)
	}
	return nil
}

// Get reads a snapshot. A missing or evicted job is [shared.ErrNotFound].
func (t *Tracker) Get(ctx context.Context, id string) (*models.Job, error) {
	data, err := t.store.Client().Get(ctx, t.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: job %s", shared.ErrNotFound, id)
		}
		return nil, store.Wrap(err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// SetProgress updates progress and stage on job and writes it.
//
// Progress is clamped to 0..100 and never moves backwards.
func (t *Tracker) SetProgress(ctx context.Context, job *models.Job, progress int, stage string) error {
	job.Progress = max(job.Progress, min(max(progress, 0), 100))
	if stage != "" {
		job.Stage = stage
	}
	return t.Set(ctx, job)
}

// Finalize moves job into a terminal state and stores it with the retention TTL.
//
// message is kept only for failed jobs. A succeeded job reports 100% progress.
func (t *Tracker) Finalize(ctx context.Context, job *models.Job, state models.State, message string) error {
	if !state.Terminal() || !job.State.CanTransition(state) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, job.State, state)
	}

	finished := t.opts.Now().UTC()
	job.State = state
	job.FinishedAt = &finished
	job.Error = ""
	switch state {
	case models.StateSucceeded:
		job.Progress = 100
	case models.StateFailed:
		job.Error = message
	}
	return t.Set(ctx, job)
}

// ListByUser returns the user's known jobs, newest first.
//
// Ids whose snapshot has expired are removed from the index as a side effect.
func (t *Tracker) ListByUser(ctx context.Context, userID int64) ([]models.Job, error) {
	userKey := t.userKey(userID)
	client := t.store.Client()

	ids, err := client.ZRevRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return nil, store.Wrap(err)
	}
	if len(ids) == 0 {
		return []models.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = t.jobKey(id)
	}
	vals, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, store.Wrap(err)
	}

	jobs := make([]models.Job, 0, len(vals))
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		jobs = append(jobs, job)
	}

	if len(stale) > 0 {
		// Pruning is best effort; the next listing retries it.
		client.ZRem(ctx, userKey, stale...)
	}
	return jobs, nil
}
