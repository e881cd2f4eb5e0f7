package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/tasks"
	"golang.org/x/time/rate"
)

const importWorkers = 4

// subscribeResult is the outcome of adding one feed.
type subscribeResult struct {
	Feed    FeedRef
	Created bool
	Err     error
}

// Import subscribes userID to every feed and loads the episodes of new subscriptions.
//
// Feed fetches are rate limited. A feed that cannot be fetched stays subscribed and is picked up by its next
// refresh; the job fails only if no feed could be added at all.
func (f *Factory) Import(userID int64, feeds []FeedRef) tasks.Work {
	return func(ctx context.Context, r *tasks.Reporter) error {
		results, err := f.subscribeAll(ctx, r, userID, feeds, "importing")
		if err != nil {
			return err
		}

		added, failed := results.counts()
		r.Logger().Info("opml imported", "feeds", len(feeds), "added", added, "failed", failed)
		if failed == len(feeds) {
			return fmt.Errorf("%w: none of %d feeds could be imported", shared.ErrWorkFailed, len(feeds))
		}
		r.Reportf(95, "imported %d of %d feeds, %d failed", added, len(feeds), failed)
		return nil
	}
}

type subscribeResults []subscribeResult

func (s subscribeResults) counts() (added, failed int) {
	for _, res := range s {
		switch {
		case res.Err != nil:
			failed++
		case res.Created:
			added++
		}
	}
	return added, failed
}

// subscribeAll runs a small worker pool over feeds, reporting progress as each one completes.
//
// Dispatch stops at the first failed checkpoint; feeds already handed to workers still finish.
func (f *Factory) subscribeAll(ctx context.Context, r *tasks.Reporter, userID int64, feeds []FeedRef, verb string) (subscribeResults, error) {
	limiter := rate.NewLimiter(rate.Limit(f.Storage.ImportRate), 1)

	jobs := make(chan FeedRef, len(feeds))
	results := make(chan subscribeResult, len(feeds))

	var wg sync.WaitGroup
	for i := 0; i < min(importWorkers, max(len(feeds), 1)); i++ {
		wg.Add(1)
		go f.subscribeWorker(ctx, &wg, limiter, userID, jobs, results)
	}

	var stopErr error
	go func() {
		defer close(jobs)
		for _, feed := range feeds {
			if err := r.Checkpoint(); err != nil {
				stopErr = err
				return
			}
			select {
			case <-ctx.Done():
				stopErr = ctx.Err()
				return
			case jobs <- feed:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(subscribeResults, 0, len(feeds))
	for res := range results {
		out = append(out, res)
		if res.Err != nil {
			r.Logger().Warn("feed failed", "url", res.Feed.URL, "error", res.Err)
		}
		r.Reportf(len(out)*90/max(len(feeds), 1), "%s %d/%d", verb, len(out), len(feeds))
	}

	// results is closed only after the dispatcher closed jobs, so stopErr is settled here.
	if stopErr != nil {
		return out, stopErr
	}
	return out, nil
}

func (f *Factory) subscribeWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	limiter *rate.Limiter,
	userID int64,
	jobs <-chan FeedRef,
	results chan<- subscribeResult,
) {
	defer wg.Done()

	for feed := range jobs {
		results <- f.subscribeOne(ctx, limiter, userID, feed)
	}
}

func (f *Factory) subscribeOne(ctx context.Context, limiter *rate.Limiter, userID int64, ref FeedRef) subscribeResult {
	res := subscribeResult{Feed: ref}

	podcast, created, err := f.Podcasts.Subscribe(ctx, userID, ref.URL, ref.Title)
	if err != nil {
		res.Err = err
		return res
	}
	res.Created = created
	if !created {
		return res
	}

	if err := limiter.Wait(ctx); err != nil {
		res.Err = err
		return res
	}
	feed, err := f.Feeds.Fetch(ctx, ref.URL)
	if err != nil {
		res.Err = err
		return res
	}
	if _, err := f.Episodes.UpsertMany(ctx, podcast.ID, feed.Episodes); err != nil {
		res.Err = err
		return res
	}

	title := feed.Title
	if title == "" {
		title = podcast.Title
	}
	if err := f.Podcasts.MarkRefreshed(ctx, podcast.ID, title, feed.Description, f.Now()); err != nil {
		res.Err = err
	}
	return res
}
