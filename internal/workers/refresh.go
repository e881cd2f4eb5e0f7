package workers

import (
	"context"
	"fmt"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/tasks"
)

// Refresh fetches p's feed and stores episodes that are not known yet.
func (f *Factory) Refresh(p *models.Podcast) tasks.Work {
	return func(ctx context.Context, r *tasks.Reporter) error {
		r.Report(5, "fetching feed")
		feed, err := f.Feeds.Fetch(ctx, p.FeedURL)
		if err != nil {
			return err
		}
		if err := r.Checkpoint(); err != nil {
			return err
		}

		r.Reportf(60, "storing %d episodes", len(feed.Episodes))
		added, err := f.Episodes.UpsertMany(ctx, p.ID, feed.Episodes)
		if err != nil {
			return err
		}

		title := feed.Title
		if title == "" {
			title = p.Title
		}
		if err := f.Podcasts.MarkRefreshed(ctx, p.ID, title, feed.Description, f.Now()); err != nil {
			return fmt.Errorf("failed to mark podcast refreshed: %w", err)
		}

		r.Logger().Info("podcast refreshed", "podcast_id", p.ID, "added", added)
		r.Reportf(95, "added %d new episodes", added)
		return nil
	}
}
