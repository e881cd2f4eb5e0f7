package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/jmoiron/sqlx"
)

// EpisodeRepository persists feed items.
type EpisodeRepository struct {
	db *sqlx.DB
}

// NewEpisodeRepository creates a new EpisodeRepository with the given database connection
func NewEpisodeRepository(db *sqlx.DB) *EpisodeRepository {
	return &EpisodeRepository{db: db}
}

// UpsertMany stores episodes for podcastID, skipping GUIDs already present, and returns how many were new.
func (r *EpisodeRepository) UpsertMany(ctx context.Context, podcastID int64, episodes []models.Episode) (int, error) {
	inserted := 0
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
			INSERT INTO episodes (podcast_id, guid, title, audio_url, published_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (podcast_id, guid) DO NOTHING
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, ep := range episodes {
			if ep.GUID == "" {
				continue
			}
			result, err := stmt.ExecContext(ctx, podcastID, ep.GUID, ep.Title, ep.AudioURL, ep.PublishedAt, now)
			if err != nil {
				return fmt.Errorf("failed to insert episode %s: %w", ep.GUID, err)
			}
			if n, err := result.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListByPodcast returns a podcast's episodes, newest first.
func (r *EpisodeRepository) ListByPodcast(ctx context.Context, podcastID int64) ([]models.Episode, error) {
	episodes := []models.Episode{}
	query := r.db.Rebind(`
		SELECT id, podcast_id, guid, title, audio_url, published_at, created_at
		FROM episodes
		WHERE podcast_id = ?
		ORDER BY published_at DESC, id DESC
	`)
	if err := r.db.SelectContext(ctx, &episodes, query, podcastID); err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	return episodes, nil
}

// Count returns the number of stored episodes for a podcast.
func (r *EpisodeRepository) Count(ctx context.Context, podcastID int64) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM episodes WHERE podcast_id = ?`), podcastID); err != nil {
		return 0, fmt.Errorf("failed to count episodes: %w", err)
	}
	return n, nil
}
