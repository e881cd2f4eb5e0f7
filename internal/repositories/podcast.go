package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/jmoiron/sqlx"
)

const podcastColumns = `id, user_id, title, feed_url, description, last_refreshed_at, created_at, updated_at`

// PodcastRepository persists podcast subscriptions.
type PodcastRepository struct {
	db *sqlx.DB
}

// NewPodcastRepository creates a new PodcastRepository with the given database connection
func NewPodcastRepository(db *sqlx.DB) *PodcastRepository {
	return &PodcastRepository{db: db}
}

// Create inserts p and fills in its id and timestamps.
func (r *PodcastRepository) Create(ctx context.Context, p *models.Podcast) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	query := r.db.Rebind(`
		INSERT INTO podcasts (user_id, title, feed_url, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	if err := r.db.QueryRowxContext(ctx, query, p.UserID, p.Title, p.FeedURL, p.Description, now, now).Scan(&p.ID); err != nil {
		return fmt.Errorf("failed to insert podcast: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// Get retrieves a podcast by id.
func (r *PodcastRepository) Get(ctx context.Context, id int64) (*models.Podcast, error) {
	var p models.Podcast
	query := r.db.Rebind(`SELECT ` + podcastColumns + ` FROM podcasts WHERE id = ?`)
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, notFound(err, "podcast", id)
	}
	return &p, nil
}

// GetForUser retrieves a podcast only if userID owns it. Someone else's podcast is reported as not found.
func (r *PodcastRepository) GetForUser(ctx context.Context, userID, id int64) (*models.Podcast, error) {
	var p models.Podcast
	query := r.db.Rebind(`SELECT ` + podcastColumns + ` FROM podcasts WHERE id = ? AND user_id = ?`)
	if err := r.db.GetContext(ctx, &p, query, id, userID); err != nil {
		return nil, notFound(err, "podcast", id)
	}
	return &p, nil
}

// ListByUser returns the user's podcasts ordered by title.
func (r *PodcastRepository) ListByUser(ctx context.Context, userID int64) ([]models.Podcast, error) {
	podcasts := []models.Podcast{}
	query := r.db.Rebind(`SELECT ` + podcastColumns + ` FROM podcasts WHERE user_id = ? ORDER BY title, id`)
	if err := r.db.SelectContext(ctx, &podcasts, query, userID); err != nil {
		return nil, fmt.Errorf("failed to query podcasts: %w", err)
	}
	return podcasts, nil
}

// ListAll returns every podcast ordered by id.
func (r *PodcastRepository) ListAll(ctx context.Context) ([]models.Podcast, error) {
	podcasts := []models.Podcast{}
	if err := r.db.SelectContext(ctx, &podcasts, `SELECT `+podcastColumns+` FROM podcasts ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to query podcasts: %w", err)
	}
	return podcasts, nil
}

// Subscribe adds feedURL to the user's podcasts unless it is already there.
//
// It returns the stored podcast and whether it was newly created.
func (r *PodcastRepository) Subscribe(ctx context.Context, userID int64, feedURL, title string) (*models.Podcast, bool, error) {
	p := models.Podcast{UserID: userID, FeedURL: feedURL, Title: title}
	if err := p.Validate(); err != nil {
		return nil, false, fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	query := r.db.Rebind(`
		INSERT INTO podcasts (user_id, title, feed_url, description, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?)
		ON CONFLICT (user_id, feed_url) DO NOTHING
	`)
	result, err := r.db.ExecContext(ctx, query, userID, title, feedURL, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to subscribe: %w", err)
	}
	created, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	var stored models.Podcast
	query = r.db.Rebind(`SELECT ` + podcastColumns + ` FROM podcasts WHERE user_id = ? AND feed_url = ?`)
	if err := r.db.GetContext(ctx, &stored, query, userID, feedURL); err != nil {
		return nil, false, notFound(err, "podcast", feedURL)
	}
	return &stored, created > 0, nil
}

// MarkRefreshed stores feed metadata and the refresh time.
func (r *PodcastRepository) MarkRefreshed(ctx context.Context, id int64, title, description string, at time.Time) error {
	query := r.db.Rebind(`
		UPDATE podcasts
		SET title = ?, description = ?, last_refreshed_at = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := r.db.ExecContext(ctx, query, title, description, at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update podcast: %w", err)
	}
	return expectRows(result, "podcast", id)
}

// Delete removes a podcast and its episodes.
func (r *PodcastRepository) Delete(ctx context.Context, id int64) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM episodes WHERE podcast_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete episodes: %w", err)
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM podcasts WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete podcast: %w", err)
		}
		return expectRows(result, "podcast", id)
	})
}
