package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/tasks"
)

const backupVersion = 1

// Backup is the on-disk server backup format.
type Backup struct {
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Podcasts  []BackupPodcast `json:"podcasts"`
}

// BackupPodcast is a podcast with its episodes.
type BackupPodcast struct {
	models.Podcast
	Episodes []models.Episode `json:"episodes"`
}

// Backup dumps every podcast and episode to a JSON file in the backup directory.
func (f *Factory) Backup() tasks.Work {
	return func(ctx context.Context, r *tasks.Reporter) error {
		r.Report(5, "loading podcasts")
		podcasts, err := f.Podcasts.ListAll(ctx)
		if err != nil {
			return err
		}

		now := f.Now().UTC()
		backup := Backup{Version: backupVersion, CreatedAt: now, Podcasts: make([]BackupPodcast, 0, len(podcasts))}
		for i, p := range podcasts {
			if err := r.Checkpoint(); err != nil {
				return err
			}
			episodes, err := f.Episodes.ListByPodcast(ctx, p.ID)
			if err != nil {
				return err
			}
			backup.Podcasts = append(backup.Podcasts, BackupPodcast{Podcast: p, Episodes: episodes})
			r.Reportf(5+(i+1)*80/len(podcasts), "read %d/%d podcasts", i+1, len(podcasts))
		}

		if err := os.MkdirAll(f.Storage.BackupDir, 0700); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
		name := fmt.Sprintf("backup-%s.json", now.Format("20060102T150405Z"))
		path := filepath.Join(f.Storage.BackupDir, name)

		r.Report(90, "writing backup")
		if err := writeFileAtomic(path, func(w *os.File) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(backup)
		}); err != nil {
			return err
		}

		r.Logger().Info("backup written", "path", path, "podcasts", len(podcasts))
		r.Reportf(95, "wrote %s", name)
		return nil
	}
}

// backupPath resolves a backup file name inside the backup directory.
func (f *Factory) backupPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: target must be a backup file name", shared.ErrInvalidInput)
	}

	path := filepath.Join(f.Storage.BackupDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: backup %s", shared.ErrNotFound, name)
	}
	return path, nil
}

// Restore loads a backup file and merges it into the library. Existing podcasts and episodes are kept.
func (f *Factory) Restore(path string) tasks.Work {
	return func(ctx context.Context, r *tasks.Reporter) error {
		r.Report(5, "reading backup")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}

		var backup Backup
		if err := json.Unmarshal(data, &backup); err != nil {
			return fmt.Errorf("failed to decode backup: %w", err)
		}
		if backup.Version != backupVersion {
			return fmt.Errorf("unsupported backup version %d", backup.Version)
		}

		for i, bp := range backup.Podcasts {
			if err := r.Checkpoint(); err != nil {
				return err
			}

			podcast, _, err := f.Podcasts.Subscribe(ctx, bp.UserID, bp.FeedURL, bp.Title)
			if err != nil {
				return fmt.Errorf("failed to restore podcast %s: %w", bp.FeedURL, err)
			}
			if _, err := f.Episodes.UpsertMany(ctx, podcast.ID, bp.Episodes); err != nil {
				return fmt.Errorf("failed to restore episodes of %s: %w", bp.FeedURL, err)
			}
			if bp.LastRefreshedAt != nil {
				if err := f.Podcasts.MarkRefreshed(ctx, podcast.ID, bp.Title, bp.Description, *bp.LastRefreshedAt); err != nil {
					return err
				}
			}
			r.Reportf(5+(i+1)*90/len(backup.Podcasts), "restored %d/%d podcasts", i+1, len(backup.Podcasts))
		}

		r.Logger().Info("backup restored", "path", path, "podcasts", len(backup.Podcasts))
		return nil
	}
}
