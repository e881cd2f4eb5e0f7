package workers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/podtasks/internal/tasks"
)

// Export writes userID's subscriptions as OPML into the export directory.
func (f *Factory) Export(userID int64) tasks.Work {
	return func(ctx context.Context, r *tasks.Reporter) error {
		r.Report(10, "loading subscriptions")
		podcasts, err := f.Podcasts.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := r.Checkpoint(); err != nil {
			return err
		}

		if err := os.MkdirAll(f.Storage.ExportDir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}

		now := f.Now()
		name := fmt.Sprintf("podcasts-%d-%d.opml", userID, now.Unix())
		path := filepath.Join(f.Storage.ExportDir, name)

		r.Reportf(50, "writing %d podcasts", len(podcasts))
		if err := writeFileAtomic(path, func(w *os.File) error {
			_, err := NewOPML("podtasks subscriptions", podcasts, now).WriteTo(w)
			return err
		}); err != nil {
			return err
		}

		r.Logger().Info("opml exported", "path", path, "podcasts", len(podcasts))
		r.Reportf(95, "exported to %s", name)
		return nil
	}
}

// writeFileAtomic writes through a temp file in the same directory and renames it into place.
func writeFileAtomic(path string, write func(w *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
