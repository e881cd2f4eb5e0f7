// package workers builds the [tasks.Work] run for each job kind
package workers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/repositories"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/tasks"
)

// ServerTarget is the resource target for jobs that operate on the whole server.
const ServerTarget = "server"

// JobRequest is a job submission as received from a client.
type JobRequest struct {
	Kind    models.Kind `json:"kind"`
	Target  string      `json:"target,omitempty"`  // podcast id for refresh_podcast, backup file name for restore
	Payload string      `json:"payload,omitempty"` // OPML document for import_opml
	Owner   int64       `json:"-"`
	Admin   bool        `json:"-"`
}

// Deps are the collaborators work functions need.
type Deps struct {
	Podcasts  *repositories.PodcastRepository
	Episodes  *repositories.EpisodeRepository
	Feeds     FeedFetcher
	Nextcloud SubscriptionSource // nil when sync is not configured
	Storage   shared.StorageConfig
	Logger    *log.Logger
	Now       func() time.Time
}

// Factory validates job requests and turns them into [tasks.Request]s.
type Factory struct {
	Deps
	logger *log.Logger
}

// NewFactory creates a Factory.
func NewFactory(d Deps) *Factory {
	if d.Logger == nil {
		d.Logger = shared.NewLogger(nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Storage.ImportRate <= 0 {
		d.Storage.ImportRate = 2
	}
	return &Factory{Deps: d, logger: shared.WithLogger(d.Logger, "component", "workers")}
}

// Build checks req against the caller's permissions and returns the request to submit.
//
// Problems the caller can fix are reported as [shared.ErrInvalidInput], [shared.ErrNotFound] or
// [shared.ErrForbidden] before any lock is taken.
func (f *Factory) Build(ctx context.Context, req JobRequest) (tasks.Request, error) {
	if !req.Kind.Valid() {
		return tasks.Request{}, fmt.Errorf("%w: %q", shared.ErrInvalidKind, req.Kind)
	}
	if req.Kind.AdminScoped() && !req.Admin {
		return tasks.Request{}, fmt.Errorf("%w: %s requires an admin", shared.ErrForbidden, req.Kind)
	}

	out := tasks.Request{Kind: req.Kind, Owner: req.Owner, Target: strconv.FormatInt(req.Owner, 10)}
	switch req.Kind {
	case models.KindRefreshPodcast:
		id, err := strconv.ParseInt(strings.TrimSpace(req.Target), 10, 64)
		if err != nil || id <= 0 {
			return tasks.Request{}, fmt.Errorf("%w: target must be a podcast id", shared.ErrInvalidInput)
		}
		podcast, err := f.Podcasts.GetForUser(ctx, req.Owner, id)
		if err != nil {
			return tasks.Request{}, err
		}
		out.Target = strconv.FormatInt(id, 10)
		out.Work = f.Refresh(podcast)

	case models.KindImportOPML:
		doc, err := ParseOPML(strings.NewReader(req.Payload))
		if err != nil {
			return tasks.Request{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		out.Work = f.Import(req.Owner, doc.Feeds())

	case models.KindExportOPML:
		out.Work = f.Export(req.Owner)

	case models.KindSyncNextcloud:
		if f.Nextcloud == nil {
			return tasks.Request{}, fmt.Errorf("%w: nextcloud sync is not configured", shared.ErrMissingConfig)
		}
		out.Work = f.Sync(req.Owner)

	case models.KindBackup:
		out.Target = ServerTarget
		out.Work = f.Backup()

	case models.KindRestore:
		path, err := f.backupPath(req.Target)
		if err != nil {
			return tasks.Request{}, err
		}
		out.Target = ServerTarget
		out.Work = f.Restore(path)
	}
	return out, nil
}
