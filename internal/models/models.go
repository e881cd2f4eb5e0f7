// package models defines the data model for the podcast job coordinator
package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind names the type of background operation a [Job] performs.
type Kind string

const (
	KindRefreshPodcast Kind = "refresh_podcast"
	KindImportOPML     Kind = "import_opml"
	KindExportOPML     Kind = "export_opml"
	KindSyncNextcloud  Kind = "sync_nextcloud"
	KindBackup         Kind = "backup"
	KindRestore        Kind = "restore"
)

// Kinds lists every supported job kind.
var Kinds = []Kind{
	KindRefreshPodcast, KindImportOPML, KindExportOPML, KindSyncNextcloud, KindBackup, KindRestore,
}

// ParseKind returns the [Kind] named by s.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(strings.ToLower(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown job kind %q", s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// AdminScoped reports whether events for this kind are also delivered to every admin connection.
func (k Kind) AdminScoped() bool {
	return k == KindBackup || k == KindRestore
}

func (k Kind) String() string { return string(k) }

// ResourceKey identifies the logical resource a job operates on, e.g. "refresh_podcast:42".
func ResourceKey(kind Kind, target string) string {
	return fmt.Sprintf("%s:%s", kind, target)
}

// State is a job lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether moving from s to next is legal.
//
// A queued job may fail or be cancelled before it starts running.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateQueued:
		return next == StateRunning || next == StateFailed || next == StateCancelled
	case StateRunning:
		return next.Terminal()
	default:
		return false
	}
}

func (s State) String() string { return string(s) }

// Job is the snapshot of one background operation.
type Job struct {
	ID          string     `json:"job_id" db:"id"`
	Kind        Kind       `json:"kind" db:"kind"`
	OwnerUserID int64      `json:"owner_user_id" db:"user_id"`
	ResourceKey string     `json:"resource_key" db:"resource_key"`
	State       State      `json:"state" db:"state"`
	Progress    int        `json:"progress" db:"progress"`
	Stage       string     `json:"stage,omitempty" db:"stage"`
	Error       string     `json:"error,omitempty" db:"error_message"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// NewJob creates a queued job for kind and target, owned by ownerID.
func NewJob(id string, kind Kind, ownerID int64, target string, now time.Time) *Job {
	return &Job{
		ID:          id,
		Kind:        kind,
		OwnerUserID: ownerID,
		ResourceKey: ResourceKey(kind, target),
		State:       StateQueued,
		CreatedAt:   now.UTC(),
	}
}

// Validate checks the invariants a stored snapshot must satisfy.
func (j *Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("job id is required")
	case !j.Kind.Valid():
		return fmt.Errorf("job %s has unknown kind %q", j.ID, j.Kind)
	case j.ResourceKey == "":
		return fmt.Errorf("job %s has no resource key", j.ID)
	case j.Progress < 0 || j.Progress > 100:
		return fmt.Errorf("job %s progress %d out of range", j.ID, j.Progress)
	case j.Error != "" && j.State != StateFailed:
		return fmt.Errorf("job %s carries an error but is %s", j.ID, j.State)
	case j.FinishedAt != nil && !j.State.Terminal():
		return fmt.Errorf("job %s has finished_at but is %s", j.ID, j.State)
	}
	return nil
}

// Event returns the notification for the job's current snapshot.
func (j *Job) Event(at time.Time) Event {
	return Event{
		JobID:       j.ID,
		Kind:        j.Kind,
		OwnerUserID: j.OwnerUserID,
		ResourceKey: j.ResourceKey,
		State:       j.State,
		Progress:    j.Progress,
		Stage:       j.Stage,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		Timestamp:   at.UTC(),
	}
}

// Event is a single state or progress change of a job, as pushed to clients.
type Event struct {
	JobID       string     `json:"job_id"`
	Kind        Kind       `json:"kind"`
	OwnerUserID int64      `json:"owner_user_id"`
	ResourceKey string     `json:"resource_key"`
	State       State      `json:"state"`
	Progress    int        `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Job rebuilds the snapshot the event was produced from.
func (e Event) Job() Job {
	return Job{
		ID:          e.JobID,
		Kind:        e.Kind,
		OwnerUserID: e.OwnerUserID,
		ResourceKey: e.ResourceKey,
		State:       e.State,
		Progress:    e.Progress,
		Stage:       e.Stage,
		Error:       e.Error,
		CreatedAt:   e.CreatedAt,
		StartedAt:   e.StartedAt,
		FinishedAt:  e.FinishedAt,
	}
}

// Envelope event names.
const (
	EnvelopeInitial = "initial"
	EnvelopeUpdate  = "update"
)

// Envelope is the message written to a notification connection.
type Envelope struct {
	Event string `json:"event"`
	Job   *Event `json:"job,omitempty"`
	Jobs  []Job  `json:"jobs,omitempty"`
}

// InitialEnvelope carries the jobs known for a user at connect time.
func InitialEnvelope(jobs []Job) Envelope {
	if jobs == nil {
		jobs = []Job{}
	}
	return Envelope{Event: EnvelopeInitial, Jobs: jobs}
}

// UpdateEnvelope wraps a single event.
func UpdateEnvelope(e Event) Envelope {
	return Envelope{Event: EnvelopeUpdate, Job: &e}
}
