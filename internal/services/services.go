// package services contains clients for talking to a running podtasks server
package services

import (
	"context"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/workers"
)

// JobsAPI is the remote job surface used by the CLI.
type JobsAPI interface {
	// Submit starts a job and returns its id.
	Submit(ctx context.Context, req workers.JobRequest) (string, error)

	// List returns the caller's known jobs.
	List(ctx context.Context) ([]models.Job, error)

	// Status returns one job.
	Status(ctx context.Context, jobID string) (*models.Job, error)

	// Cancel requests cooperative cancellation.
	Cancel(ctx context.Context, jobID string) error

	// Watch opens the live event stream.
	Watch(ctx context.Context) (*Stream, error)
}
