package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/podtasks/internal/formatter"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/workers"
	"github.com/urfave/cli/v3"
)

// JobsSubmit submits a job and prints its id. With --watch it follows the job to completion.
func (r *Runner) JobsSubmit(ctx context.Context, cmd *cli.Command) error {
	kind, err := models.ParseKind(cmd.StringArg("kind"))
	if err != nil {
		return fmt.Errorf("%w: %q", shared.ErrInvalidKind, cmd.StringArg("kind"))
	}

	req := workers.JobRequest{Kind: kind, Target: cmd.String("target")}
	if path := cmd.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		req.Payload = string(data)
	}

	client := r.api(cmd)
	if cmd.Bool("watch") {
		// Subscribe first so no progress is missed between submit and connect.
		stream, err := client.Watch(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()

		id, err := client.Submit(ctx, req)
		if err != nil {
			return r.submitErr(err)
		}
		final, err := r.follow(ctx, stream, client, id)
		if err != nil {
			return err
		}
		return r.reportFinal(id, final)
	}

	id, err := client.Submit(ctx, req)
	if err != nil {
		return r.submitErr(err)
	}
	r.logger.Debug("job submitted", "job_id", id, "kind", kind)
	return r.writePlain("%s\n", id)
}

func (r *Runner) submitErr(err error) error {
	if errors.Is(err, shared.ErrAlreadyRunning) {
		r.writePlain("✗ A job is already running for that resource\n")
	}
	return err
}

func (r *Runner) reportFinal(id string, final *models.Job) error {
	if final == nil {
		return r.writePlain("%s: stopped watching before the job finished\n", id)
	}
	switch final.State {
	case models.StateSucceeded:
		return r.writePlain("✓ %s succeeded\n", id)
	case models.StateFailed:
		r.writePlain("✗ %s failed: %s\n", id, final.Error)
		return fmt.Errorf("%w: %s", shared.ErrWorkFailed, final.Error)
	default:
		return r.writePlain("%s %s\n", id, final.State)
	}
}

// JobsList prints the caller's known jobs.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	jobs, err := r.api(cmd).List(ctx)
	if err != nil {
		return err
	}
	return formatter.Write(r.output, format, jobs, time.Now())
}

// JobsHistory prints the caller's finished jobs from the database.
func (r *Runner) JobsHistory(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	jobs, err := r.api(cmd).History(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	return formatter.Write(r.output, format, jobs, time.Now())
}

// JobsStatus prints one job.
func (r *Runner) JobsStatus(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	job, err := r.api(cmd).Status(ctx, id)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(job, true)
	}
	return formatter.Write(r.output, formatter.FormatText, []models.Job{*job}, time.Now())
}

// JobsCancel requests cancellation; the job stops at its next checkpoint.
func (r *Runner) JobsCancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	if err := r.api(cmd).Cancel(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Cancellation requested for %s\n", id)
}

// LocksInspect prints the holder of a resource lock.
func (r *Runner) LocksInspect(ctx context.Context, cmd *cli.Command) error {
	resource := cmd.StringArg("resource")
	if resource == "" {
		return fmt.Errorf("%w: resource", shared.ErrMissingArgument)
	}

	entry, err := r.api(cmd).Lock(ctx, resource)
	if errors.Is(err, shared.ErrNotFound) {
		return r.writePlain("%s is free\n", resource)
	}
	if err != nil {
		return err
	}
	return r.writePlain("%s held by %s until %s\n", entry.ResourceKey, entry.HolderJobID, entry.LeaseExpiresAt.Format(time.RFC3339))
}
