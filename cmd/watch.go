package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/ui"
	"github.com/urfave/cli/v3"
)

const watchLogPath = "./tmp/podtasks-watch.log"

// Watch opens the live job view. With an id argument it follows that job and exits when it finishes.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	client := r.api(cmd)
	stream, err := client.Watch(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	id := cmd.StringArg("id")
	if id == "" {
		_, err := r.runView(ctx, stream, client, ui.Options{})
		return err
	}

	final, err := r.follow(ctx, stream, client, id)
	if err != nil {
		return err
	}
	return r.reportFinal(id, final)
}

func (r *Runner) follow(ctx context.Context, source ui.Source, jobs ui.Canceller, id string) (*models.Job, error) {
	return r.runView(ctx, source, jobs, ui.Options{JobID: id})
}

// runView hands the terminal to bubbletea; logs go to a file until it returns.
func (r *Runner) runView(ctx context.Context, source ui.Source, jobs ui.Canceller, opts ui.Options) (*models.Job, error) {
	previous := r.logger
	if fileLogger, err := shared.NewFileLogger(watchLogPath); err == nil {
		r.SetLogger(fileLogger)
		defer r.SetLogger(previous)
	}

	model := ui.NewModel(ctx, source, jobs, opts)
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil {
		return nil, err
	}
	if err := model.Err(); err != nil {
		r.logger.Debug("stream closed", "error", err)
	}
	return model.Final(), nil
}
