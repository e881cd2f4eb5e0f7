// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// newApp assembles the root command around r.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:     "podtasks",
		Usage:    "Background jobs and live progress for a self-hosted podcast manager",
		Version:  "0.1.0",
		Flags:    globalFlags(),
		Before:   r.Before,
		Commands: r.register(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
			Sources: cli.EnvVars("PODTASKS_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "server",
			Usage:   "Base URL of a running podtasks server (default: from [server] in config)",
			Sources: cli.EnvVars("PODTASKS_SERVER"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "JWT or API key used against the server",
			Sources: cli.EnvVars("PODTASKS_TOKEN"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, csv, markdown, json",
		Value:   "text",
	}
}

// serveCommand runs the coordinator
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API, websocket stream and job workers",
		Action: r.Serve,
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config file to --config",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent database migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// authCommand handles credentials
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage credentials",
		Commands: []*cli.Command{
			{
				Name:  "token",
				Usage: "Issue a JWT signed with auth.jwt_secret",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "user",
						Usage:    "User id the token is issued for",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "admin",
						Usage: "Grant the admin role",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime (default: auth.token_ttl)",
					},
				},
				Action: r.AuthToken,
			},
			{
				Name:  "hash-key",
				Usage: "Print the bcrypt hash of an API key for [[auth.api_keys]]",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Action: r.AuthHashKey,
			},
			{
				Name:  "nextcloud",
				Usage: "Authorize podtasks against Nextcloud for sync_nextcloud jobs",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
				},
				Action: r.AuthNextcloud,
			},
			{
				Name:   "status",
				Usage:  "Check that the server is reachable and the token is accepted",
				Action: r.AuthStatus,
			},
		},
	}
}

// jobsCommand submits and inspects jobs on a running server
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Submit, list and cancel background jobs",
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit a job: refresh_podcast, import_opml, export_opml, sync_nextcloud, backup, restore",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "kind"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "target",
						Usage: "Podcast id for refresh_podcast, backup file name for restore",
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "OPML file for import_opml",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Follow the job until it finishes",
					},
				},
				Action: r.JobsSubmit,
			},
			{
				Name:   "list",
				Usage:  "List your known jobs",
				Flags:  []cli.Flag{formatFlag()},
				Action: r.JobsList,
			},
			{
				Name:  "status",
				Usage: "Show one job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.JobsStatus,
			},
			{
				Name:  "cancel",
				Usage: "Request cancellation of a running job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.JobsCancel,
			},
			{
				Name:  "history",
				Usage: "List your finished jobs kept in the database",
				Flags: []cli.Flag{
					formatFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to return",
						Value: 50,
					},
				},
				Action: r.JobsHistory,
			},
		},
	}
}

// locksCommand inspects resource locks (admin)
func locksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "locks",
		Usage: "Inspect resource locks",
		Commands: []*cli.Command{
			{
				Name:  "inspect",
				Usage: "Show which job holds a resource key, e.g. refresh_podcast:42",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "resource"},
				},
				Action: r.LocksInspect,
			},
		},
	}
}

// watchCommand returns the top-level TUI command for live job progress.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"ui"},
		Usage:   "Live view of your jobs; pass a job id to follow just that one",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id"},
		},
		Action: r.Watch,
	}
}
