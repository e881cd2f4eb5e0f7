package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/auth"
	"github.com/desertthunder/podtasks/internal/lock"
	"github.com/desertthunder/podtasks/internal/notify"
	"github.com/desertthunder/podtasks/internal/progress"
	"github.com/desertthunder/podtasks/internal/repositories"
	"github.com/desertthunder/podtasks/internal/server"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/store"
	"github.com/desertthunder/podtasks/internal/tasks"
	"github.com/desertthunder/podtasks/internal/workers"
	"github.com/urfave/cli/v3"
)

// Serve runs the coordinator until SIGINT or SIGTERM.
//
// Shutdown order: stop accepting HTTP requests, interrupt running jobs (their terminal events still go out),
// then stop the hub, the bridge and the cancel listener.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := shared.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(cfg.Redis)
	defer st.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	err = st.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("state store at %s: %w", cfg.Redis.Addr, err)
	}

	podcasts := repositories.NewPodcastRepository(db)
	episodes := repositories.NewEpisodeRepository(db)
	history := repositories.NewJobHistoryRepository(db)

	locks := lock.New(st)
	tracker := progress.NewTracker(st, progress.Options{ActiveTTL: cfg.Tasks.ActiveTTL, Retention: cfg.Tasks.Retention})
	hub := notify.NewHub(notify.Options{
		MailboxSize:      cfg.Notify.MailboxSize,
		SweepInterval:    cfg.Notify.PingInterval,
		HeartbeatTimeout: cfg.Notify.HeartbeatTimeout,
		Logger:           r.logger,
	})
	bridge := notify.NewBridge(st, hub, r.logger)
	spawner := tasks.NewSpawner(st, locks, tracker, bridge, tasks.Options{
		Lease:    cfg.Tasks.Lease,
		Recorder: history,
		Logger:   r.logger,
	})

	factory := workers.NewFactory(workers.Deps{
		Podcasts:  podcasts,
		Episodes:  episodes,
		Feeds:     workers.NewGofeedFetcher(nil, cfg.Storage.FeedTimeout),
		Nextcloud: r.nextcloudSource(ctx, cfg.Nextcloud),
		Storage:   cfg.Storage,
		Logger:    r.logger,
	})

	srv := server.New(cfg.Server, cfg.Notify, server.Deps{
		Jobs:    spawner,
		Builder: factory,
		Hub:     hub,
		Auth: auth.Chain{
			Tokens: auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
			Keys:   auth.NewKeyAuthenticator(cfg.Auth.APIKeys),
		},
		Store:   st,
		History: history,
		Locks:   locks,
		Logger:  r.logger,
	})

	bg, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(bg); err != nil {
				r.logger.Error("background loop stopped", "loop", name, "error", err)
			}
		}()
	}

	background("hub", hub.Run)
	background("bridge", bridge.Run)
	background("cancel", spawner.Run)
	if _, err := os.Stat(r.configPath); err == nil {
		background("config", func(ctx context.Context) error {
			return shared.WatchConfig(ctx, r.configPath, r.logger, r.reloadConfig)
		})
	} else if !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("config file not watched", "path", r.configPath, "error", err)
	}

	go logReady(r.logger, spawner, bridge)

	r.logger.Info("podtasks serving", "addr", cfg.Server.Addr(), "db", cfg.Database.Driver, "store", cfg.Redis.Addr)
	serveErr := srv.Run(ctx)

	grace, cancelGrace := context.WithTimeout(context.Background(), cfg.Tasks.ShutdownGrace)
	if err := spawner.Shutdown(grace); err != nil {
		r.logger.Warn("jobs still running at shutdown", "error", err)
	}
	cancelGrace()

	stopBackground()
	wg.Wait()
	r.logger.Info("podtasks stopped")
	return serveErr
}

// reloadConfig applies the settings that are safe to change while serving.
func (r *Runner) reloadConfig(cfg *shared.Config) {
	if err := cfg.ApplyEnv(); err != nil {
		r.logger.Warn("ignoring reloaded config", "error", err)
		return
	}
	if err := shared.ApplyLogLevel(r.logger, cfg.Log.Level); err != nil {
		r.logger.Warn("ignoring reloaded log level", "error", err)
		return
	}
	r.logger.Info("log level applied", "level", r.logger.GetLevel())
}

// nextcloudSource returns nil when sync is not configured or has not been authorized yet.
func (r *Runner) nextcloudSource(ctx context.Context, cfg shared.NextcloudConfig) workers.SubscriptionSource {
	if cfg.URL == "" {
		return nil
	}

	token, err := workers.LoadToken(cfg.TokenPath)
	if err != nil {
		r.logger.Warn("nextcloud sync disabled", "error", err, "hint", "run `podtasks auth nextcloud`")
		return nil
	}

	// Token refreshes must keep working while jobs drain after a signal.
	return workers.NewNextcloudClient(context.WithoutCancel(ctx), cfg.URL, workers.NextcloudOAuthConfig(cfg), token)
}

// waitReady blocks until ch closes or d elapses.
func waitReady(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

// logReady reports when the cross-instance subscriptions are live.
func logReady(logger *log.Logger, spawner *tasks.Spawner, bridge *notify.Bridge) {
	if waitReady(spawner.Ready(), 5*time.Second) && waitReady(bridge.Ready(), 5*time.Second) {
		logger.Info("cross-instance channels subscribed")
		return
	}
	logger.Warn("cross-instance channels not subscribed yet")
}
