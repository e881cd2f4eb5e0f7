package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/auth"
	"github.com/desertthunder/podtasks/internal/notify"
	"github.com/desertthunder/podtasks/internal/shared"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Jobs    JobService
	Builder RequestBuilder
	Hub     *notify.Hub
	Auth    auth.Authenticator
	Store   Pinger
	History HistoryLister // optional
	Locks   LockInspector // optional
	Logger  *log.Logger
}

// Server is the coordinator's HTTP and websocket front end.
type Server struct {
	router *BasicRouter
	http   *http.Server
	cfg    shared.ServerConfig
	logger *log.Logger
}

// New builds the router: /health is public, everything under /api and /ws requires a credential.
func New(cfg shared.ServerConfig, ncfg shared.NotifyConfig, d Deps) *Server {
	logger := shared.WithLogger(d.Logger, "component", "server")

	r := NewBasicRouter()
	r.Use(Recover(logger), Logging(logger))
	r.Handler(NewHealthHandler(d.Store))

	r.Use(Authenticate(d.Auth))
	r.Handler(NewJobsHandler(d.Jobs, d.Builder, d.Logger))
	if d.History != nil {
		r.Handler(NewHistoryHandler(d.History))
	}
	if d.Locks != nil {
		r.Handler(NewLockHandler(d.Locks))
	}
	r.Handler(NewWebSocketHandler(d.Hub, d.Jobs, WSOptions{
		PingInterval:   ncfg.PingInterval,
		WriteTimeout:   ncfg.WriteTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, d.Logger))

	return &Server{
		router: r,
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:        cfg.Addr(),
			Handler:     r,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout would cut long-lived websocket streams; per-frame deadlines apply instead.
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is done and then drains in-flight requests for up to the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errs <- s.http.Serve(ln)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("%w: http shutdown: %v", shared.ErrTimeout, err)
	}
	return nil
}
