package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/auth"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/notify"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/gorilla/websocket"
)

const maxInboundMessage = 512

// JobLister returns the jobs a user can currently see.
type JobLister interface {
	List(ctx context.Context, userID int64) ([]models.Job, error)
}

// WSOptions configures the websocket transport.
type WSOptions struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string // empty allows same-host origins only
}

// WebSocketHandler upgrades authenticated requests and streams job envelopes to them.
type WebSocketHandler struct {
	hub      *notify.Hub
	jobs     JobLister
	opts     WSOptions
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWebSocketHandler creates a WebSocketHandler.
func NewWebSocketHandler(hub *notify.Hub, jobs JobLister, opts WSOptions, logger *log.Logger) *WebSocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	h := &WebSocketHandler{
		hub:    hub,
		jobs:   jobs,
		opts:   opts,
		logger: shared.WithLogger(logger, "component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes implements [Handler].
func (h *WebSocketHandler) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: "/ws"}}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.opts.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP upgrades the request, queues the initial snapshot and pumps envelopes until either side goes away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeErr(w, shared.ErrAuthFailed)
		return
	}

	jobs, err := h.jobs.List(r.Context(), id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	c := h.hub.Subscribe(id.UserID, id.Admin, models.InitialEnvelope(jobs))
	logger := shared.WithLogger(h.logger, "conn_id", c.ID, "user_id", id.UserID)
	logger.Info("client connected", "admin", id.Admin, "jobs", len(jobs))

	ctx, cancel := context.WithCancel(context.Background())
	go h.read(ws, c, cancel)
	go h.ping(ctx, ws, c)
	h.write(ctx, ws, c, logger)

	cancel()
	h.hub.Unsubscribe(c.ID)
	ws.Close()
	logger.Info("client disconnected", "dropped", c.Dropped())
}

// read consumes inbound frames so pongs and close frames are processed. Every frame counts as liveness.
func (h *WebSocketHandler) read(ws *websocket.Conn, c *notify.Connection, cancel context.CancelFunc) {
	defer cancel()

	ws.SetReadLimit(maxInboundMessage)
	ws.SetPongHandler(func(string) error {
		c.Touch(time.Now())
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		c.Touch(time.Now())
	}
}

// ping sends control pings until ctx is done. WriteControl may run alongside the writer.
func (h *WebSocketHandler) ping(ctx context.Context, ws *websocket.Conn, c *notify.Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, c *notify.Connection, logger *log.Logger) {
	for {
		env, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, notify.ErrClosed) {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "connection closed"),
					time.Now().Add(h.opts.WriteTimeout))
			}
			return
		}

		ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		if err := ws.WriteJSON(env); err != nil {
			logger.Debug("write failed", "error", err)
			return
		}
	}
}
