package notify

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
)

// Options configures a [Hub].
type Options struct {
	MailboxSize      int           // envelopes queued per connection before the oldest is dropped
	SweepInterval    time.Duration // how often Run looks for silent connections
	HeartbeatTimeout time.Duration // silence after which a connection is torn down
	Logger           *log.Logger
	Now              func() time.Time
}

// Hub maps users to their live connections and fans events out to them.
//
// Delivery is at most once per connection per [Hub.Publish] call and there is no replay: a client that connects
// late sees the initial snapshot, not the history.
type Hub struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]*Connection
	admins map[string]*Connection
	all    map[string]*Connection

	opts   Options
	logger *log.Logger
}

// NewHub creates an empty Hub.
func NewHub(opts Options) *Hub {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 64
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 3 * opts.SweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		byUser: make(map[int64]map[string]*Connection),
		admins: make(map[string]*Connection),
		all:    make(map[string]*Connection),
		opts:   opts,
		logger: shared.WithLogger(opts.Logger, "component", "hub"),
	}
}

// Subscribe registers a connection for userID. Admin connections also receive events for admin-scoped kinds.
//
// initial envelopes are queued before the connection becomes visible to publishers, so they always come first.
func (h *Hub) Subscribe(userID int64, admin bool, initial ...models.Envelope) *Connection {
	c := newConnection(shared.GenerateID(), userID, admin, h.opts.MailboxSize, h.opts.Now())
	for _, env := range initial {
		c.Send(env)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.byUser[userID]
	if !ok {
		conns = make(map[string]*Connection)
		h.byUser[userID] = conns
	}
	conns[c.ID] = c
	if admin {
		h.admins[c.ID] = c
	}
	h.all[c.ID] = c

	h.logger.Debug("connection registered", "conn_id", c.ID, "user_id", userID, "admin", admin)
	return c
}

// Unsubscribe tears down the connection. Unknown ids are ignored.
func (h *Hub) Unsubscribe(connID string) {
	h.mu.Lock()
	c, ok := h.all[connID]
	if ok {
		h.remove(c)
	}
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug("connection removed", "conn_id", connID, "user_id", c.UserID, "dropped", c.Dropped())
	}
}

// remove deletes c from every index. Callers hold h.mu.
func (h *Hub) remove(c *Connection) {
	delete(h.all, c.ID)
	delete(h.admins, c.ID)
	if conns, ok := h.byUser[c.UserID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

// Publish delivers e to every connection of its owner and, for admin-scoped kinds, to every admin.
//
// It never blocks on a slow connection and never fails.
func (h *Hub) Publish(ctx context.Context, e models.Event) error {
	env := models.UpdateEnvelope(e)

	h.mu.RLock()
	targets := make(map[string]*Connection, len(h.byUser[e.OwnerUserID]))
	for id, c := range h.byUser[e.OwnerUserID] {
		targets[id] = c
	}
	if e.Kind.AdminScoped() {
		for id, c := range h.admins {
			targets[id] = c
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(env) {
			h.Unsubscribe(c.ID)
		}
	}
	return nil
}

// ConnectionsFor returns how many live connections userID has.
func (h *Hub) ConnectionsFor(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// Sweep tears down connections silent for longer than the heartbeat timeout and returns how many it removed.
func (h *Hub) Sweep(now time.Time) int {
	cutoff := now.Add(-h.opts.HeartbeatTimeout)

	h.mu.Lock()
	var stale []*Connection
	for _, c := range h.all {
		if c.LastSeen().Before(cutoff) {
			stale = append(stale, c)
			h.remove(c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		c.close()
		h.logger.Info("connection timed out", "conn_id", c.ID, "user_id", c.UserID, "last_seen", c.LastSeen())
	}
	return len(stale)
}

// Run sweeps silent connections until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.Sweep(h.opts.Now())
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.all))
	for _, c := range h.all {
		conns = append(conns, c)
	}
	h.byUser = make(map[int64]map[string]*Connection)
	h.admins = make(map[string]*Connection)
	h.all = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
