package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
)

// ErrClosed is returned by [Connection.Next] once the connection has been torn down.
var ErrClosed = errors.New("connection closed")

// Connection is one subscriber's mailbox.
//
// Sends never block: when the mailbox is full the oldest queued envelope is dropped.
type Connection struct {
	ID     string
	UserID int64
	Admin  bool

	mu       sync.Mutex
	queue    []models.Envelope
	size     int
	closed   bool
	wake     chan struct{}
	done     chan struct{}
	dropped  atomic.Int64
	lastSeen atomic.Int64
}

func newConnection(id string, userID int64, admin bool, size int, now time.Time) *Connection {
	c := &Connection{
		ID:     id,
		UserID: userID,
		Admin:  admin,
		size:   size,
		queue:  make([]models.Envelope, 0, size),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Send queues env. It reports false if the connection is closed.
func (c *Connection) Send(env models.Envelope) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if len(c.queue) >= c.size {
		c.queue = c.queue[1:]
		c.dropped.Add(1)
	}
	c.queue = append(c.queue, env)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until an envelope is queued, the connection closes or ctx is done.
//
// Envelopes still queued when the connection closes are discarded.
func (c *Connection) Next(ctx context.Context) (models.Envelope, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return models.Envelope{}, ErrClosed
		}
		if len(c.queue) > 0 {
			env := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return env, nil
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.done:
		case <-ctx.Done():
			return models.Envelope{}, ctx.Err()
		}
	}
}

// Done is closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Touch records liveness, e.g. an inbound frame or a pong.
func (c *Connection) Touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the last time the peer showed signs of life.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Dropped returns how many envelopes were discarded because the mailbox was full.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

// Pending returns the number of queued envelopes.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
}
