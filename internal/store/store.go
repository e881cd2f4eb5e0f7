// package store wraps the redis client used as the shared state store
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/redis/go-redis/v9"
)

// Store is the shared state store every coordinator instance talks to.
//
// All keys are namespaced under a common prefix so several deployments can share one redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to the redis server described by cfg.
//
// The connection is lazy; call [Store.Ping] to verify it.
func New(cfg shared.RedisConfig) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return NewWithClient(client, cfg.Prefix)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "podtasks"
	}
	return &Store{client: client, prefix: prefix}
}

// Client exposes the underlying client for scripts and pipelines.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Key joins parts under the store prefix, e.g. Key("lock", "backup:server") → "podtasks:lock:backup:server".
func (s *Store) Key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Ping checks that the store answers.
func (s *Store) Ping(ctx context.Context) error {
	return Wrap(s.client.Ping(ctx).Err())
}

// Close releases the client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}

// Publish sends payload on channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return Wrap(s.client.Publish(ctx, channel, payload).Err())
}

// Subscribe opens a subscription on channel and waits for the server to confirm it.
func (s *Store) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, Wrap(err)
	}
	return sub, nil
}

// Wrap maps client errors onto the coordinator's sentinels.
//
// A missing key becomes [shared.ErrNotFound]; anything else is [shared.ErrStoreUnavailable].
func Wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return shared.ErrNotFound
	case errors.Is(err, shared.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
}
