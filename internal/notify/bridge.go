package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/desertthunder/podtasks/internal/store"
)

// Bridge publishes events through the store so every instance's [Hub] sees them.
type Bridge struct {
	store  *store.Store
	hub    *Hub
	logger *log.Logger
	ready  chan struct{}
	once   sync.Once
}

// NewBridge creates a Bridge that feeds hub.
func NewBridge(s *store.Store, hub *Hub, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Bridge{
		store:  s,
		hub:    hub,
		logger: shared.WithLogger(logger, "component", "bridge"),
		ready:  make(chan struct{}),
	}
}

func (b *Bridge) channel() string {
	return b.store.Key("events")
}

// Publish sends e to every instance.
//
// If the store cannot take it, e is still delivered to this instance's connections and the error is returned.
func (b *Bridge) Publish(ctx context.Context, e models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.store.Publish(ctx, b.channel(), data); err != nil {
		b.hub.Publish(ctx, e)
		return err
	}
	return nil
}

// Ready is closed once [Bridge.Run] is subscribed.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Run forwards events from the store to the local hub until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.store.Subscribe(ctx, b.channel())
	if err != nil {
		return err
	}
	defer sub.Close()
	b.once.Do(func() { close(b.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Warn("dropping malformed event", "error", err)
				continue
			}
			b.hub.Publish(ctx, e)
		}
	}
}
