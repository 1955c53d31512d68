// Package push provides the push delivery channel that wakes devices when a
// record they subscribed to changes. Events only carry record pointers.
package push

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/store"
)

// ErrNoHandler is returned by Dispatch when no handler listens on the
// event's subscription.
var ErrNoHandler = errors.New("no handler for subscription")

// Handler processes a change event.
type Handler func(ctx context.Context, evt store.ChangeEvent) error

// Bus routes change events to in-process handlers by subscription id.
// It doubles as the store Publisher when all devices share one process.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string]Handler),
		logger:   logger.With().Str("component", "push_bus").Logger(),
	}
}

// Listen registers the handler for a subscription id, replacing any previous one.
func (b *Bus) Listen(subscriptionID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subscriptionID] = h
}

// Unlisten removes the handler for a subscription id.
func (b *Bus) Unlisten(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, subscriptionID)
}

// Publish delivers the event to its local handler, if any. Handler failures
// belong to the receiving side and are only logged.
func (b *Bus) Publish(ctx context.Context, evt store.ChangeEvent) error {
	err := b.Dispatch(ctx, evt)
	switch {
	case err == nil, errors.Is(err, ErrNoHandler):
		return nil
	default:
		b.logger.Warn().
			Err(err).
			Str("subscription_id", evt.SubscriptionID).
			Str("record_id", evt.RecordID).
			Msg("change event handler failed")
		return nil
	}
}

// Dispatch delivers the event to its handler and returns the handler's error.
func (b *Bus) Dispatch(ctx context.Context, evt store.ChangeEvent) error {
	b.mu.RLock()
	h, ok := b.handlers[evt.SubscriptionID]
	b.mu.RUnlock()

	if !ok {
		return ErrNoHandler
	}
	return h(ctx, evt)
}

// Fanout publishes each event to several channels.
type Fanout []store.Publisher

// Publish sends the event to every channel and joins their errors.
func (f Fanout) Publish(ctx context.Context, evt store.ChangeEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ensure Bus and Fanout implement store.Publisher.
var (
	_ store.Publisher = (*Bus)(nil)
	_ store.Publisher = Fanout(nil)
)
