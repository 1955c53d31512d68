package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/push"
	"github.com/crossnotify/crossnotify/internal/store"
)

// Dispatcher hands a received change event to its local subscriber.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt store.ChangeEvent) error
}

// EventHandler decodes change event payloads and dispatches them.
type EventHandler struct {
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewEventHandler creates an event handler.
func NewEventHandler(dispatcher Dispatcher, logger zerolog.Logger) *EventHandler {
	return &EventHandler{dispatcher: dispatcher, logger: logger}
}

// Handle processes one payload and reports whether it should be acked.
// Malformed payloads and events nobody listens to are acked and dropped;
// handler failures are nacked for redelivery.
func (h *EventHandler) Handle(ctx context.Context, data []byte) bool {
	var evt store.ChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		h.logger.Error().Err(err).Msg("failed to parse change event")
		return true
	}
	if evt.SubscriptionID == "" {
		h.logger.Warn().Str("record_id", evt.RecordID).Msg("change event without subscription")
		return true
	}

	err := h.dispatcher.Dispatch(ctx, evt)
	switch {
	case err == nil:
		return true
	case errors.Is(err, push.ErrNoHandler):
		h.logger.Debug().Str("subscription_id", evt.SubscriptionID).Msg("no local handler for change event")
		return true
	default:
		h.logger.Error().
			Err(err).
			Str("subscription_id", evt.SubscriptionID).
			Str("record_id", evt.RecordID).
			Msg("change event handler failed")
		return false
	}
}

// PubSubHandler receives change events from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	events           *EventHandler
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	logger := cfg.Logger.With().Str("component", "pubsub_handler").Logger()
	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		events:           NewEventHandler(cfg.Dispatcher, logger),
		logger:           logger,
	}, nil
}

// Start receives messages until ctx is cancelled. Receive failures are
// retried with exponential backoff.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	receive := func() error {
		err := h.subscriber.Receive(ctx, h.handleMessage)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		h.logger.Warn().Err(err).Dur("retry_in", next).Msg("pubsub receive failed")
	}

	err := backoff.RetryNotify(receive, backoff.WithContext(bo, ctx), notify)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	h.logger.Debug().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Msg("received pubsub message")

	if h.events.Handle(ctx, msg.Data) {
		msg.Ack()
		return
	}
	msg.Nack()
}
