package push

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/store"
)

// Message attributes set on every published change event.
const (
	AttrSubscriptionID = "subscription_id"
	AttrDeviceID       = "device_id"
	AttrRecordType     = "record_type"
)

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger
}

// PubSubPublisher publishes change events to a Google Cloud Pub/Sub topic.
// Each device's worker receives them through its own subscription.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewPubSubPublisher creates a new Pub/Sub publisher.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		topic:     cfg.Topic,
		logger:    cfg.Logger.With().Str("component", "pubsub_publisher").Logger(),
	}, nil
}

// Publish sends the event and waits for the server acknowledgment.
func (p *PubSubPublisher) Publish(ctx context.Context, evt store.ChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding change event: %w", err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrSubscriptionID: evt.SubscriptionID,
			AttrDeviceID:       evt.DeviceID,
			AttrRecordType:     evt.RecordType,
		},
	})

	serverID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}

	p.logger.Debug().
		Str("message_id", serverID).
		Str("subscription_id", evt.SubscriptionID).
		Str("record_id", evt.RecordID).
		Msg("change event published")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}

// Ensure PubSubPublisher implements store.Publisher.
var _ store.Publisher = (*PubSubPublisher)(nil)
