package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/store"
)

// Sender sends a single web push message.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends through the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// TokenLookup returns the web push subscription JSON registered for a device.
// ok is false when the device does not receive web push.
type TokenLookup func(ctx context.Context, deviceID string) (token string, ok bool, err error)

// WebPushConfig holds configuration for the web push publisher.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             int

	Lookup TokenLookup

	// OnExpired is called when the push service reports the subscription gone.
	OnExpired func(ctx context.Context, deviceID string)

	// Sender overrides the transport. Defaults to WebPushSender.
	Sender Sender

	Logger zerolog.Logger
}

// WebPushPublisher wakes browser-based devices with a web push carrying
// only the change event.
type WebPushPublisher struct {
	options   *webpush.Options
	lookup    TokenLookup
	onExpired func(ctx context.Context, deviceID string)
	sender    Sender
	logger    zerolog.Logger
}

// NewWebPushPublisher creates a new web push publisher.
func NewWebPushPublisher(cfg WebPushConfig) *WebPushPublisher {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 3600
	}
	sender := cfg.Sender
	if sender == nil {
		sender = &WebPushSender{}
	}
	return &WebPushPublisher{
		options: &webpush.Options{
			Subscriber:      cfg.Subject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             ttl,
			Urgency:         webpush.UrgencyHigh,
		},
		lookup:    cfg.Lookup,
		onExpired: cfg.OnExpired,
		sender:    sender,
		logger:    cfg.Logger.With().Str("component", "webpush_publisher").Logger(),
	}
}

// Publish sends the event to the device that owns the subscription.
func (p *WebPushPublisher) Publish(ctx context.Context, evt store.ChangeEvent) error {
	if p.lookup == nil || evt.DeviceID == "" {
		return nil
	}

	token, ok, err := p.lookup(ctx, evt.DeviceID)
	if err != nil {
		return fmt.Errorf("looking up push token for %s: %w", evt.DeviceID, err)
	}
	if !ok {
		return nil
	}

	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return fmt.Errorf("decoding web push subscription for %s: %w", evt.DeviceID, err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding change event: %w", err)
	}

	resp, err := p.sender.Send(payload, &sub, p.options)
	if err != nil {
		return fmt.Errorf("sending web push to %s: %w", evt.DeviceID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		p.logger.Info().
			Str("device_id", evt.DeviceID).
			Int("status", resp.StatusCode).
			Msg("web push subscription expired")
		if p.onExpired != nil {
			p.onExpired(ctx, evt.DeviceID)
		}
		return nil
	case resp.StatusCode >= 400:
		return fmt.Errorf("web push to %s rejected with status %d", evt.DeviceID, resp.StatusCode)
	}
	return nil
}

// Ensure WebPushPublisher implements store.Publisher.
var _ store.Publisher = (*WebPushPublisher)(nil)
