// Package relay sends notifications to the user's other devices through the
// shared record store and presents the ones that arrive here.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/push"
	"github.com/crossnotify/crossnotify/internal/store"
	"github.com/crossnotify/crossnotify/internal/telemetry"
)

// DefaultDedupTTL is how long a presented notification id is remembered.
const DefaultDedupTTL = 48 * time.Hour

// SubscriptionPrefix prefixes the per-device push subscription id.
const SubscriptionPrefix = "crossdevice-"

// Disposition describes what HandleIncoming did with a change event.
type Disposition string

const (
	DispositionPresented   Disposition = "presented"
	DispositionOwn         Disposition = "own"
	DispositionExpired     Disposition = "expired"
	DispositionNotTargeted Disposition = "not_targeted"
	DispositionDuplicate   Disposition = "duplicate"
	DispositionFiltered    Disposition = "filtered"
	DispositionIgnored     Disposition = "ignored"
)

// Gate decides whether and how a notification is shown on this device.
type Gate interface {
	ShouldDeliver(category notification.Category, priority notification.Priority, deviceID string) bool
	EffectiveSound(category notification.Category) string
	EffectiveHaptic(category notification.Category) notification.Haptic
}

// Listener routes change events for a subscription id to a handler.
type Listener interface {
	Listen(subscriptionID string, h push.Handler)
	Unlisten(subscriptionID string)
}

// ServiceConfig holds configuration for the relay service.
type ServiceConfig struct {
	Store     store.Store
	Registry  *device.Registry
	Gate      Gate
	Presenter presentation.Presenter

	// Listener is optional; without it change events must be passed to
	// HandleIncoming by the caller.
	Listener Listener

	Metrics *telemetry.RelayMetrics

	DefaultTTL time.Duration
	DedupTTL   time.Duration
	Now        func() time.Time
	NewID      func() string
	Logger     zerolog.Logger
}

type deliveryKey struct {
	notificationID string
	deviceID       string
}

// Service is the relay for one device.
type Service struct {
	store     store.Store
	registry  *device.Registry
	gate      Gate
	presenter presentation.Presenter
	listener  Listener
	metrics   *telemetry.RelayMetrics

	defaultTTL time.Duration
	now        func() time.Time
	newID      func() string
	logger     zerolog.Logger

	seen *cache.Cache

	mu         sync.Mutex
	subscribed bool
	deliveries map[deliveryKey]*notification.DeliveryRecord
}

// NewService creates a new relay service.
func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = notification.DefaultTTL
	}
	dedup := cfg.DedupTTL
	if dedup <= 0 {
		dedup = DefaultDedupTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		store:      cfg.Store,
		registry:   cfg.Registry,
		gate:       cfg.Gate,
		presenter:  cfg.Presenter,
		listener:   cfg.Listener,
		metrics:    cfg.Metrics,
		defaultTTL: ttl,
		now:        now,
		newID:      newID,
		logger:     cfg.Logger.With().Str("component", "relay").Logger(),
		seen:       cache.New(dedup, time.Hour),
		deliveries: make(map[deliveryKey]*notification.DeliveryRecord),
	}
}

// Start binds to an existing registration, if any, and arms its push
// subscription. An unregistered device is not an error.
func (s *Service) Start(ctx context.Context) error {
	d, err := s.registry.Load(ctx)
	if errors.Is(err, device.ErrDeviceNotFound) {
		s.logger.Info().Msg("device not registered yet")
		return nil
	}
	if err != nil {
		return opError(KindRegistrationFailed, "load", err)
	}
	if _, err := s.registry.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh known devices")
	}
	return s.ensureSubscription(ctx, d.ID)
}

// SubscriptionID returns the push subscription id for a device.
func SubscriptionID(deviceID string) string { return SubscriptionPrefix + deviceID }

// RegisterDevice registers this device with the given push token and arms
// its push subscription.
func (s *Service) RegisterDevice(ctx context.Context, token string) (*device.Registration, error) {
	d, _, err := s.registry.Register(ctx, token)
	if err != nil {
		return nil, opError(KindRegistrationFailed, "", err)
	}
	if _, err := s.registry.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh known devices")
	}
	if err := s.ensureSubscription(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ensureSubscription(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	armed := s.subscribed
	s.mu.Unlock()
	if armed {
		return nil
	}

	subID := SubscriptionID(deviceID)
	err := s.store.SaveSubscription(ctx, store.Subscription{
		ID:         subID,
		RecordType: store.TypeCrossDeviceNotification,
		DeviceID:   deviceID,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateSubscription) {
		return opError(KindSubscriptionFailed, subID, err)
	}

	if s.listener != nil {
		s.listener.Listen(subID, func(ctx context.Context, evt store.ChangeEvent) error {
			_, err := s.HandleIncoming(ctx, evt)
			return err
		})
	}

	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()

	s.logger.Info().Str("subscription_id", subID).Msg("push subscription armed")
	return nil
}

// UnregisterDevice removes the push subscription and the registration.
// A soft unregister keeps the record but deactivates it.
func (s *Service) UnregisterDevice(ctx context.Context, hard bool) error {
	d, ok := s.registry.Current()
	if !ok {
		return ErrNotRegistered
	}

	subID := SubscriptionID(d.ID)
	if err := s.store.DeleteSubscription(ctx, subID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn().Err(err).Str("subscription_id", subID).Msg("failed to delete push subscription")
	}
	if s.listener != nil {
		s.listener.Unlisten(subID)
	}

	s.mu.Lock()
	s.subscribed = false
	s.mu.Unlock()

	if err := s.registry.Unregister(ctx, hard); err != nil {
		return opError(KindRegistrationFailed, "unregister", err)
	}
	return nil
}

// CurrentDevice returns this device's registration.
func (s *Service) CurrentDevice() (*device.Registration, bool) {
	return s.registry.Current()
}

// CachedDevices returns the known active devices.
func (s *Service) CachedDevices() []*device.Registration {
	return s.registry.Cached()
}

// IsReady reports whether the device is registered and listening.
func (s *Service) IsReady() bool {
	if _, ok := s.registry.Current(); !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// Send writes a notification for the user's other devices.
func (s *Service) Send(ctx context.Context, d notification.Draft) (*notification.Payload, error) {
	self, ok := s.registry.Current()
	if !ok {
		return nil, ErrNotRegistered
	}

	now := s.now()
	p, err := notification.NewPayload(s.newID(), d, self.ID, now, s.defaultTTL)
	if err != nil {
		return nil, err
	}

	rec, err := notification.PayloadToRecord(p)
	if err != nil {
		return nil, opError(KindSendFailed, "encode", err)
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, opError(KindSendFailed, p.ID, err)
	}

	s.trackSent(ctx, p, self.ID, now)
	s.metrics.Sent(ctx, string(p.Category))

	s.logger.Debug().
		Str("notification_id", p.ID).
		Str("category", string(p.Category)).
		Str("priority", p.Priority.String()).
		Msg("notification sent")
	return p, nil
}

// trackSent records a speculative "sent" delivery for every other target.
// Failures are logged; the payload is already in the store.
func (s *Service) trackSent(ctx context.Context, p *notification.Payload, selfID string, now time.Time) {
	var targets []string
	if p.IsBroadcast() {
		known := s.registry.Cached()
		if len(known) == 0 {
			if refreshed, err := s.registry.Refresh(ctx); err == nil {
				known = refreshed
			}
		}
		for _, d := range known {
			targets = append(targets, d.ID)
		}
	} else {
		targets = p.TargetDeviceIDs
	}

	for _, id := range targets {
		if id == selfID {
			continue
		}
		dr := &notification.DeliveryRecord{
			NotificationID: p.ID,
			DeviceID:       id,
			Status:         notification.DeliverySent,
			UpdatedAt:      now.UTC(),
		}
		s.mu.Lock()
		s.deliveries[deliveryKey{p.ID, id}] = dr
		s.mu.Unlock()

		if err := s.store.Save(ctx, notification.DeliveryToRecord(dr)); err != nil {
			s.logger.Warn().Err(err).
				Str("notification_id", p.ID).
				Str("device_id", id).
				Msg("failed to record delivery")
		}
	}
}

// HandleIncoming processes a change event from the push channel.
// Rejections by the gate are silent drops, not errors.
func (s *Service) HandleIncoming(ctx context.Context, evt store.ChangeEvent) (Disposition, error) {
	disposition, err := s.handleIncoming(ctx, evt)
	s.metrics.Received(ctx, string(disposition))
	return disposition, err
}

func (s *Service) handleIncoming(ctx context.Context, evt store.ChangeEvent) (Disposition, error) {
	if evt.RecordType != store.TypeCrossDeviceNotification {
		return DispositionIgnored, nil
	}
	self, ok := s.registry.Current()
	if !ok {
		return DispositionIgnored, ErrNotRegistered
	}

	rec, err := s.store.Fetch(ctx, evt.RecordType, evt.RecordID)
	if err != nil {
		return DispositionIgnored, opError(KindDeliveryFailed, "fetch "+evt.RecordID, err)
	}
	p, err := notification.PayloadFromRecord(rec)
	if err != nil {
		return DispositionIgnored, opError(KindDeliveryFailed, "decode "+evt.RecordID, err)
	}

	now := s.now()
	switch {
	case p.SourceDeviceID == self.ID:
		return DispositionOwn, nil
	case p.IsExpired(now):
		s.logger.Debug().Str("notification_id", p.ID).Msg("dropping expired notification")
		return DispositionExpired, nil
	case !p.IsTargeted(self.ID):
		return DispositionNotTargeted, nil
	}

	if err := s.seen.Add(p.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		s.logger.Debug().Str("notification_id", p.ID).Msg("dropping duplicate notification")
		return DispositionDuplicate, nil
	}

	if !s.gate.ShouldDeliver(p.Category, p.Priority, self.ID) {
		s.logger.Debug().
			Str("notification_id", p.ID).
			Str("category", string(p.Category)).
			Str("priority", p.Priority.String()).
			Msg("notification filtered by preferences")
		return DispositionFiltered, nil
	}

	if err := s.presenter.Present(ctx, s.presentationFor(p, now)); err != nil {
		s.seen.Delete(p.ID)
		return DispositionIgnored, opError(KindDeliveryFailed, "present "+p.ID, err)
	}

	dr := &notification.DeliveryRecord{
		NotificationID: p.ID,
		DeviceID:       self.ID,
		Status:         notification.DeliveryDelivered,
		UpdatedAt:      now.UTC(),
	}
	s.mu.Lock()
	s.deliveries[deliveryKey{p.ID, self.ID}] = dr
	s.mu.Unlock()

	if p.RequiresAcknowledgment {
		if err := s.store.Save(ctx, notification.DeliveryToRecord(dr)); err != nil {
			return DispositionPresented, opError(KindDeliveryFailed, "delivered marker "+p.ID, err)
		}
	}
	return DispositionPresented, nil
}

func (s *Service) presentationFor(p *notification.Payload, now time.Time) presentation.Presentation {
	out := presentation.Presentation{
		NotificationID: p.ID,
		Category:       p.Category,
		Title:          p.Title,
		Body:           p.Body,
		Sound:          s.gate.EffectiveSound(p.Category),
		Haptic:         s.gate.EffectiveHaptic(p.Category),
		Badge:          p.Badge,
		Critical:       p.Priority == notification.PriorityCritical,
		UserInfo:       p.UserInfo,
		SourceDeviceID: p.SourceDeviceID,
		PresentedAt:    now.UTC(),
	}
	if p.Subtitle != nil {
		out.Subtitle = *p.Subtitle
	}
	if p.ThreadID != nil {
		out.ThreadID = *p.ThreadID
	}
	if p.DeepLink != nil {
		out.DeepLink = *p.DeepLink
	}
	if p.Sound != nil {
		out.Sound = *p.Sound
	}
	if p.Haptic != nil {
		out.Haptic = *p.Haptic
	}
	return out
}

// Acknowledge records that the user acted on a notification. A payload
// that is still stored but past its expiry cannot be acknowledged.
func (s *Service) Acknowledge(ctx context.Context, notificationID, action string) error {
	self, ok := s.registry.Current()
	if !ok {
		return ErrNotRegistered
	}

	now := s.now().UTC()
	rec, err := s.store.Fetch(ctx, store.TypeCrossDeviceNotification, notification.PayloadRecordID(notificationID))
	switch {
	case err == nil:
		if expiresAt, ok := rec.Time(notification.FieldExpiresAt); ok && now.After(expiresAt) {
			return ErrNotificationExpired
		}
	case !errors.Is(err, store.ErrNotFound):
		return opError(KindDeliveryFailed, "acknowledge "+notificationID, err)
	}

	ack := &notification.Acknowledgment{
		NotificationID: notificationID,
		DeviceID:       self.ID,
		AcknowledgedAt: now,
		Action:         action,
	}
	if err := s.store.Save(ctx, notification.AcknowledgmentToRecord(ack)); err != nil {
		return opError(KindDeliveryFailed, "acknowledge "+notificationID, err)
	}

	if err := s.UpdateDeliveryStatus(ctx, notificationID, self.ID, notification.DeliveryRead); err != nil &&
		!errors.Is(err, notification.ErrInvalidTransition) {
		s.logger.Warn().Err(err).Str("notification_id", notificationID).Msg("failed to mark notification read")
	}
	return nil
}

// DeliveryStatus returns the locally tracked status of a notification on a device.
func (s *Service) DeliveryStatus(notificationID, deviceID string) (notification.DeliveryStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dr, ok := s.deliveries[deliveryKey{notificationID, deviceID}]
	if !ok {
		return "", false
	}
	return dr.Status, true
}

// Deliveries returns the delivery records stored for a notification.
func (s *Service) Deliveries(ctx context.Context, notificationID string) ([]*notification.DeliveryRecord, error) {
	recs, err := s.store.Query(ctx, store.Query{
		Type:       store.TypeNotificationDelivery,
		Predicates: []store.Predicate{store.Eq(notification.FieldNotificationID, store.String(notificationID))},
		SortField:  notification.FieldDeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("querying deliveries for %s: %w", notificationID, err)
	}
	out := make([]*notification.DeliveryRecord, 0, len(recs))
	for _, rec := range recs {
		dr, err := notification.DeliveryFromRecord(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("skipping malformed delivery record")
			continue
		}
		out = append(out, dr)
	}
	return out, nil
}

// UpdateDeliveryStatus advances a delivery record. Regressions are refused
// with notification.ErrInvalidTransition.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, notificationID, deviceID string, status notification.DeliveryStatus) error {
	now := s.now().UTC()
	key := deliveryKey{notificationID, deviceID}

	s.mu.Lock()
	dr, ok := s.deliveries[key]
	if !ok {
		dr = &notification.DeliveryRecord{
			NotificationID: notificationID,
			DeviceID:       deviceID,
			Status:         notification.DeliveryPending,
		}
	}
	next := *dr
	if err := next.Advance(status, now); err != nil {
		s.mu.Unlock()
		return err
	}
	s.deliveries[key] = &next
	s.mu.Unlock()

	if err := s.store.Save(ctx, notification.DeliveryToRecord(&next)); err != nil {
		return opError(KindDeliveryFailed, "update delivery "+notificationID, err)
	}
	return nil
}

// CleanupExpired deletes expired payload records. Failures are logged.
func (s *Service) CleanupExpired(ctx context.Context) int {
	recs, err := s.store.Query(ctx, store.Query{
		Type:       store.TypeCrossDeviceNotification,
		Predicates: []store.Predicate{store.Lt(notification.FieldExpiresAt, store.Time(s.now()))},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to query expired notifications")
		return 0
	}

	deleted := 0
	for _, rec := range recs {
		if err := s.store.Delete(ctx, rec.Type, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("failed to delete expired notification")
			continue
		}
		deleted++

		if id, ok := rec.String(notification.FieldNotificationID); ok {
			now := s.now()
			s.mu.Lock()
			for key, dr := range s.deliveries {
				if key.notificationID == id {
					_ = dr.Advance(notification.DeliveryExpired, now)
				}
			}
			s.mu.Unlock()
		}
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("cleaned up expired notifications")
	}
	return deleted
}

// CleanupOldDeliveryRecords deletes delivery records not updated in
// olderThanDays days. Failures are logged.
func (s *Service) CleanupOldDeliveryRecords(ctx context.Context, olderThanDays int) int {
	cutoff := s.now().AddDate(0, 0, -olderThanDays)

	s.mu.Lock()
	for key, dr := range s.deliveries {
		if dr.UpdatedAt.Before(cutoff) {
			delete(s.deliveries, key)
		}
	}
	s.mu.Unlock()

	recs, err := s.store.Query(ctx, store.Query{
		Type:       store.TypeNotificationDelivery,
		Predicates: []store.Predicate{store.Lt(notification.FieldUpdatedAt, store.Time(cutoff))},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to query old delivery records")
		return 0
	}

	deleted := 0
	for _, rec := range recs {
		if err := s.store.Delete(ctx, rec.Type, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("failed to delete delivery record")
			continue
		}
		deleted++
	}
	return deleted
}

// UpdateLastSeen refreshes this device's lastSeenAt. Failures are logged.
func (s *Service) UpdateLastSeen(ctx context.Context) {
	if err := s.registry.Touch(ctx); err != nil && !errors.Is(err, device.ErrNotRegistered) {
		s.logger.Warn().Err(err).Msg("failed to update last seen")
	}
}

// RefreshDevices reloads the known device cache.
func (s *Service) RefreshDevices(ctx context.Context) ([]*device.Registration, error) {
	return s.registry.Refresh(ctx)
}
