// Package routing picks which of the user's devices should show a locally
// originated notification and hands it off through a store mailbox.
package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/store"
	"github.com/crossnotify/crossnotify/internal/telemetry"
)

// Identity provides the local device registration.
type Identity interface {
	CurrentDevice() (*device.Registration, bool)
}

// ServiceConfig holds configuration for the router.
type ServiceConfig struct {
	Store     store.Store
	Identity  Identity
	Presenter presentation.Presenter

	// Gate filters mailbox entries before presentation. Optional.
	Gate relay.Gate

	Metrics *telemetry.RelayMetrics

	// Mode is the initial routing mode (default: activeDevice).
	Mode Mode

	// PresenceTimeout is how recently a device must have been seen to be
	// online (default: 300s).
	PresenceTimeout time.Duration

	// DedupTTL is how long a presented notification id is remembered
	// (default: 48h).
	DedupTTL time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger zerolog.Logger
}

// Service routes notifications between the user's devices.
type Service struct {
	store     store.Store
	identity  Identity
	presenter presentation.Presenter
	gate      relay.Gate
	metrics   *telemetry.RelayMetrics
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger

	seen *cache.Cache

	mu              sync.RWMutex
	mode            Mode
	presenceTimeout time.Duration
	presence        map[string]Presence
}

// NewService creates a new router.
func NewService(cfg ServiceConfig) *Service {
	mode := cfg.Mode
	if !mode.Valid() {
		mode = ModeActiveDevice
	}

	timeout := cfg.PresenceTimeout
	if timeout <= 0 {
		timeout = DefaultPresenceTimeout
	}

	dedup := cfg.DedupTTL
	if dedup <= 0 {
		dedup = relay.DefaultDedupTTL
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
		store:           cfg.Store,
		identity:        cfg.Identity,
		presenter:       cfg.Presenter,
		gate:            cfg.Gate,
		metrics:         cfg.Metrics,
		now:             now,
		newID:           newID,
		logger:          cfg.Logger.With().Str("component", "router").Logger(),
		seen:            cache.New(dedup, time.Hour),
		mode:            mode,
		presenceTimeout: timeout,
		presence:        make(map[string]Presence),
	}
}

// Mode returns the current routing mode.
func (s *Service) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode changes the routing mode.
func (s *Service) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.logger.Info().Str("mode", string(m)).Msg("routing mode changed")
	return nil
}

// PresenceTimeout returns the online window.
func (s *Service) PresenceTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presenceTimeout
}

// SetPresenceTimeout changes the online window. Non-positive values restore
// the default.
func (s *Service) SetPresenceTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultPresenceTimeout
	}
	s.mu.Lock()
	s.presenceTimeout = d
	s.mu.Unlock()
}

// RecordPresence notes that a device was seen. Older sightings are ignored.
func (s *Service) RecordPresence(p Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.presence[p.DeviceID]; ok && !p.LastSeen.After(cur.LastSeen) {
		return
	}
	s.presence[p.DeviceID] = p
}

// OnlineDevices returns the devices seen within the presence timeout,
// ordered by device id.
func (s *Service) OnlineDevices() []Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onlineLocked(s.now())
}

func (s *Service) onlineLocked(now time.Time) []Presence {
	out := make([]Presence, 0, len(s.presence))
	for _, p := range s.presence {
		if p.Online(now, s.presenceTimeout) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Presence) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out
}

// DetermineTargetDevices chooses the devices that should show n. It never
// fails: with no eligible device the notification stays on this device.
func (s *Service) DetermineTargetDevices(n Notification) []string {
	var selfID string
	if self, ok := s.identity.CurrentDevice(); ok {
		selfID = self.ID
	}

	s.mu.RLock()
	mode := s.mode
	online := s.onlineLocked(s.now())
	s.mu.RUnlock()

	var targets []string
	switch mode {
	case ModeActiveDevice:
		var best *Presence
		for i := range online {
			// online is sorted by id, so ties keep the lowest id.
			if best == nil || online[i].LastSeen.After(best.LastSeen) {
				best = &online[i]
			}
		}
		if best != nil {
			targets = []string{best.DeviceID}
		}
	case ModeAllDevices:
		for _, p := range online {
			targets = append(targets, p.DeviceID)
		}
	case ModePrimaryOnly:
		for _, p := range online {
			if p.DeviceType == device.TypePhone {
				targets = []string{p.DeviceID}
				break
			}
		}
	case ModeManual:
		if n.TargetDeviceID != nil {
			for _, p := range online {
				if p.DeviceID == *n.TargetDeviceID {
					targets = []string{p.DeviceID}
					break
				}
			}
		}
	}

	if len(targets) == 0 && selfID != "" {
		targets = []string{selfID}
	}
	return targets
}

// RouteNotification presents n locally when this device is a target and
// queues it in the mailbox of every other target. It returns the ids of the
// devices it was handed off to.
func (s *Service) RouteNotification(ctx context.Context, n Notification) ([]string, error) {
	self, ok := s.identity.CurrentDevice()
	if !ok {
		return nil, relay.ErrNotRegistered
	}
	if n.ID == "" {
		n.ID = s.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	targets := s.DetermineTargetDevices(n)
	handed := make([]string, 0, len(targets))
	var errs []error

	for _, target := range targets {
		if target == self.ID {
			err := s.presentLocal(ctx, n, self.ID)
			if errors.Is(err, errAlreadyPresented) {
				continue
			}
			if err != nil {
				s.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("failed to present routed notification")
				errs = append(errs, err)
				continue
			}
			handed = append(handed, target)
			continue
		}

		rec, err := EnvelopeToRecord(&Envelope{
			Notification:   n,
			SourceDeviceID: self.ID,
			TargetDeviceID: target,
		})
		if err == nil {
			err = s.store.Save(ctx, rec)
		}
		if err != nil {
			s.logger.Warn().Err(err).
				Str("notification_id", n.ID).
				Str("target_device_id", target).
				Msg("failed to queue routed notification")
			errs = append(errs, err)
			continue
		}
		handed = append(handed, target)
	}

	if len(handed) == 0 && len(errs) > 0 {
		return nil, &relay.OpError{Kind: relay.KindDeliveryFailed, Reason: "route " + n.ID, Err: errors.Join(errs...)}
	}

	mode := s.Mode()
	s.metrics.Routed(ctx, string(mode), len(handed))
	s.logger.Debug().
		Str("notification_id", n.ID).
		Str("mode", string(mode)).
		Strs("targets", handed).
		Msg("notification routed")
	return handed, nil
}

// errAlreadyPresented is returned by presentLocal for an id shown within
// the dedup window.
var errAlreadyPresented = errors.New("notification already presented")

func (s *Service) presentLocal(ctx context.Context, n Notification, sourceID string) error {
	if err := s.seen.Add(n.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		return errAlreadyPresented
	}
	p := presentation.Presentation{
		NotificationID: n.ID,
		Category:       n.Category,
		Title:          n.Title,
		Body:           n.Body,
		Sound:          n.Category.DefaultSound(),
		Haptic:         n.Category.DefaultHaptic(),
		Critical:       n.Kind == KindUrgent || n.Priority == notification.PriorityCritical,
		Silent:         n.Kind == KindData,
		SourceDeviceID: sourceID,
		PresentedAt:    s.now().UTC(),
	}
	if s.gate != nil {
		p.Sound = s.gate.EffectiveSound(n.Category)
		p.Haptic = s.gate.EffectiveHaptic(n.Category)
	}
	if n.Data != nil {
		p.UserInfo = notification.DataUserInfo(*n.Data)
	}
	if err := s.presenter.Present(ctx, p); err != nil {
		s.seen.Delete(n.ID)
		return err
	}
	return nil
}

// CheckForPendingNotifications presents undelivered mailbox entries
// addressed to this device and marks them delivered. It returns how many
// were presented.
func (s *Service) CheckForPendingNotifications(ctx context.Context) (int, error) {
	self, ok := s.identity.CurrentDevice()
	if !ok {
		return 0, relay.ErrNotRegistered
	}

	recs, err := s.store.Query(ctx, store.Query{
		Type: store.TypeRemoteNotification,
		Predicates: []store.Predicate{
			store.Eq(FieldTargetDeviceID, store.String(self.ID)),
			store.Eq(FieldDelivered, store.Bool(false)),
		},
		SortField: FieldCreatedAt,
	})
	if err != nil {
		return 0, &relay.OpError{Kind: relay.KindDeliveryFailed, Reason: "query mailbox", Err: err}
	}

	presented := 0
	for _, rec := range recs {
		e, err := EnvelopeFromRecord(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("skipping malformed mailbox entry")
			continue
		}

		n := e.Notification
		if s.gate == nil || s.gate.ShouldDeliver(n.Category, n.Priority, self.ID) {
			err := s.presentLocal(ctx, n, e.SourceDeviceID)
			switch {
			case errors.Is(err, errAlreadyPresented):
			case err != nil:
				s.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("failed to present pending notification")
				continue
			default:
				presented++
			}
		}

		at := s.now().UTC()
		e.Delivered = true
		e.DeliveredAt = &at
		out, err := EnvelopeToRecord(e)
		if err == nil {
			err = s.store.Save(ctx, out)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("failed to mark mailbox entry delivered")
		}
	}
	return presented, nil
}

// BroadcastPresence publishes this device's heartbeat. Failures are logged.
func (s *Service) BroadcastPresence(ctx context.Context) {
	self, ok := s.identity.CurrentDevice()
	if !ok {
		return
	}
	p := Presence{
		DeviceID:   self.ID,
		DeviceType: self.DeviceType,
		Name:       self.Name,
		LastSeen:   s.now().UTC(),
	}
	s.RecordPresence(p)

	if err := s.store.Save(ctx, PresenceToRecord(p)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to broadcast presence")
	}
}

// RefreshPresence loads recent heartbeats of all devices. Failures are
// logged. It returns the number of heartbeats read.
func (s *Service) RefreshPresence(ctx context.Context) int {
	cutoff := s.now().Add(-s.PresenceTimeout())
	recs, err := s.store.Query(ctx, store.Query{
		Type:       store.TypeDevicePresence,
		Predicates: []store.Predicate{store.Gt(FieldLastSeen, store.Time(cutoff))},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh presence")
		return 0
	}

	n := 0
	for _, rec := range recs {
		p, err := PresenceFromRecord(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("skipping malformed presence record")
			continue
		}
		s.RecordPresence(p)
		n++
	}
	return n
}

// SendNotification routes a standard notification.
func (s *Service) SendNotification(ctx context.Context, title, body string, category notification.Category) ([]string, error) {
	return s.RouteNotification(ctx, Notification{
		Title:    title,
		Body:     body,
		Category: category,
		Priority: category.DefaultPriority(),
		Kind:     KindStandard,
	})
}

// SendUrgentNotification routes a notification at critical priority.
func (s *Service) SendUrgentNotification(ctx context.Context, title, body string, category notification.Category) ([]string, error) {
	return s.RouteNotification(ctx, Notification{
		Title:    title,
		Body:     body,
		Category: category,
		Priority: notification.PriorityCritical,
		Kind:     KindUrgent,
	})
}

// SendDataNotification routes a silent notification carrying values.
// targetDeviceID is only honored in manual mode.
func (s *Service) SendDataNotification(ctx context.Context, values map[string]string, targetDeviceID *string) ([]string, error) {
	return s.RouteNotification(ctx, Notification{
		Category:       notification.CategorySystem,
		Priority:       notification.PriorityLow,
		Kind:           KindData,
		Data:           &notification.DataInfo{Values: values},
		TargetDeviceID: targetDeviceID,
	})
}
