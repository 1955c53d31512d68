// Package intelligence classifies notifications shown on this device,
// gates auto-actions and keeps "cleared" state in sync across devices.
package intelligence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/store"
	"github.com/crossnotify/crossnotify/internal/telemetry"
)

// Defaults.
const (
	DefaultHistoryCapacity     = 200
	DefaultConfidenceThreshold = 0.8
	DefaultActionBuffer        = 64

	// ClearanceFetchLimit caps how many recent clearances a fetch reads.
	ClearanceFetchLimit = 100
)

// ErrNotFound is returned when a notification is not in the history.
var ErrNotFound = errors.New("classified notification not found")

// Identity provides the local device registration.
type Identity interface {
	CurrentDevice() (*device.Registration, bool)
}

// ServiceConfig holds configuration for the classifier service.
type ServiceConfig struct {
	Store     store.Store
	Presenter presentation.Presenter

	// Identity stamps clearances with this device's id. Optional.
	Identity Identity

	Metrics *telemetry.RelayMetrics

	AutoActions         bool
	ConfidenceThreshold float64
	SyncEnabled         bool
	HistoryCapacity     int
	ActionBuffer        int

	Now    func() time.Time
	Logger zerolog.Logger
}

// Service observes presented notifications.
type Service struct {
	store     store.Store
	presenter presentation.Presenter
	identity  Identity
	metrics   *telemetry.RelayMetrics
	now       func() time.Time
	logger    zerolog.Logger

	actions chan QueuedAction
	applied *cache.Cache

	mu          sync.RWMutex
	autoActions bool
	threshold   float64
	syncEnabled bool
	apps        map[string]AppSettings
	history     *ring[*ClassifiedNotification]
}

// NewService creates a new classifier service.
func NewService(cfg ServiceConfig) *Service {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	capacity := cfg.HistoryCapacity
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	buffer := cfg.ActionBuffer
	if buffer <= 0 {
		buffer = DefaultActionBuffer
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:       cfg.Store,
		presenter:   cfg.Presenter,
		identity:    cfg.Identity,
		metrics:     cfg.Metrics,
		now:         now,
		logger:      cfg.Logger.With().Str("component", "intelligence").Logger(),
		actions:     make(chan QueuedAction, buffer),
		applied:     cache.New(48*time.Hour, time.Hour),
		autoActions: cfg.AutoActions,
		threshold:   threshold,
		syncEnabled: cfg.SyncEnabled,
		apps:        make(map[string]AppSettings),
		history:     newRing[*ClassifiedNotification](capacity),
	}
}

// Classify classifies n using the app's urgency override. It does not
// record anything.
func (s *Service) Classify(n ObservedNotification) *ClassifiedNotification {
	settings := s.SettingsForApp(n.AppIdentifier)
	return Classify(n, settings.Urgency, s.now())
}

// Observe classifies n, keeps it in the history and queues the suggested
// actions that pass the auto-action gate.
func (s *Service) Observe(ctx context.Context, n ObservedNotification) *ClassifiedNotification {
	c := s.Classify(n)

	s.mu.Lock()
	s.history.push(c)
	enabled := s.autoActionsEnabledLocked(n.AppIdentifier)
	threshold := s.threshold
	out := c.clone()
	s.mu.Unlock()

	s.metrics.Classified(ctx, string(c.Category), c.Urgency.String())

	if enabled {
		for _, a := range c.SuggestedActions {
			if a.Confidence < threshold || a.RequiresApproval {
				continue
			}
			s.enqueue(QueuedAction{NotificationID: n.ID, AppIdentifier: n.AppIdentifier, Action: a})
		}
	}

	s.logger.Debug().
		Str("notification_id", n.ID).
		Str("app", n.AppIdentifier).
		Str("category", string(c.Category)).
		Str("urgency", c.Urgency.String()).
		Msg("notification classified")
	return out
}

func (s *Service) autoActionsEnabledLocked(appID string) bool {
	if app, ok := s.apps[appID]; ok && app.AutoActions != nil {
		return *app.AutoActions
	}
	return s.autoActions
}

func (s *Service) enqueue(a QueuedAction) {
	select {
	case s.actions <- a:
	default:
		s.logger.Warn().
			Str("notification_id", a.NotificationID).
			Str("action", string(a.Action.Type)).
			Msg("auto-action queue full, dropping action")
	}
}

// Actions returns the queue of gated auto-actions.
func (s *Service) Actions() <-chan QueuedAction { return s.actions }

// ClearNotification removes the local presentation, marks c cleared and,
// when sync is enabled, uploads a clearance for other devices.
func (s *Service) ClearNotification(ctx context.Context, c *ClassifiedNotification, by ClearedBy) error {
	id := c.Notification.ID
	now := s.now().UTC()

	if err := s.presenter.Remove(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", id).Msg("failed to remove presentation")
	}

	c.markCleared(by, now)
	s.mu.Lock()
	s.markClearedLocked(id, by, now)
	syncEnabled := s.syncEnabled
	s.mu.Unlock()

	s.metrics.Cleared(ctx, "local", 1)

	if !syncEnabled {
		return nil
	}

	clearance := &Clearance{
		NotificationID: id,
		AppIdentifier:  c.Notification.AppIdentifier,
		ClearedAt:      now,
		ClearedBy:      by,
	}
	if s.identity != nil {
		if self, ok := s.identity.CurrentDevice(); ok {
			clearance.DeviceID = self.ID
		}
	}
	if err := s.store.Save(ctx, ClearanceToRecord(clearance)); err != nil {
		return fmt.Errorf("uploading clearance for %s: %w", id, err)
	}
	s.applied.SetDefault(id, now)
	return nil
}

func (s *Service) markClearedLocked(id string, by ClearedBy, at time.Time) bool {
	found := false
	s.history.each(func(c *ClassifiedNotification) bool {
		if c.Notification.ID == id {
			c.markCleared(by, at)
			found = true
		}
		return true
	})
	return found
}

// ClearByID clears a notification from the history.
func (s *Service) ClearByID(ctx context.Context, id string, by ClearedBy) (*ClassifiedNotification, error) {
	c, ok := s.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if err := s.ClearNotification(ctx, c, by); err != nil {
		return c, err
	}
	return c, nil
}

// FetchSyncedClearances applies the most recent clearances made on other
// devices. It returns how many were newly applied.
func (s *Service) FetchSyncedClearances(ctx context.Context) (int, error) {
	recs, err := s.store.Query(ctx, store.Query{
		Type:       store.TypeNotificationClearance,
		SortField:  FieldClearedAt,
		Descending: true,
		Limit:      ClearanceFetchLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("fetching clearances: %w", err)
	}

	var selfID string
	if s.identity != nil {
		if self, ok := s.identity.CurrentDevice(); ok {
			selfID = self.ID
		}
	}

	var ids []string
	for _, rec := range recs {
		c, err := ClearanceFromRecord(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("skipping malformed clearance")
			continue
		}
		if selfID != "" && c.DeviceID == selfID {
			continue
		}
		if prev, ok := s.applied.Get(c.NotificationID); ok && !c.ClearedAt.After(prev.(time.Time)) {
			continue
		}
		ids = append(ids, c.NotificationID)
		s.applied.SetDefault(c.NotificationID, c.ClearedAt)

		s.mu.Lock()
		s.markClearedLocked(c.NotificationID, ClearedByRemote, c.ClearedAt)
		s.mu.Unlock()
	}

	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.presenter.Remove(ctx, ids...); err != nil {
		s.logger.Warn().Err(err).Int("count", len(ids)).Msg("failed to remove cleared presentations")
	}
	s.metrics.Cleared(ctx, "sync", len(ids))
	s.logger.Debug().Int("count", len(ids)).Msg("applied synced clearances")
	return len(ids), nil
}

// Get returns a copy of the most recent history entry for id.
func (s *Service) Get(id string) (*ClassifiedNotification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *ClassifiedNotification
	s.history.each(func(c *ClassifiedNotification) bool {
		if c.Notification.ID == id {
			found = c.clone()
			return false
		}
		return true
	})
	return found, found != nil
}

// History returns copies of the retained records, oldest first.
func (s *Service) History() []*ClassifiedNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.history.all()
	out := make([]*ClassifiedNotification, len(items))
	for i, c := range items {
		out[i] = c.clone()
	}
	return out
}

// SettingsForApp returns the settings for an app, empty if none were set.
func (s *Service) SettingsForApp(appID string) AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if app, ok := s.apps[appID]; ok {
		return app
	}
	return AppSettings{AppIdentifier: appID}
}

// SetAppSettings replaces the settings for settings.AppIdentifier.
func (s *Service) SetAppSettings(settings AppSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[settings.AppIdentifier] = settings
}

// SetAutoActions switches auto-actions globally.
func (s *Service) SetAutoActions(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoActions = enabled
}

// SetSyncEnabled switches clearance upload.
func (s *Service) SetSyncEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncEnabled = enabled
}
