// Package presentation shows notifications to the user on this device.
package presentation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/notification"
)

// Presentation is one notification as shown locally.
type Presentation struct {
	NotificationID string                 `json:"notificationId"`
	Category       notification.Category  `json:"category,omitempty"`
	Title          string                 `json:"title"`
	Subtitle       string                 `json:"subtitle,omitempty"`
	Body           string                 `json:"body"`
	ThreadID       string                 `json:"threadId,omitempty"`
	DeepLink       string                 `json:"deepLink,omitempty"`
	Sound          string                 `json:"sound,omitempty"`
	Haptic         notification.Haptic    `json:"haptic,omitempty"`
	Badge          *int                   `json:"badge,omitempty"`
	Critical       bool                   `json:"critical"`
	Silent         bool                   `json:"silent,omitempty"`
	UserInfo       *notification.UserInfo `json:"userInfo,omitempty"`
	SourceDeviceID string                 `json:"sourceDeviceId,omitempty"`
	PresentedAt    time.Time              `json:"presentedAt"`
}

// Presenter displays and removes local notifications.
type Presenter interface {
	Present(ctx context.Context, p Presentation) error
	Remove(ctx context.Context, notificationIDs ...string) error
}

// Multi presents through every presenter in order.
type Multi []Presenter

// Present calls every presenter and joins their errors.
func (m Multi) Present(ctx context.Context, p Presentation) error {
	var errs []error
	for _, pr := range m {
		if err := pr.Present(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove calls every presenter and joins their errors.
func (m Multi) Remove(ctx context.Context, notificationIDs ...string) error {
	var errs []error
	for _, pr := range m {
		if err := pr.Remove(ctx, notificationIDs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPresenter writes presentations to the log. Useful for headless devices.
type LogPresenter struct {
	logger zerolog.Logger
}

// NewLogPresenter creates a new log presenter.
func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{logger: logger.With().Str("component", "presenter").Logger()}
}

// Present logs the presentation.
func (l *LogPresenter) Present(_ context.Context, p Presentation) error {
	l.logger.Info().
		Str("notification_id", p.NotificationID).
		Str("category", string(p.Category)).
		Bool("critical", p.Critical).
		Str("title", p.Title).
		Msg("notification presented")
	return nil
}

// Remove logs the removal.
func (l *LogPresenter) Remove(_ context.Context, notificationIDs ...string) error {
	l.logger.Info().Strs("notification_ids", notificationIDs).Msg("notifications removed")
	return nil
}

// MemoryPresenter records presentations in memory.
type MemoryPresenter struct {
	mu      sync.Mutex
	shown   []Presentation
	removed []string
}

// NewMemoryPresenter creates an empty presenter.
func NewMemoryPresenter() *MemoryPresenter {
	return &MemoryPresenter{}
}

// Present records p, replacing an earlier presentation with the same id.
func (m *MemoryPresenter) Present(_ context.Context, p Presentation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shown = slices.DeleteFunc(m.shown, func(s Presentation) bool { return s.NotificationID == p.NotificationID })
	m.shown = append(m.shown, p)
	return nil
}

// Remove drops presentations by id.
func (m *MemoryPresenter) Remove(_ context.Context, notificationIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shown = slices.DeleteFunc(m.shown, func(s Presentation) bool {
		return slices.Contains(notificationIDs, s.NotificationID)
	})
	m.removed = append(m.removed, notificationIDs...)
	return nil
}

// Shown returns the presentations currently visible, oldest first.
func (m *MemoryPresenter) Shown() []Presentation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.shown)
}

// Get returns the visible presentation with the given id.
func (m *MemoryPresenter) Get(notificationID string) (Presentation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.shown {
		if p.NotificationID == notificationID {
			return p, true
		}
	}
	return Presentation{}, false
}

// Removed returns every id passed to Remove.
func (m *MemoryPresenter) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.removed)
}

var (
	_ Presenter = Multi(nil)
	_ Presenter = (*LogPresenter)(nil)
	_ Presenter = (*MemoryPresenter)(nil)
)
