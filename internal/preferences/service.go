package preferences

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/notification"
)

// LocalStore persists the preference snapshot on this device.
type LocalStore interface {
	// LoadPreferences returns nil when nothing has been saved yet.
	LoadPreferences(ctx context.Context) (*PreferenceSet, error)
	SavePreferences(ctx context.Context, p *PreferenceSet) error
}

// SharedStore is the eventually consistent copy shared by all devices.
type SharedStore interface {
	// Get returns nil when no device has published a snapshot.
	Get(ctx context.Context) (*PreferenceSet, error)
	Put(ctx context.Context, p *PreferenceSet) error

	// Changes signals whenever another snapshot may be available.
	// The channel is closed when ctx is done.
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// EngineConfig holds configuration for the preferences engine.
type EngineConfig struct {
	Local LocalStore

	// Shared is optional; without it preferences stay local.
	Shared SharedStore

	Now    func() time.Time
	Logger zerolog.Logger
}

// Engine is the single authority on whether a notification is shown.
type Engine struct {
	local  LocalStore
	shared SharedStore
	now    func() time.Time
	logger zerolog.Logger

	// writeMu orders local writes so the stored and in-memory snapshots agree.
	writeMu sync.Mutex
	mu      sync.RWMutex
	prefs   *PreferenceSet
}

// NewEngine creates an engine holding the default preferences until Load.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		local:  cfg.Local,
		shared: cfg.Shared,
		now:    now,
		logger: cfg.Logger.With().Str("component", "preferences").Logger(),
		prefs:  DefaultPreferenceSet(),
	}
}

// Load reads the local snapshot, keeping defaults when none exists.
func (e *Engine) Load(ctx context.Context) error {
	if e.local == nil {
		return nil
	}
	p, err := e.local.LoadPreferences(ctx)
	if err != nil {
		return fmt.Errorf("loading preferences: %w", err)
	}
	if p == nil {
		return nil
	}
	e.mu.Lock()
	e.prefs = p
	e.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current preferences.
func (e *Engine) Snapshot() *PreferenceSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prefs.Clone()
}

// ShouldDeliver reports whether a notification may be shown on deviceID now.
// An empty deviceID skips the device allowlist.
func (e *Engine) ShouldDeliver(category notification.Category, priority notification.Priority, deviceID string) bool {
	e.mu.RLock()
	p := e.prefs
	defer e.mu.RUnlock()

	if !p.GlobalEnabled || !p.CrossDeviceEnabled {
		return false
	}
	if !p.CategoryEnabled(category) {
		return false
	}
	if deviceID != "" && !p.DeviceEnabled(deviceID) {
		return false
	}
	if p.QuietHours.Enabled && p.QuietHours.Contains(e.now()) {
		return p.QuietHours.BypassCritical && priority == notification.PriorityCritical
	}
	return true
}

// InQuietHours reports whether t falls inside enabled quiet hours.
func (e *Engine) InQuietHours(t time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prefs.QuietHours.Enabled && e.prefs.QuietHours.Contains(t)
}

// EffectivePriority returns the override for c, else its default.
func (e *Engine) EffectivePriority(c notification.Category) notification.Priority {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.prefs.PriorityOverrides[c]; ok {
		return v
	}
	return c.DefaultPriority()
}

// EffectiveSound returns the override for c, else its default.
func (e *Engine) EffectiveSound(c notification.Category) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.prefs.SoundOverrides[c]; ok {
		return v
	}
	return c.DefaultSound()
}

// EffectiveHaptic returns the override for c, else its default.
func (e *Engine) EffectiveHaptic(c notification.Category) notification.Haptic {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.prefs.HapticOverrides[c]; ok {
		return v
	}
	return c.DefaultHaptic()
}

// Update applies fn to a copy of the preferences, stamps LastModified and
// persists the result. Sync failures are logged; the local write is not
// rolled back.
func (e *Engine) Update(ctx context.Context, fn func(p *PreferenceSet)) (*PreferenceSet, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	next := e.Snapshot()
	fn(next)
	next.LastModified = e.now().UTC()

	if err := e.commit(ctx, next); err != nil {
		return nil, err
	}

	if next.SyncEnabled && e.shared != nil {
		if err := e.shared.Put(ctx, next); err != nil {
			e.logger.Warn().Err(err).Msg("failed to sync preferences")
		}
	}
	return next, nil
}

// HandleRemoteChange pulls the shared snapshot and adopts it when it is
// strictly newer than the local one. The whole snapshot is replaced.
func (e *Engine) HandleRemoteChange(ctx context.Context) (bool, error) {
	if e.shared == nil {
		return false, nil
	}
	remote, err := e.shared.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching shared preferences: %w", err)
	}
	if remote == nil {
		return false, nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	local := e.Snapshot()
	if !local.SyncEnabled || !remote.LastModified.After(local.LastModified) {
		return false, nil
	}
	if err := e.commit(ctx, remote); err != nil {
		return false, err
	}

	e.logger.Debug().Time("last_modified", remote.LastModified).Msg("applied remote preferences")
	return true, nil
}

// commit persists p and then makes it current. Callers hold writeMu.
func (e *Engine) commit(ctx context.Context, p *PreferenceSet) error {
	if e.local != nil {
		if err := e.local.SavePreferences(ctx, p); err != nil {
			return fmt.Errorf("saving preferences: %w", err)
		}
	}
	e.mu.Lock()
	e.prefs = p.Clone()
	e.mu.Unlock()
	return nil
}

// Watch applies remote changes until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	if e.shared == nil {
		<-ctx.Done()
		return nil
	}
	changes, err := e.shared.Changes(ctx)
	if err != nil {
		return fmt.Errorf("watching shared preferences: %w", err)
	}
	for range changes {
		if _, err := e.HandleRemoteChange(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("failed to apply remote preferences")
		}
	}
	return nil
}
