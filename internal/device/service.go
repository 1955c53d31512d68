package device

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
)

// DefaultCacheTTL is how long known devices stay in the registry cache.
const DefaultCacheTTL = 10 * time.Minute

// RegistryConfig holds configuration for the registry.
type RegistryConfig struct {
	Identity   Identity
	Repository Repository

	// IDStore remembers the local device id. Optional.
	IDStore IDStore

	// PushToken is the last known push token, used to find the local device.
	PushToken string

	CacheTTL time.Duration
	Now      func() time.Time
	NewID    func() string
	Logger   zerolog.Logger
}

// Registry binds the running process to its device registration and caches
// the other known devices.
type Registry struct {
	identity  Identity
	repo      Repository
	ids       IDStore
	pushToken string
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger

	known *cache.Cache

	mu      sync.RWMutex
	current *Registration
}

// NewRegistry creates a new device registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return strings.ToUpper(uuid.NewString()) }
	}
	return &Registry{
		identity:  cfg.Identity,
		repo:      cfg.Repository,
		ids:       cfg.IDStore,
		pushToken: cfg.PushToken,
		now:       now,
		newID:     newID,
		logger:    cfg.Logger.With().Str("component", "device_registry").Logger(),
		known:     cache.New(ttl, 2*ttl),
	}
}

// Load binds the registry to an existing registration: by remembered id,
// then by push token, then by device name.
func (r *Registry) Load(ctx context.Context) (*Registration, error) {
	d, err := r.find(ctx, r.pushToken)
	if err != nil {
		return nil, err
	}
	if d == nil || !d.IsActive {
		return nil, ErrDeviceNotFound
	}
	r.bind(ctx, d)
	return d.clone(), nil
}

func (r *Registry) find(ctx context.Context, token string) (*Registration, error) {
	id := r.identity.DeviceID
	if r.ids != nil {
		saved, err := r.ids.LoadDeviceID(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("failed to read saved device id")
		} else if saved != "" {
			id = saved
		}
	}
	if id != "" {
		d, err := r.repo.Get(ctx, id)
		switch {
		case err == nil:
			return d, nil
		case !errors.Is(err, ErrDeviceNotFound):
			return nil, err
		}
	}

	if token != "" {
		d, err := r.repo.GetByToken(ctx, token)
		switch {
		case err == nil:
			return d, nil
		case !errors.Is(err, ErrDeviceNotFound):
			return nil, err
		}
	}

	if r.identity.Name == "" {
		return nil, nil
	}
	named, err := r.repo.ListByName(ctx, r.identity.Name)
	if err != nil {
		return nil, err
	}
	return r.pickByName(named, token), nil
}

// pickByName resolves several registrations sharing the local device name:
// a token match wins, else the most recently seen.
func (r *Registry) pickByName(named []*Registration, token string) *Registration {
	switch len(named) {
	case 0:
		return nil
	case 1:
		return named[0]
	}

	r.logger.Warn().
		Str("name", r.identity.Name).
		Int("count", len(named)).
		Msg("multiple registrations share the device name")

	if token != "" {
		for _, d := range named {
			if d.PushToken == token {
				return d
			}
		}
	}
	best := named[0]
	for _, d := range named[1:] {
		if d.LastSeenAt.After(best.LastSeenAt) {
			best = d
		}
	}
	return best
}

func (r *Registry) bind(ctx context.Context, d *Registration) {
	r.mu.Lock()
	r.current = d.clone()
	r.mu.Unlock()

	r.known.Set(d.ID, d.clone(), cache.DefaultExpiration)

	if r.ids != nil {
		if err := r.ids.SaveDeviceID(ctx, d.ID); err != nil {
			r.logger.Warn().Err(err).Str("device_id", d.ID).Msg("failed to save device id")
		}
	}
}

// Register creates or refreshes the registration for this device.
// Registering again with the same name updates the token and keeps the id.
func (r *Registry) Register(ctx context.Context, token string) (*Registration, bool, error) {
	now := r.now().UTC()

	existing, ok := r.Current()
	if !ok {
		found, err := r.find(ctx, token)
		if err != nil {
			return nil, false, err
		}
		existing = found
	}

	d := &Registration{
		ID:           r.newID(),
		RegisteredAt: now,
	}
	if existing != nil {
		d.ID = existing.ID
		d.RegisteredAt = existing.RegisteredAt
	}
	d.PushToken = token
	d.Platform = r.identity.Platform
	d.DeviceType = r.identity.DeviceType
	d.Name = r.identity.Name
	d.Model = r.identity.Model
	d.OSVersion = r.identity.OSVersion
	d.AppVersion = r.identity.AppVersion
	d.LastSeenAt = now
	d.PushEnabled = token != ""
	d.IsActive = true

	created, err := r.repo.Upsert(ctx, d)
	if err != nil {
		return nil, false, err
	}
	r.pushToken = token
	r.bind(ctx, d)

	r.logger.Info().
		Str("device_id", d.ID).
		Str("token_last4", d.TokenLast4()).
		Bool("created", created).
		Msg("device registered")

	return d.clone(), created, nil
}

// Current returns the local registration.
func (r *Registry) Current() (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, false
	}
	return r.current.clone(), true
}

// Refresh reloads the active devices into the cache and returns them.
func (r *Registry) Refresh(ctx context.Context) ([]*Registration, error) {
	list, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	r.known.Flush()
	for _, d := range list {
		r.known.Set(d.ID, d.clone(), cache.DefaultExpiration)
	}
	return list, nil
}

// Cached returns the cached devices ordered by ID.
func (r *Registry) Cached() []*Registration {
	items := r.known.Items()
	out := make([]*Registration, 0, len(items))
	for _, item := range items {
		if d, ok := item.Object.(*Registration); ok && d.IsActive {
			out = append(out, d.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Registration) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Lookup returns a device from the cache, falling back to the repository.
func (r *Registry) Lookup(ctx context.Context, deviceID string) (*Registration, error) {
	if v, ok := r.known.Get(deviceID); ok {
		return v.(*Registration).clone(), nil
	}
	d, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	r.known.Set(d.ID, d.clone(), cache.DefaultExpiration)
	return d, nil
}

// Touch records that the local device is alive. It works on the stored
// record, not the bound copy, so changes made by another process sharing the
// device id are kept. A deleted or deactivated record unbinds the registry.
func (r *Registry) Touch(ctx context.Context) error {
	cur, ok := r.Current()
	if !ok {
		return ErrNotRegistered
	}
	d, err := r.repo.Get(ctx, cur.ID)
	if errors.Is(err, ErrDeviceNotFound) || (err == nil && !d.IsActive) {
		r.unbind(cur.ID)
		return ErrNotRegistered
	}
	if err != nil {
		return err
	}
	d.LastSeenAt = r.now().UTC()
	if _, err := r.repo.Upsert(ctx, d); err != nil {
		return err
	}
	r.bind(ctx, d)
	return nil
}

func (r *Registry) unbind(id string) {
	r.known.Delete(id)
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// Unregister removes the local device. A soft unregister keeps the record
// but deactivates it; a hard one deletes it.
func (r *Registry) Unregister(ctx context.Context, hard bool) error {
	d, ok := r.Current()
	if !ok {
		return ErrNotRegistered
	}

	if hard {
		if err := r.repo.Delete(ctx, d.ID); err != nil && !errors.Is(err, ErrDeviceNotFound) {
			return err
		}
		if r.ids != nil {
			if err := r.ids.SaveDeviceID(ctx, ""); err != nil {
				r.logger.Warn().Err(err).Msg("failed to clear saved device id")
			}
		}
	} else {
		d.IsActive = false
		d.PushEnabled = false
		if _, err := r.repo.Upsert(ctx, d); err != nil {
			return err
		}
	}

	r.unbind(d.ID)

	r.logger.Info().Str("device_id", d.ID).Bool("hard", hard).Msg("device unregistered")
	return nil
}

// DisablePush stops push delivery to a device whose token was rejected.
func (r *Registry) DisablePush(ctx context.Context, deviceID string) error {
	d, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if !d.PushEnabled {
		return nil
	}
	d.PushEnabled = false
	if _, err := r.repo.Upsert(ctx, d); err != nil {
		return fmt.Errorf("disabling push for %s: %w", deviceID, err)
	}
	r.known.Set(d.ID, d.clone(), cache.DefaultExpiration)

	r.mu.Lock()
	if r.current != nil && r.current.ID == deviceID {
		r.current = d.clone()
	}
	r.mu.Unlock()
	return nil
}

// WebPushToken returns the web push subscription registered for a device.
func (r *Registry) WebPushToken(ctx context.Context, deviceID string) (string, bool, error) {
	d, err := r.Lookup(ctx, deviceID)
	if errors.Is(err, ErrDeviceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if d.Platform != PlatformWebPush || !d.PushEnabled || d.PushToken == "" {
		return "", false, nil
	}
	return d.PushToken, true, nil
}
