package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/store"
)

type memoryIDs struct{ id string }

func (m *memoryIDs) LoadDeviceID(context.Context) (string, error) { return m.id, nil }
func (m *memoryIDs) SaveDeviceID(_ context.Context, id string) error {
	m.id = id
	return nil
}

type fixture struct {
	repo *device.StoreRepository
	ids  *memoryIDs
	now  time.Time
	seq  int
}

func newFixture() *fixture {
	return &fixture{
		repo: device.NewStoreRepository(store.NewMemoryStore(store.MemoryStoreConfig{Logger: zerolog.Nop()})),
		ids:  &memoryIDs{},
		now:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) registry(name string) *device.Registry {
	return device.NewRegistry(device.RegistryConfig{
		Identity: device.Identity{
			Name:       name,
			DeviceType: device.TypePhone,
			Platform:   device.PlatformAPNS,
			Model:      "iPhone",
		},
		Repository: f.repo,
		IDStore:    f.ids,
		Now:        func() time.Time { return f.now },
		NewID: func() string {
			f.seq++
			return "DEV-" + string(rune('0'+f.seq))
		},
		Logger: zerolog.Nop(),
	})
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	reg := f.registry("Alice's iPhone")

	d, created, err := reg.Register(ctx, "token-0001")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "DEV-1", d.ID)
	assert.True(t, d.IsActive)
	assert.True(t, d.PushEnabled)
	assert.Equal(t, "0001", d.TokenLast4())
	assert.Equal(t, "DEV-1", f.ids.id)

	current, ok := reg.Current()
	require.True(t, ok)
	assert.Equal(t, d, current)

	t.Run("re-registration keeps id and registeredAt", func(t *testing.T) {
		registeredAt := d.RegisteredAt
		f.now = f.now.Add(time.Hour)

		again, created, err := reg.Register(ctx, "token-0002")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "DEV-1", again.ID)
		assert.Equal(t, "token-0002", again.PushToken)
		assert.Equal(t, registeredAt, again.RegisteredAt)
		assert.Equal(t, f.now, again.LastSeenAt)
	})

	t.Run("fresh process with the same name reuses the registration", func(t *testing.T) {
		f.ids.id = ""
		other := f.registry("Alice's iPhone")
		again, created, err := other.Register(ctx, "token-0003")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "DEV-1", again.ID)
	})
}

func TestRegistry_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing registered", func(t *testing.T) {
		f := newFixture()
		_, err := f.registry("mac").Load(ctx)
		assert.ErrorIs(t, err, device.ErrDeviceNotFound)
	})

	t.Run("by saved id", func(t *testing.T) {
		f := newFixture()
		d, _, err := f.registry("mac").Register(ctx, "tok")
		require.NoError(t, err)

		loaded, err := f.registry("renamed").Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, d.ID, loaded.ID)
	})

	t.Run("duplicate names prefer most recently seen", func(t *testing.T) {
		f := newFixture()
		older := &device.Registration{ID: "A", Name: "mac", IsActive: true, LastSeenAt: f.now.Add(-time.Hour)}
		newer := &device.Registration{ID: "B", Name: "mac", IsActive: true, LastSeenAt: f.now}
		for _, d := range []*device.Registration{older, newer} {
			_, err := f.repo.Upsert(ctx, d)
			require.NoError(t, err)
		}

		loaded, err := f.registry("mac").Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "B", loaded.ID)
	})

	t.Run("soft unregistered device does not load", func(t *testing.T) {
		f := newFixture()
		reg := f.registry("mac")
		_, _, err := reg.Register(ctx, "tok")
		require.NoError(t, err)
		require.NoError(t, reg.Unregister(ctx, false))

		_, ok := reg.Current()
		assert.False(t, ok)
		_, err = f.registry("mac").Load(ctx)
		assert.ErrorIs(t, err, device.ErrDeviceNotFound)
	})
}

func TestRegistry_Unregister(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	reg := f.registry("mac")

	assert.ErrorIs(t, reg.Unregister(ctx, true), device.ErrNotRegistered)

	d, _, err := reg.Register(ctx, "tok")
	require.NoError(t, err)
	require.NoError(t, reg.Unregister(ctx, true))

	_, err = f.repo.Get(ctx, d.ID)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
	assert.Empty(t, f.ids.id)
}

func TestRegistry_RefreshAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	for _, d := range []*device.Registration{
		{ID: "C", Name: "watch", IsActive: true},
		{ID: "A", Name: "phone", IsActive: true},
		{ID: "B", Name: "old", IsActive: false},
	} {
		_, err := f.repo.Upsert(ctx, d)
		require.NoError(t, err)
	}

	reg := f.registry("phone")
	list, err := reg.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	cached := reg.Cached()
	require.Len(t, cached, 2)
	assert.Equal(t, "A", cached[0].ID)
	assert.Equal(t, "C", cached[1].ID)

	got, err := reg.Lookup(ctx, "B")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = reg.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestRegistry_WebPushToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sub := `{"endpoint":"https://push.example.com/x"}`

	for _, d := range []*device.Registration{
		{ID: "web", Platform: device.PlatformWebPush, PushToken: sub, PushEnabled: true, IsActive: true},
		{ID: "phone", Platform: device.PlatformAPNS, PushToken: "apns", PushEnabled: true, IsActive: true},
	} {
		_, err := f.repo.Upsert(ctx, d)
		require.NoError(t, err)
	}
	reg := f.registry("server")

	token, ok, err := reg.WebPushToken(ctx, "web")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sub, token)

	_, ok, err = reg.WebPushToken(ctx, "phone")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.DisablePush(ctx, "web"))
	_, ok, err = reg.WebPushToken(ctx, "web")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_Touch(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	reg := f.registry("mac")

	assert.ErrorIs(t, reg.Touch(ctx), device.ErrNotRegistered)

	d, _, err := reg.Register(ctx, "tok")
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	require.NoError(t, reg.Touch(ctx))

	stored, err := f.repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, f.now, stored.LastSeenAt)
}

func TestRegistry_TouchKeepsSharedChanges(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		unregister bool
		hard       bool
		wantToken  string
		wantActive bool
	}{
		{name: "token rotated", wantToken: "token-2", wantActive: true},
		{name: "soft unregistered", unregister: true, wantToken: "token-2"},
		{name: "hard unregistered", unregister: true, hard: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			api := f.registry("mac")
			worker := f.registry("mac")

			d, _, err := api.Register(ctx, "token-1")
			require.NoError(t, err)
			_, err = worker.Load(ctx)
			require.NoError(t, err)

			_, _, err = api.Register(ctx, "token-2")
			require.NoError(t, err)
			if tt.unregister {
				require.NoError(t, api.Unregister(ctx, tt.hard))
			}

			f.now = f.now.Add(time.Minute)
			err = worker.Touch(ctx)

			if !tt.wantActive {
				assert.ErrorIs(t, err, device.ErrNotRegistered)
				_, ok := worker.Current()
				assert.False(t, ok)
			} else {
				require.NoError(t, err)
			}

			stored, err := f.repo.Get(ctx, d.ID)
			if tt.hard {
				assert.ErrorIs(t, err, device.ErrDeviceNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, stored.PushToken)
			assert.Equal(t, tt.wantActive, stored.IsActive)
			if tt.wantActive {
				assert.Equal(t, f.now, stored.LastSeenAt)
			}
		})
	}
}
