package routing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/routing"
	"github.com/crossnotify/crossnotify/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type identity struct{ reg *device.Registration }

func (i identity) CurrentDevice() (*device.Registration, bool) { return i.reg, i.reg != nil }

func self(id string, typ device.Type) identity {
	return identity{reg: &device.Registration{ID: id, DeviceType: typ, Name: "device " + id, IsActive: true}}
}

func newRouter(s store.Store, id identity, p presentation.Presenter, mode routing.Mode) *routing.Service {
	return routing.NewService(routing.ServiceConfig{
		Store:     s,
		Identity:  id,
		Presenter: p,
		Mode:      mode,
		Now:       func() time.Time { return base },
		Logger:    zerolog.Nop(),
	})
}

func seen(r *routing.Service, id string, typ device.Type, ago time.Duration) {
	r.RecordPresence(routing.Presence{DeviceID: id, DeviceType: typ, LastSeen: base.Add(-ago)})
}

func TestService_DetermineTargetDevices(t *testing.T) {
	strPtr := func(s string) *string { return &s }

	tests := []struct {
		name     string
		mode     routing.Mode
		presence func(r *routing.Service)
		target   *string
		want     []string
	}{
		{
			name: "active device picks strictly greatest lastSeen",
			mode: routing.ModeActiveDevice,
			presence: func(r *routing.Service) {
				seen(r, "A", device.TypeDesktop, 10*time.Second)
				seen(r, "B", device.TypePhone, 5*time.Second)
				seen(r, "C", device.TypeTablet, 20*time.Second)
			},
			want: []string{"B"},
		},
		{
			name: "active device tie goes to lowest id",
			mode: routing.ModeActiveDevice,
			presence: func(r *routing.Service) {
				seen(r, "C", device.TypeTablet, 5*time.Second)
				seen(r, "B", device.TypePhone, 5*time.Second)
				seen(r, "A", device.TypeDesktop, time.Minute)
			},
			want: []string{"B"},
		},
		{
			name: "offline devices are ignored",
			mode: routing.ModeActiveDevice,
			presence: func(r *routing.Service) {
				seen(r, "A", device.TypeDesktop, time.Minute)
				seen(r, "B", device.TypePhone, 10*time.Minute)
			},
			want: []string{"A"},
		},
		{
			name:     "nobody online falls back to self",
			mode:     routing.ModeActiveDevice,
			presence: func(r *routing.Service) { seen(r, "B", device.TypePhone, time.Hour) },
			want:     []string{"A"},
		},
		{
			name: "all devices sorted by id",
			mode: routing.ModeAllDevices,
			presence: func(r *routing.Service) {
				seen(r, "C", device.TypeTablet, time.Second)
				seen(r, "A", device.TypeDesktop, time.Second)
				seen(r, "B", device.TypePhone, time.Hour)
				seen(r, "D", device.TypeWatch, 2*time.Second)
			},
			want: []string{"A", "C", "D"},
		},
		{
			name: "primary only picks first online phone",
			mode: routing.ModePrimaryOnly,
			presence: func(r *routing.Service) {
				seen(r, "P2", device.TypePhone, time.Second)
				seen(r, "P1", device.TypePhone, time.Minute)
				seen(r, "T", device.TypeTablet, time.Second)
			},
			want: []string{"P1"},
		},
		{
			name:     "primary only without a phone falls back to self",
			mode:     routing.ModePrimaryOnly,
			presence: func(r *routing.Service) { seen(r, "T", device.TypeTablet, time.Second) },
			want:     []string{"A"},
		},
		{
			name:     "manual target online",
			mode:     routing.ModeManual,
			presence: func(r *routing.Service) { seen(r, "B", device.TypePhone, time.Second) },
			target:   strPtr("B"),
			want:     []string{"B"},
		},
		{
			name:     "manual target offline",
			mode:     routing.ModeManual,
			presence: func(r *routing.Service) { seen(r, "B", device.TypePhone, time.Hour) },
			target:   strPtr("B"),
			want:     []string{"A"},
		},
		{
			name:     "manual without target",
			mode:     routing.ModeManual,
			presence: func(r *routing.Service) { seen(r, "B", device.TypePhone, time.Second) },
			want:     []string{"A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(store.NewMemoryStore(store.MemoryStoreConfig{}), self("A", device.TypeDesktop), presentation.NewMemoryPresenter(), tt.mode)
			tt.presence(r)

			n := routing.Notification{ID: "n1", Title: "t", Category: notification.CategoryMessage, TargetDeviceID: tt.target}
			got := r.DetermineTargetDevices(n)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, r.DetermineTargetDevices(n), "stable")
		})
	}
}

func TestService_RouteNotification(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.MemoryStoreConfig{})

	presenterA := presentation.NewMemoryPresenter()
	a := newRouter(s, self("A", device.TypeDesktop), presenterA, routing.ModeAllDevices)
	seen(a, "A", device.TypeDesktop, 0)
	seen(a, "B", device.TypePhone, time.Second)

	handed, err := a.SendNotification(ctx, "Build done", "all green", notification.CategoryTaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, handed)

	shown := presenterA.Shown()
	require.Len(t, shown, 1)
	assert.Equal(t, "Build done", shown[0].Title)

	rec, err := s.Fetch(ctx, store.TypeRemoteNotification, routing.EnvelopeRecordID(shown[0].NotificationID, "B"))
	require.NoError(t, err)
	e, err := routing.EnvelopeFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "A", e.SourceDeviceID)
	assert.False(t, e.Delivered)
	assert.Equal(t, notification.PriorityNormal, e.Notification.Priority)

	presenterB := presentation.NewMemoryPresenter()
	b := newRouter(s, self("B", device.TypePhone), presenterB, routing.ModeActiveDevice)

	n, err := b.CheckForPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, ok := presenterB.Get(shown[0].NotificationID)
	require.True(t, ok)
	assert.Equal(t, "A", got.SourceDeviceID)

	n, err = b.CheckForPendingNotifications(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "entries are marked delivered")

	rec, err = s.Fetch(ctx, store.TypeRemoteNotification, routing.EnvelopeRecordID(shown[0].NotificationID, "B"))
	require.NoError(t, err)
	delivered, _ := rec.Bool(routing.FieldDelivered)
	assert.True(t, delivered)
}

func TestService_DuplicatesAreNotCounted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.MemoryStoreConfig{})

	presenterA := presentation.NewMemoryPresenter()
	a := newRouter(s, self("A", device.TypeDesktop), presenterA, routing.ModeAllDevices)
	seen(a, "A", device.TypeDesktop, 0)
	seen(a, "B", device.TypePhone, time.Second)

	presenterB := presentation.NewMemoryPresenter()
	b := newRouter(s, self("B", device.TypePhone), presenterB, routing.ModeActiveDevice)

	n := routing.Notification{ID: "dup-1", Title: "Build done", Category: notification.CategoryTaskCompleted}

	tests := []struct {
		name       string
		wantHanded []string
		wantShownB int
	}{
		{name: "first route", wantHanded: []string{"A", "B"}, wantShownB: 1},
		{name: "repeated route", wantHanded: []string{"B"}, wantShownB: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handed, err := a.RouteNotification(ctx, n)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHanded, handed)
			assert.Len(t, presenterA.Shown(), 1)

			shown, err := b.CheckForPendingNotifications(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantShownB, shown)
			assert.Len(t, presenterB.Shown(), 1)

			rec, err := s.Fetch(ctx, store.TypeRemoteNotification, routing.EnvelopeRecordID("dup-1", "B"))
			require.NoError(t, err)
			delivered, _ := rec.Bool(routing.FieldDelivered)
			assert.True(t, delivered)
		})
	}
}

func TestService_RouteNotification_Urgent(t *testing.T) {
	ctx := context.Background()
	p := presentation.NewMemoryPresenter()
	r := newRouter(store.NewMemoryStore(store.MemoryStoreConfig{}), self("A", device.TypeDesktop), p, routing.ModeActiveDevice)

	handed, err := r.SendUrgentNotification(ctx, "Disk almost full", "2% left", notification.CategoryError)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, handed)

	shown := p.Shown()
	require.Len(t, shown, 1)
	assert.True(t, shown[0].Critical)
}

func TestService_SendDataNotification(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.MemoryStoreConfig{})
	a := newRouter(s, self("A", device.TypeDesktop), presentation.NewMemoryPresenter(), routing.ModeManual)
	seen(a, "B", device.TypePhone, time.Second)

	target := "B"
	handed, err := a.SendDataNotification(ctx, map[string]string{"sync": "contacts"}, &target)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, handed)

	presenterB := presentation.NewMemoryPresenter()
	b := newRouter(s, self("B", device.TypePhone), presenterB, routing.ModeManual)
	_, err = b.CheckForPendingNotifications(ctx)
	require.NoError(t, err)

	shown := presenterB.Shown()
	require.Len(t, shown, 1)
	assert.True(t, shown[0].Silent)
	require.NotNil(t, shown[0].UserInfo)
	require.NotNil(t, shown[0].UserInfo.Data)
	assert.Equal(t, "contacts", shown[0].UserInfo.Data.Values["sync"])
}

type failingStore struct {
	store.Store
}

var errStoreDown = errors.New("store down")

func (f failingStore) Save(ctx context.Context, r *store.Record) error {
	if r.Type == store.TypeRemoteNotification {
		return errStoreDown
	}
	return f.Store.Save(ctx, r)
}

func TestService_RouteNotification_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("partial failure excludes the target", func(t *testing.T) {
		r := newRouter(failingStore{store.NewMemoryStore(store.MemoryStoreConfig{})}, self("A", device.TypeDesktop),
			presentation.NewMemoryPresenter(), routing.ModeAllDevices)
		seen(r, "A", device.TypeDesktop, 0)
		seen(r, "B", device.TypePhone, 0)

		handed, err := r.SendNotification(ctx, "hi", "", notification.CategoryMessage)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, handed)
	})

	t.Run("nothing handed off", func(t *testing.T) {
		r := newRouter(failingStore{store.NewMemoryStore(store.MemoryStoreConfig{})}, self("A", device.TypeDesktop),
			presentation.NewMemoryPresenter(), routing.ModeActiveDevice)
		seen(r, "B", device.TypePhone, 0)

		_, err := r.SendNotification(ctx, "hi", "", notification.CategoryMessage)
		assert.ErrorIs(t, err, relay.ErrDeliveryFailed)
		assert.ErrorIs(t, err, errStoreDown)
	})

	t.Run("not registered", func(t *testing.T) {
		r := newRouter(store.NewMemoryStore(store.MemoryStoreConfig{}), identity{}, presentation.NewMemoryPresenter(), routing.ModeActiveDevice)
		_, err := r.SendNotification(ctx, "hi", "", notification.CategoryMessage)
		assert.ErrorIs(t, err, relay.ErrNotRegistered)

		_, err = r.CheckForPendingNotifications(ctx)
		assert.ErrorIs(t, err, relay.ErrNotRegistered)
	})
}

func TestService_Presence(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.MemoryStoreConfig{})

	a := newRouter(s, self("A", device.TypeDesktop), presentation.NewMemoryPresenter(), routing.ModeActiveDevice)
	b := newRouter(s, self("B", device.TypePhone), presentation.NewMemoryPresenter(), routing.ModeActiveDevice)

	a.BroadcastPresence(ctx)
	b.BroadcastPresence(ctx)
	require.NoError(t, s.Save(ctx, routing.PresenceToRecord(routing.Presence{
		DeviceID: "stale", DeviceType: device.TypeLaptop, LastSeen: base.Add(-time.Hour),
	})))

	assert.Equal(t, 2, a.RefreshPresence(ctx))

	online := a.OnlineDevices()
	require.Len(t, online, 2)
	assert.Equal(t, "A", online[0].DeviceID)
	assert.Equal(t, "B", online[1].DeviceID)
	assert.Equal(t, device.TypePhone, online[1].DeviceType)

	a.RecordPresence(routing.Presence{DeviceID: "B", LastSeen: base.Add(-time.Hour)})
	assert.Len(t, a.OnlineDevices(), 2, "older sightings are ignored")

	a.SetPresenceTimeout(time.Nanosecond)
	assert.Equal(t, time.Nanosecond, a.PresenceTimeout())
	a.SetPresenceTimeout(0)
	assert.Equal(t, routing.DefaultPresenceTimeout, a.PresenceTimeout())
}

func TestService_SetMode(t *testing.T) {
	r := newRouter(store.NewMemoryStore(store.MemoryStoreConfig{}), self("A", device.TypeDesktop), presentation.NewMemoryPresenter(), "")
	assert.Equal(t, routing.ModeActiveDevice, r.Mode())

	require.NoError(t, r.SetMode(routing.ModePrimaryOnly))
	assert.Equal(t, routing.ModePrimaryOnly, r.Mode())

	assert.ErrorIs(t, r.SetMode("nearest"), routing.ErrInvalidMode)
	assert.Equal(t, routing.ModePrimaryOnly, r.Mode())

	m, err := routing.ParseMode("allDevices")
	require.NoError(t, err)
	assert.Equal(t, routing.ModeAllDevices, m)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	at := base.Add(time.Minute)
	target := "B"
	e := &routing.Envelope{
		Notification: routing.Notification{
			ID:             "n1",
			Title:          "t",
			Body:           "b",
			Category:       notification.CategoryReminder,
			Priority:       notification.PriorityHigh,
			Kind:           routing.KindData,
			Data:           &notification.DataInfo{Values: map[string]string{"k": "v"}},
			TargetDeviceID: &target,
			CreatedAt:      base,
		},
		SourceDeviceID: "A",
		TargetDeviceID: "B",
		Delivered:      true,
		DeliveredAt:    &at,
	}

	rec, err := routing.EnvelopeToRecord(e)
	require.NoError(t, err)
	assert.Equal(t, "remote-n1-B", rec.ID)

	got, err := routing.EnvelopeFromRecord(rec)
	require.NoError(t, err)
	want := *e
	want.Notification.TargetDeviceID = nil
	assert.Equal(t, &want, got)

	rec.Set(routing.FieldPriority, store.String("urgent"))
	_, err = routing.EnvelopeFromRecord(rec)
	var decodeErr *store.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, routing.FieldPriority, decodeErr.Field)
}
