package relay_test

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
	"github.com/crossnotify/crossnotify/internal/preferences"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/push"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/store"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type world struct {
	store *store.MemoryStore
	bus   *push.Bus
	clock *clock
}

func newWorld() *world {
	bus := push.NewBus(zerolog.Nop())
	return &world{
		store: store.NewMemoryStore(store.MemoryStoreConfig{Publisher: bus, Logger: zerolog.Nop()}),
		bus:   bus,
		clock: &clock{now: time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC)},
	}
}

type node struct {
	relay     *relay.Service
	prefs     *preferences.Engine
	presenter *presentation.MemoryPresenter
}

func (w *world) node(t *testing.T, id string, s store.Store) *node {
	t.Helper()
	if s == nil {
		s = w.store
	}
	registry := device.NewRegistry(device.RegistryConfig{
		Identity:   device.Identity{Name: "device " + id, DeviceType: device.TypePhone, Platform: device.PlatformAPNS},
		Repository: device.NewStoreRepository(w.store),
		IDStore:    preferences.NewMemoryLocalStore(),
		Now:        w.clock.Now,
		NewID:      func() string { return id },
		Logger:     zerolog.Nop(),
	})
	prefs := preferences.NewEngine(preferences.EngineConfig{
		Local:  preferences.NewMemoryLocalStore(),
		Now:    w.clock.Now,
		Logger: zerolog.Nop(),
	})
	presenter := presentation.NewMemoryPresenter()
	return &node{
		relay: relay.NewService(relay.ServiceConfig{
			Store:     s,
			Registry:  registry,
			Gate:      prefs,
			Presenter: presenter,
			Listener:  w.bus,
			Now:       w.clock.Now,
			Logger:    zerolog.Nop(),
		}),
		prefs:     prefs,
		presenter: presenter,
	}
}

func registered(t *testing.T, w *world, ids ...string) []*node {
	t.Helper()
	nodes := make([]*node, 0, len(ids))
	for _, id := range ids {
		n := w.node(t, id, nil)
		_, err := n.relay.RegisterDevice(context.Background(), "token-"+id)
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		_, err := n.relay.RefreshDevices(context.Background())
		require.NoError(t, err)
	}
	return nodes
}

func enableQuietHours(t *testing.T, n *node) {
	t.Helper()
	_, err := n.prefs.Update(context.Background(), func(p *preferences.PreferenceSet) {
		p.QuietHours = preferences.QuietHours{
			Enabled:        true,
			Start:          preferences.MustClockTime("22:00"),
			End:            preferences.MustClockTime("07:00"),
			BypassCritical: true,
		}
	})
	require.NoError(t, err)
}

func eventFor(p *notification.Payload, deviceID string) store.ChangeEvent {
	return store.ChangeEvent{
		SubscriptionID: relay.SubscriptionID(deviceID),
		DeviceID:       deviceID,
		RecordType:     store.TypeCrossDeviceNotification,
		RecordID:       notification.PayloadRecordID(p.ID),
		Reason:         store.ReasonCreated,
	}
}

func TestRelay_CriticalApprovalBypassesQuietHours(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	nodes := registered(t, w, "A", "B")
	a, b := nodes[0], nodes[1]
	enableQuietHours(t, b)

	critical := notification.PriorityCritical
	p, err := a.relay.Send(ctx, notification.Draft{
		Category: notification.CategoryApprovalRequired,
		Priority: &critical,
		Title:    "Deploy to production?",
	})
	require.NoError(t, err)

	assert.True(t, b.prefs.ShouldDeliver(p.Category, p.Priority, "B"))
	shown, ok := b.presenter.Get(p.ID)
	require.True(t, ok)
	assert.True(t, shown.Critical)
	assert.Equal(t, "A", shown.SourceDeviceID)

	assert.Empty(t, a.presenter.Shown(), "no loop-back")
}

func TestRelay_NormalPriorityDroppedInQuietHours(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	nodes := registered(t, w, "A", "B")
	a, b := nodes[0], nodes[1]
	enableQuietHours(t, b)

	normal := notification.PriorityNormal
	p, err := a.relay.Send(ctx, notification.Draft{
		Category: notification.CategoryApprovalRequired,
		Priority: &normal,
		Title:    "Deploy to staging?",
	})
	require.NoError(t, err)

	assert.False(t, b.prefs.ShouldDeliver(p.Category, p.Priority, "B"))
	assert.Empty(t, b.presenter.Shown())

	disposition, err := b.relay.HandleIncoming(ctx, eventFor(p, "B"))
	require.NoError(t, err)
	assert.Equal(t, relay.DispositionDuplicate, disposition, "already seen and dropped")
}

func TestRelay_HandleIncomingDispositions(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	nodes := registered(t, w, "A", "B")
	a, b := nodes[0], nodes[1]

	t.Run("own notification", func(t *testing.T) {
		p, err := a.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "hi"})
		require.NoError(t, err)
		d, err := a.relay.HandleIncoming(ctx, eventFor(p, "A"))
		require.NoError(t, err)
		assert.Equal(t, relay.DispositionOwn, d)
	})

	t.Run("duplicate", func(t *testing.T) {
		p, err := a.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "once"})
		require.NoError(t, err)
		_, ok := b.presenter.Get(p.ID)
		require.True(t, ok)

		d, err := b.relay.HandleIncoming(ctx, eventFor(p, "B"))
		require.NoError(t, err)
		assert.Equal(t, relay.DispositionDuplicate, d)
	})

	t.Run("targeted elsewhere", func(t *testing.T) {
		p, err := a.relay.Send(ctx, notification.Draft{
			Category:        notification.CategoryMessage,
			Title:           "for Z",
			TargetDeviceIDs: []string{"Z"},
		})
		require.NoError(t, err)
		d, err := b.relay.HandleIncoming(ctx, eventFor(p, "B"))
		require.NoError(t, err)
		assert.Equal(t, relay.DispositionNotTargeted, d)
		_, ok := b.presenter.Get(p.ID)
		assert.False(t, ok)
	})

	t.Run("expired", func(t *testing.T) {
		p, err := a.relay.Send(ctx, notification.Draft{
			Category:        notification.CategoryMessage,
			Title:           "short lived",
			TTL:             time.Minute,
			TargetDeviceIDs: []string{"Z"},
		})
		require.NoError(t, err)

		saved := w.clock.now
		w.clock.now = saved.Add(2 * time.Minute)
		defer func() { w.clock.now = saved }()

		d, err := b.relay.HandleIncoming(ctx, eventFor(p, "B"))
		require.NoError(t, err)
		assert.Equal(t, relay.DispositionExpired, d)
	})

	t.Run("other record types", func(t *testing.T) {
		d, err := b.relay.HandleIncoming(ctx, store.ChangeEvent{RecordType: store.TypeDevicePresence})
		require.NoError(t, err)
		assert.Equal(t, relay.DispositionIgnored, d)
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := b.relay.HandleIncoming(ctx, store.ChangeEvent{
			RecordType: store.TypeCrossDeviceNotification,
			RecordID:   "notification-missing",
		})
		assert.ErrorIs(t, err, relay.ErrDeliveryFailed)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRelay_DeliveryTracking(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	nodes := registered(t, w, "A", "B")
	a, b := nodes[0], nodes[1]

	p, err := a.relay.RequestApproval(ctx, "Merge PR?", "PR #42 is green", []string{"merge", "close"})
	require.NoError(t, err)
	assert.True(t, p.RequiresAcknowledgment)
	require.NotNil(t, p.UserInfo)
	assert.Equal(t, notification.KindApproval, p.UserInfo.Kind)

	status, ok := a.relay.DeliveryStatus(p.ID, "B")
	require.True(t, ok)
	assert.Equal(t, notification.DeliverySent, status)

	status, ok = b.relay.DeliveryStatus(p.ID, "B")
	require.True(t, ok)
	assert.Equal(t, notification.DeliveryDelivered, status)

	require.NoError(t, b.relay.Acknowledge(ctx, p.ID, "merge"))

	deliveries, err := a.relay.Deliveries(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "B", deliveries[0].DeviceID)
	assert.Equal(t, notification.DeliveryRead, deliveries[0].Status)
	ack, err := w.store.Fetch(ctx, store.TypeNotificationAcknowledgment, notification.AcknowledgmentRecordID(p.ID, "B"))
	require.NoError(t, err)
	action, _ := ack.String(notification.FieldAction)
	assert.Equal(t, "merge", action)

	status, ok = b.relay.DeliveryStatus(p.ID, "B")
	require.True(t, ok)
	assert.Equal(t, notification.DeliveryRead, status)

	err = b.relay.UpdateDeliveryStatus(ctx, p.ID, "B", notification.DeliveryDelivered)
	assert.ErrorIs(t, err, notification.ErrInvalidTransition)
}

func TestRelay_NotRegistered(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	n := w.node(t, "A", nil)

	assert.False(t, n.relay.IsReady())

	_, err := n.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "x"})
	assert.ErrorIs(t, err, relay.ErrNotRegistered)

	assert.ErrorIs(t, n.relay.Acknowledge(ctx, "n1", ""), relay.ErrNotRegistered)
	assert.ErrorIs(t, n.relay.UnregisterDevice(ctx, false), relay.ErrNotRegistered)
}

func TestRelay_RegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	n := registered(t, w, "A")[0]
	assert.True(t, n.relay.IsReady())

	restarted := w.node(t, "A", nil)
	require.NoError(t, restarted.relay.Start(ctx), "duplicate subscription counts as success")
	assert.True(t, restarted.relay.IsReady())

	d, err := restarted.relay.RegisterDevice(ctx, "token-new")
	require.NoError(t, err)
	assert.Equal(t, "A", d.ID)
	assert.Equal(t, "token-new", d.PushToken)
}

func TestRelay_Unregister(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	nodes := registered(t, w, "A", "B")
	a, b := nodes[0], nodes[1]

	require.NoError(t, b.relay.UnregisterDevice(ctx, false))
	assert.False(t, b.relay.IsReady())

	_, err := a.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "anyone?"})
	require.NoError(t, err)
	assert.Empty(t, b.presenter.Shown())

	rec, err := w.store.Fetch(ctx, store.TypeDeviceRegistration, device.RecordID("B"))
	require.NoError(t, err)
	active, _ := rec.Bool("isActive")
	assert.False(t, active)
}

type failingStore struct {
	store.Store
	failType string
}

var errStoreDown = errors.New("store down")

func (f *failingStore) Save(ctx context.Context, r *store.Record) error {
	if r.Type == f.failType {
		return errStoreDown
	}
	return f.Store.Save(ctx, r)
}

func (f *failingStore) SaveSubscription(ctx context.Context, sub store.Subscription) error {
	if f.failType == "subscription" {
		return errStoreDown
	}
	return f.Store.SaveSubscription(ctx, sub)
}

func TestRelay_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("send", func(t *testing.T) {
		w := newWorld()
		n := w.node(t, "A", &failingStore{Store: w.store, failType: store.TypeCrossDeviceNotification})
		_, err := n.relay.RegisterDevice(ctx, "tok")
		require.NoError(t, err)

		_, err = n.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "x"})
		assert.ErrorIs(t, err, relay.ErrSendFailed)
		assert.ErrorIs(t, err, errStoreDown)
	})

	t.Run("subscription", func(t *testing.T) {
		w := newWorld()
		n := w.node(t, "A", &failingStore{Store: w.store, failType: "subscription"})
		_, err := n.relay.RegisterDevice(ctx, "tok")
		assert.ErrorIs(t, err, relay.ErrSubscriptionFailed)
		assert.False(t, n.relay.IsReady())
	})

	t.Run("delivery records are best effort", func(t *testing.T) {
		w := newWorld()
		registered(t, w, "B")
		n := w.node(t, "A", &failingStore{Store: w.store, failType: store.TypeNotificationDelivery})
		_, err := n.relay.RegisterDevice(ctx, "tok")
		require.NoError(t, err)

		_, err = n.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "x"})
		assert.NoError(t, err)
	})
}

func TestRelay_Cleanup(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	a := registered(t, w, "A", "B")[0]

	_, err := a.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "short", TTL: time.Minute})
	require.NoError(t, err)
	long, err := a.relay.Send(ctx, notification.Draft{Category: notification.CategoryMessage, Title: "long", TTL: 48 * time.Hour})
	require.NoError(t, err)

	w.clock.now = w.clock.now.Add(time.Hour)
	assert.Equal(t, 1, a.relay.CleanupExpired(ctx))

	_, err = w.store.Fetch(ctx, store.TypeCrossDeviceNotification, notification.PayloadRecordID(long.ID))
	assert.NoError(t, err)

	assert.Equal(t, 0, a.relay.CleanupOldDeliveryRecords(ctx, 7))
	w.clock.now = w.clock.now.AddDate(0, 0, 8)
	assert.Equal(t, 2, a.relay.CleanupOldDeliveryRecords(ctx, 7))
}

func TestRelay_Wrappers(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	nodes := registered(t, w, "A", "B")
	a, b := nodes[0], nodes[1]

	size := int64(2048)
	due := w.clock.now.Add(time.Hour)
	tests := []struct {
		name     string
		send     func() (*notification.Payload, error)
		category notification.Category
		kind     notification.UserInfoKind
	}{
		{"task", func() (*notification.Payload, error) {
			return a.relay.NotifyTaskCompletion(ctx, "t1", "build", true, 90*time.Second)
		}, notification.CategoryTaskCompleted, notification.KindTask},
		{"password", func() (*notification.Payload, error) {
			return a.relay.RequestPassword(ctx, "Unlock keychain", "keychain")
		}, notification.CategoryPasswordRequired, notification.KindCredential},
		{"error", func() (*notification.Payload, error) {
			return a.relay.NotifyError(ctx, "Sync failed", "disk full", "ENOSPC", false)
		}, notification.CategoryError, notification.KindError},
		{"reminder", func() (*notification.Payload, error) {
			return a.relay.SendReminder(ctx, "Standup", "in 1h", &due)
		}, notification.CategoryReminder, notification.KindReminder},
		{"file", func() (*notification.Payload, error) {
			return a.relay.NotifyFileReady(ctx, "report.pdf", "file:///tmp/report.pdf", &size)
		}, notification.CategoryFileReady, notification.KindFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.send()
			require.NoError(t, err)
			assert.Equal(t, tt.category, p.Category)
			assert.Equal(t, tt.category.DefaultPriority(), p.Priority)
			require.NotNil(t, p.UserInfo)
			assert.Equal(t, tt.kind, p.UserInfo.Kind)

			shown, ok := b.presenter.Get(p.ID)
			require.True(t, ok)
			assert.Equal(t, tt.kind, shown.UserInfo.Kind)
		})
	}
}
