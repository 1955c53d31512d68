package app_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossnotify/crossnotify/internal/app"
	"github.com/crossnotify/crossnotify/internal/config"
	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/intelligence"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/preferences"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/routing"
	"github.com/crossnotify/crossnotify/internal/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Device: config.DeviceConfig{
			Name:     "Work Laptop",
			Type:     string(device.TypeLaptop),
			Platform: string(device.PlatformWebPush),
		},
		Store:       config.StoreConfig{Driver: config.StoreMemory},
		Router:      config.RouterConfig{Mode: string(routing.ModeActiveDevice)},
		Preferences: config.PreferencesConfig{SQLitePath: filepath.Join(t.TempDir(), "local.db")},
		Intelligence: config.IntelligenceConfig{
			ConfidenceThreshold: 0.8,
			SyncEnabled:         true,
		},
	}
}

func TestNew_InMemory(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(ctx))
	assert.False(t, a.Relay.IsReady())
	assert.Empty(t, a.Probes)

	d, err := a.Relay.RegisterDevice(ctx, "https://push.example/sub/abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "Work Laptop", d.Name)
	assert.True(t, a.Relay.IsReady())

	token, err := a.Auth.IssueToken(d)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
}

func TestNew_InvalidRouterMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Router.Mode = "nearest"

	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	require.NoError(t, a.Close())
}

func TestStart_ForwardsAutoActions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Intelligence.AutoActions = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	srv := httptest.NewServer(a.Hub)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.Hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	a.Intelligence.Observe(ctx, intelligence.ObservedNotification{
		ID:            "obs-1",
		AppIdentifier: "com.example.news",
		Title:         "Morning briefing",
		Body:          "Top stories",
		ReceivedAt:    time.Now(),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg presentation.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != presentation.MessageAction {
			continue
		}
		action, ok := msg.Action.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "obs-1", action["notificationId"])
		return
	}
}

func TestStart_LoadsSavedPreferences(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := app.New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	_, err = first.Preferences.Update(ctx, func(p *preferences.PreferenceSet) { p.GlobalEnabled = false })
	require.NoError(t, err)
	require.NoError(t, first.Close())

	restarted, err := app.New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer restarted.Close()
	require.NoError(t, restarted.Start(ctx))

	assert.False(t, restarted.Preferences.Snapshot().GlobalEnabled)
	assert.False(t, restarted.Preferences.ShouldDeliver(notification.CategoryMessage, notification.PriorityNormal, ""))
}

func dialStream(t *testing.T, a *app.App) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(a.Hub)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return a.Hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestStart_RelayedNotificationReachesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))
	_, err = a.Relay.RegisterDevice(ctx, "https://push.example/sub/abcd1234")
	require.NoError(t, err)
	conn := dialStream(t, a)

	phone := device.NewRegistry(device.RegistryConfig{
		Identity:   device.Identity{Name: "Phone", DeviceType: device.TypePhone, Platform: device.PlatformAPNS},
		Repository: device.NewStoreRepository(a.Store),
		Logger:     zerolog.Nop(),
	})
	sender, _, err := phone.Register(ctx, "apns-token")
	require.NoError(t, err)
	phoneRelay := relay.NewService(relay.ServiceConfig{Store: a.Store, Registry: phone, Logger: zerolog.Nop()})

	sent, err := phoneRelay.Send(ctx, notification.Draft{
		Category: notification.CategoryMessage,
		Title:    "Payment failed",
		Body:     "Card ending 4242 was declined",
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg presentation.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != presentation.MessagePresent {
			continue
		}
		require.NotNil(t, msg.Presentation)
		assert.Equal(t, sent.ID, msg.Presentation.NotificationID)
		assert.Equal(t, sender.ID, msg.Presentation.SourceDeviceID)
		break
	}

	require.Eventually(t, func() bool {
		_, ok := a.Intelligence.Get(sent.ID)
		return ok
	}, time.Second, 5*time.Millisecond)
	observed, _ := a.Intelligence.Get(sent.ID)
	assert.Equal(t, intelligence.UrgencyHigh, observed.Urgency)
	assert.Equal(t, "crossnotify.message", observed.Notification.AppIdentifier)
}

func TestMaintenance(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	tests := []struct {
		name        string
		cleanupOnly bool
		want        []string
	}{
		{
			name: "device process",
			want: []string{worker.TaskPresence, worker.TaskPoll, worker.TaskClearances, worker.TaskCleanup},
		},
		{
			name:        "cleanup worker",
			cleanupOnly: true,
			want:        []string{worker.TaskCleanup},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Maintenance(config.WorkerConfig{}, tt.cleanupOnly).Tasks())
		})
	}
}

func TestReceive_WithoutSubscription(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.Receive(context.Background(), config.PubSubConfig{ProjectID: "crossnotify-dev"}))
}
