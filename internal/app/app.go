// Package app assembles the services of one crossnotify device process.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/api/handler"
	"github.com/crossnotify/crossnotify/internal/auth"
	"github.com/crossnotify/crossnotify/internal/config"
	"github.com/crossnotify/crossnotify/internal/database"
	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/intelligence"
	"github.com/crossnotify/crossnotify/internal/preferences"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/push"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/routing"
	"github.com/crossnotify/crossnotify/internal/store"
	"github.com/crossnotify/crossnotify/internal/telemetry"
	"github.com/crossnotify/crossnotify/internal/worker"
)

const devSigningKey = "local-dev-signing-key-change-in-production"

// App holds the wired services of a device.
type App struct {
	Bus          *push.Bus
	Store        store.Store
	Registry     *device.Registry
	Preferences  *preferences.Engine
	Relay        *relay.Service
	Router       *routing.Service
	Intelligence *intelligence.Service
	Hub          *presentation.Hub
	Auth         *auth.Service
	Probes       []handler.Probe

	logger  zerolog.Logger
	closers []func() error
}

// New connects the configured backends and constructs every service.
// Close must be called even when New fails part way.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{logger: logger}

	bus := push.NewBus(logger)
	a.Bus = bus

	// The registry backs web push token lookups but needs the store, which
	// needs the publishers. The closures resolve it lazily.
	var registry *device.Registry

	publishers := push.Fanout{bus}
	if cfg.PubSub.ProjectID != "" {
		pub, err := push.NewPubSubPublisher(ctx, push.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			Topic:     cfg.PubSub.Topic,
			Logger:    logger,
		})
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, pub.Close)
		publishers = append(publishers, pub)
		logger.Info().Str("topic", cfg.PubSub.Topic).Msg("pubsub publisher initialized")
	}
	if cfg.WebPush.Enabled() {
		publishers = append(publishers, push.NewWebPushPublisher(push.WebPushConfig{
			VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
			Subject:         cfg.WebPush.Subject,
			TTL:             cfg.WebPush.TTL,
			Lookup: func(ctx context.Context, deviceID string) (string, bool, error) {
				return registry.WebPushToken(ctx, deviceID)
			},
			OnExpired: func(ctx context.Context, deviceID string) {
				if err := registry.DisablePush(ctx, deviceID); err != nil {
					logger.Warn().Err(err).Str("device_id", deviceID).Msg("failed to disable expired push token")
				}
			},
			Logger: logger,
		}))
		logger.Info().Msg("web push publisher initialized")
	}

	s, err := a.openStore(ctx, cfg, publishers)
	if err != nil {
		return a, err
	}
	a.Store = s

	local, err := preferences.OpenSQLiteLocalStore(ctx, cfg.Preferences.SQLitePath)
	if err != nil {
		return a, fmt.Errorf("opening local preferences: %w", err)
	}
	a.closers = append(a.closers, local.Close)

	var shared preferences.SharedStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.Probes = append(a.Probes, handler.Probe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		shared = preferences.NewRedisSharedStore(preferences.RedisConfig{
			Client:  client,
			Key:     cfg.Redis.Key,
			Channel: cfg.Redis.Channel,
			Logger:  logger,
		})
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("shared preferences on redis")
	}

	a.Preferences = preferences.NewEngine(preferences.EngineConfig{
		Local:  local,
		Shared: shared,
		Logger: logger,
	})

	registry = device.NewRegistry(device.RegistryConfig{
		Identity:   cfg.Device.Identity(),
		Repository: device.NewStoreRepository(s),
		IDStore:    local,
		PushToken:  cfg.Device.PushToken,
		Logger:     logger,
	})
	a.Registry = registry

	metrics, err := telemetry.NewRelayMetrics()
	if err != nil {
		return a, fmt.Errorf("creating relay metrics: %w", err)
	}

	a.Hub = presentation.NewHub(presentation.HubConfig{
		OnInteraction: func(ctx context.Context, in presentation.Interaction) error {
			return a.Relay.Acknowledge(ctx, in.NotificationID, in.ActionID)
		},
		Logger: logger,
	})
	presenter := intelligence.NewObservingPresenter(
		presentation.Multi{presentation.NewLogPresenter(logger), a.Hub},
		func(ctx context.Context, n intelligence.ObservedNotification) { a.Intelligence.Observe(ctx, n) },
	)

	a.Relay = relay.NewService(relay.ServiceConfig{
		Store:      s,
		Registry:   registry,
		Gate:       a.Preferences,
		Presenter:  presenter,
		Listener:   bus,
		Metrics:    metrics,
		DefaultTTL: cfg.Relay.DefaultTTL,
		DedupTTL:   cfg.Relay.DedupTTL,
		Logger:     logger,
	})

	mode, err := routing.ParseMode(cfg.Router.Mode)
	if err != nil {
		return a, err
	}
	a.Router = routing.NewService(routing.ServiceConfig{
		Store:           s,
		Identity:        a.Relay,
		Presenter:       presenter,
		Gate:            a.Preferences,
		Metrics:         metrics,
		Mode:            mode,
		PresenceTimeout: cfg.Router.PresenceTimeout,
		Logger:          logger,
	})

	a.Intelligence = intelligence.NewService(intelligence.ServiceConfig{
		Store:               s,
		Presenter:           presenter,
		Identity:            a.Relay,
		Metrics:             metrics,
		AutoActions:         cfg.Intelligence.AutoActions,
		ConfidenceThreshold: cfg.Intelligence.ConfidenceThreshold,
		SyncEnabled:         cfg.Intelligence.SyncEnabled,
		HistoryCapacity:     cfg.Intelligence.HistoryCapacity,
		Logger:              logger,
	})

	signingKey := cfg.HTTP.JWTSigningKey
	if signingKey == "" {
		signingKey = devSigningKey
		logger.Warn().Msg("using default JWT signing key - not secure for production")
	}
	a.Auth = auth.NewService(auth.ServiceConfig{
		JWTService: auth.NewJWTService(auth.JWTConfig{
			SigningKey: signingKey,
			Issuer:     "crossnotify",
			Audience:   "crossnotify-local",
			Expiry:     cfg.HTTP.TokenTTL,
		}),
		Devices: registry,
	})

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, pub store.Publisher) (store.Store, error) {
	if cfg.Store.Driver != config.StorePostgres {
		a.logger.Info().Msg("using in-memory record store")
		return store.NewMemoryStore(store.MemoryStoreConfig{Publisher: pub, Logger: a.logger}), nil
	}

	dbConfig := cfg.Database.Database()
	pool, err := database.Connect(ctx, dbConfig, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.logger.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	if err := database.Migrate(ctx, pool, a.logger); err != nil {
		return nil, err
	}

	a.Probes = append(a.Probes, handler.Probe{Name: "database", Check: pool.Ping})
	pg := store.NewPostgresStore(store.PostgresStoreConfig{Pool: pool, Publisher: pub, Logger: a.logger})
	return store.NewBreakerStore(pg, store.BreakerConfig{
		Name:    "record-store",
		Timeout: cfg.Store.BreakerTimeout,
		Logger:  a.logger,
	}), nil
}

// Start loads the saved preferences and the device, arms its push
// subscription and runs the preference watcher and the auto-action
// forwarder until ctx is done.
func (a *App) Start(ctx context.Context) error {
	if err := a.Preferences.Load(ctx); err != nil {
		return err
	}
	if err := a.Relay.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := a.Preferences.Watch(ctx); err != nil {
			a.logger.Error().Err(err).Msg("preference watcher stopped")
		}
	}()
	go a.forwardActions(ctx)
	return nil
}

// Maintenance builds the periodic job. The process serving the device runs
// every task; a cleanup-only job leaves out the tasks that act for the bound
// device and just purges shared records.
func (a *App) Maintenance(cfg config.WorkerConfig, cleanupOnly bool) *worker.MaintenanceJob {
	jobCfg := worker.MaintenanceJobConfig{
		Config: worker.MaintenanceConfig{
			PresenceInterval:      cfg.PresenceInterval,
			PollInterval:          cfg.PollInterval,
			ClearanceInterval:     cfg.ClearanceInterval,
			CleanupInterval:       cfg.CleanupInterval,
			DeliveryRetentionDays: cfg.DeliveryRetentionDays,
			StoreQueriesPerSecond: cfg.StoreQueriesPerSecond,
		},
		Logger: a.logger,
		Relay:  a.Relay,
	}
	if !cleanupOnly {
		jobCfg.Router = a.Router
		jobCfg.Clearances = a.Intelligence
	}
	return worker.NewMaintenanceJob(jobCfg)
}

// Receive feeds change events from the Pub/Sub subscription into the bus
// until ctx is done. It returns nil at once when no subscription is set.
func (a *App) Receive(ctx context.Context, cfg config.PubSubConfig) error {
	if cfg.ProjectID == "" || cfg.Subscription == "" {
		return nil
	}
	receiver, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        cfg.ProjectID,
		SubscriptionName: cfg.Subscription,
		Dispatcher:       a.Bus,
		Logger:           a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating pubsub handler: %w", err)
	}
	defer receiver.Close()
	return receiver.Start(ctx)
}

// forwardActions hands gated auto-actions to the local UI, which executes them.
func (a *App) forwardActions(ctx context.Context) {
	actions := a.Intelligence.Actions()
	for {
		select {
		case <-ctx.Done():
			return
		case act := <-actions:
			a.logger.Debug().
				Str("notification_id", act.NotificationID).
				Str("action", string(act.Action.Type)).
				Msg("forwarding auto-action")
			if err := a.Hub.Forward(ctx, act); err != nil {
				a.logger.Warn().Err(err).Str("notification_id", act.NotificationID).Msg("failed to forward auto-action")
			}
		}
	}
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
