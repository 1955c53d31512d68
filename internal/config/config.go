// Package config loads process configuration from defaults, an optional
// crossnotify.yaml and CROSSNOTIFY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/crossnotify/crossnotify/internal/database"
	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/routing"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CROSSNOTIFY"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// DeviceConfig describes the device this process runs on.
type DeviceConfig struct {
	ID         string `mapstructure:"id"`
	Name       string `mapstructure:"name"`
	Type       string `mapstructure:"type"`
	Platform   string `mapstructure:"platform"`
	Model      string `mapstructure:"model"`
	OSVersion  string `mapstructure:"os_version"`
	AppVersion string `mapstructure:"app_version"`
	PushToken  string `mapstructure:"push_token"`
}

// Identity converts the section into a device identity.
func (d DeviceConfig) Identity() device.Identity {
	return device.Identity{
		DeviceID:   d.ID,
		Name:       d.Name,
		DeviceType: device.Type(d.Type),
		Platform:   device.Platform(d.Platform),
		Model:      d.Model,
		OSVersion:  d.OSVersion,
		AppVersion: d.AppVersion,
	}
}

type HTTPConfig struct {
	Port          string        `mapstructure:"port"`
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	Environment   string        `mapstructure:"environment"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// Database maps the section onto the connection settings.
func (d DatabaseConfig) Database() database.Config {
	return database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Name,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnectTimeout:  d.ConnectTimeout,
	}
}

type StoreConfig struct {
	Driver         string        `mapstructure:"driver"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Channel  string `mapstructure:"channel"`
}

type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

type WebPushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subject         string `mapstructure:"subject"`
	TTL             int    `mapstructure:"ttl"`
}

// Enabled reports whether web push delivery is configured.
func (w WebPushConfig) Enabled() bool {
	return w.VAPIDPublicKey != "" && w.VAPIDPrivateKey != ""
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type RelayConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	DedupTTL   time.Duration `mapstructure:"dedup_ttl"`
}

type RouterConfig struct {
	Mode            string        `mapstructure:"mode"`
	PresenceTimeout time.Duration `mapstructure:"presence_timeout"`
}

type IntelligenceConfig struct {
	AutoActions         bool    `mapstructure:"auto_actions"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	SyncEnabled         bool    `mapstructure:"sync_enabled"`
	HistoryCapacity     int     `mapstructure:"history_capacity"`
}

type WorkerConfig struct {
	Port                  string        `mapstructure:"port"`
	PresenceInterval      time.Duration `mapstructure:"presence_interval"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	ClearanceInterval     time.Duration `mapstructure:"clearance_interval"`
	CleanupInterval       time.Duration `mapstructure:"cleanup_interval"`
	DeliveryRetentionDays int           `mapstructure:"delivery_retention_days"`
	StoreQueriesPerSecond float64       `mapstructure:"store_queries_per_second"`
}

type PreferencesConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config is the full process configuration.
type Config struct {
	Device       DeviceConfig       `mapstructure:"device"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Store        StoreConfig        `mapstructure:"store"`
	Redis        RedisConfig        `mapstructure:"redis"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	WebPush      WebPushConfig      `mapstructure:"webpush"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Relay        RelayConfig        `mapstructure:"relay"`
	Router       RouterConfig       `mapstructure:"router"`
	Intelligence IntelligenceConfig `mapstructure:"intelligence"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Preferences  PreferencesConfig  `mapstructure:"preferences"`
}

// envOnly lists keys without a default; registering them lets Unmarshal see
// their environment overrides.
var envOnly = []string{
	"device.id", "device.name", "device.model", "device.os_version",
	"device.app_version", "device.push_token",
	"http.jwt_signing_key",
	"database.password",
	"redis.addr", "redis.password", "redis.db",
	"pubsub.project_id", "pubsub.subscription",
	"webpush.vapid_public_key", "webpush.vapid_private_key", "webpush.subject",
	"telemetry.enabled",
	"intelligence.auto_actions",
}

func setDefaults(v *viper.Viper) {
	for _, key := range envOnly {
		_ = v.BindEnv(key) //nolint:errcheck // BindEnv only fails without a key
	}

	v.SetDefault("device.type", string(device.TypeDesktop))
	v.SetDefault("device.platform", string(device.PlatformWebPush))

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.token_ttl", 24*time.Hour)
	v.SetDefault("http.environment", "development")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "crossnotify")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.connect_timeout", 30*time.Second)

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.breaker_timeout", 30*time.Second)

	v.SetDefault("redis.key", "crossnotify:preferences")
	v.SetDefault("redis.channel", "crossnotify:preferences:changed")

	v.SetDefault("pubsub.topic", "crossnotify-changes")

	v.SetDefault("webpush.ttl", 60)

	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("relay.default_ttl", 24*time.Hour)
	v.SetDefault("relay.dedup_ttl", time.Hour)

	v.SetDefault("router.mode", string(routing.ModeActiveDevice))
	v.SetDefault("router.presence_timeout", routing.DefaultPresenceTimeout)

	v.SetDefault("intelligence.confidence_threshold", 0.8)
	v.SetDefault("intelligence.sync_enabled", true)
	v.SetDefault("intelligence.history_capacity", 200)

	v.SetDefault("worker.port", "8081")
	v.SetDefault("worker.presence_interval", time.Minute)
	v.SetDefault("worker.poll_interval", 30*time.Second)
	v.SetDefault("worker.clearance_interval", time.Minute)
	v.SetDefault("worker.cleanup_interval", time.Hour)
	v.SetDefault("worker.delivery_retention_days", 7)
	v.SetDefault("worker.store_queries_per_second", 5.0)

	v.SetDefault("preferences.sqlite_path", "crossnotify.db")
}

// Load reads configuration with the default search paths. Variables in a
// local .env file are exported first; the real environment wins.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	return LoadFrom(viper.New(), ".", "./config")
}

// LoadDotEnv exports the variables of a dotenv file that are not already
// set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// LoadFrom reads configuration into v, looking for crossnotify.yaml in the
// given directories. A missing file is not an error.
func LoadFrom(v *viper.Viper, paths ...string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("crossnotify")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return errors.New("device.name must be set")
	}
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := routing.ParseMode(c.Router.Mode); err != nil {
		return fmt.Errorf("router.mode: %w", err)
	}
	if c.HTTP.Environment == "production" && c.HTTP.JWTSigningKey == "" {
		return errors.New("http.jwt_signing_key must be set in production")
	}
	return nil
}
