package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default Redis names.
const (
	DefaultRedisKey     = "crossnotify:preferences"
	DefaultRedisChannel = "crossnotify:preferences:changed"
)

// RedisConfig holds configuration for the Redis shared store.
type RedisConfig struct {
	Client  *redis.Client
	Key     string
	Channel string
	Logger  zerolog.Logger
}

// RedisSharedStore shares the snapshot as a JSON string and announces
// writes on a pub/sub channel.
type RedisSharedStore struct {
	client  *redis.Client
	key     string
	channel string
	logger  zerolog.Logger
}

// NewRedisSharedStore creates a new Redis-backed shared store.
func NewRedisSharedStore(cfg RedisConfig) *RedisSharedStore {
	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSharedStore{
		client:  cfg.Client,
		key:     key,
		channel: channel,
		logger:  cfg.Logger.With().Str("component", "redis_preferences").Logger(),
	}
}

// Get returns the shared snapshot, or nil.
func (s *RedisSharedStore) Get(ctx context.Context) (*PreferenceSet, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	var p PreferenceSet
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode shared preferences: %w", err)
	}
	return &p, nil
}

// Put stores the snapshot and publishes its timestamp.
func (s *RedisSharedStore) Put(ctx context.Context, p *PreferenceSet) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode shared preferences: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key, raw, 0)
		pipe.Publish(ctx, s.channel, p.LastModified.Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.key, err)
	}
	return nil
}

// Changes subscribes to the change channel.
func (s *RedisSharedStore) Changes(ctx context.Context) (<-chan struct{}, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s.logger.Debug().Str("last_modified", msg.Payload).Msg("shared preferences changed")
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// MemorySharedStore is an in-process SharedStore for tests.
type MemorySharedStore struct {
	mu       sync.Mutex
	prefs    *PreferenceSet
	watchers []chan struct{}
}

// NewMemorySharedStore creates an empty shared store.
func NewMemorySharedStore() *MemorySharedStore {
	return &MemorySharedStore{}
}

// Get returns the shared snapshot, or nil.
func (s *MemorySharedStore) Get(context.Context) (*PreferenceSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		return nil, nil
	}
	return s.prefs.Clone(), nil
}

// Put stores the snapshot and notifies watchers.
func (s *MemorySharedStore) Put(_ context.Context, p *PreferenceSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p.Clone()
	for _, w := range s.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return nil
}

// Changes returns a channel signalled on every Put.
func (s *MemorySharedStore) Changes(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	out := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var (
	_ SharedStore = (*RedisSharedStore)(nil)
	_ SharedStore = (*MemorySharedStore)(nil)
)
