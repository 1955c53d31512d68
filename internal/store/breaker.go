package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds configuration for BreakerStore.
type BreakerConfig struct {
	// Name identifies the circuit breaker in logs.
	Name string

	// MaxRequests is the number of probes allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Timeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	Timeout time.Duration

	// MinRequests and FailureRatio decide when to trip.
	// Defaults: 5 requests, 0.5
	MinRequests  uint32
	FailureRatio float64

	Logger zerolog.Logger
}

// BreakerStore wraps a Store with a circuit breaker so that callers fail fast
// with ErrUnavailable while the store is down. It never retries.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore decorates next with a circuit breaker.
func NewBreakerStore(next Store, cfg BreakerConfig) *BreakerStore {
	if cfg.Name == "" {
		cfg.Name = "record-store"
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.5
	}

	logger := cfg.Logger
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && ratio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Expected outcomes say nothing about store health.
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrDuplicateSubscription) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("record store circuit state changed")
		},
	}

	return &BreakerStore{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the current circuit state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *BreakerStore) run(fn func() (any, error)) (any, error) {
	v, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return v, err
}

// Save creates or replaces a record.
func (s *BreakerStore) Save(ctx context.Context, r *Record) error {
	_, err := s.run(func() (any, error) { return nil, s.next.Save(ctx, r) })
	return err
}

// Fetch retrieves a record by type and id.
func (s *BreakerStore) Fetch(ctx context.Context, recordType, id string) (*Record, error) {
	v, err := s.run(func() (any, error) { return s.next.Fetch(ctx, recordType, id) })
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// Delete removes a record.
func (s *BreakerStore) Delete(ctx context.Context, recordType, id string) error {
	_, err := s.run(func() (any, error) { return nil, s.next.Delete(ctx, recordType, id) })
	return err
}

// Query returns the records matching q.
func (s *BreakerStore) Query(ctx context.Context, q Query) ([]*Record, error) {
	v, err := s.run(func() (any, error) { return s.next.Query(ctx, q) })
	if err != nil {
		return nil, err
	}
	return v.([]*Record), nil
}

// SaveSubscription registers a push subscription.
func (s *BreakerStore) SaveSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.run(func() (any, error) { return nil, s.next.SaveSubscription(ctx, sub) })
	return err
}

// DeleteSubscription removes a push subscription.
func (s *BreakerStore) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.run(func() (any, error) { return nil, s.next.DeleteSubscription(ctx, id) })
	return err
}

// Ensure BreakerStore implements Store interface.
var _ Store = (*BreakerStore)(nil)
