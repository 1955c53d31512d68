package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryStoreConfig holds configuration for MemoryStore.
type MemoryStoreConfig struct {
	// Publisher receives change events for matching subscriptions. Optional.
	Publisher Publisher

	Logger zerolog.Logger

	// Now overrides the clock used for record timestamps.
	Now func() time.Time
}

// MemoryStore is an in-memory implementation of Store.
// It is used by tests and single-node setups; production uses PostgresStore.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]map[string]*Record // type -> id -> record
	subscriptions map[string]Subscription

	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records:       make(map[string]map[string]*Record),
		subscriptions: make(map[string]Subscription),
		publisher:     cfg.Publisher,
		logger:        cfg.Logger,
		now:           now,
	}
}

// Save creates or replaces a record.
func (s *MemoryStore) Save(ctx context.Context, r *Record) error {
	s.mu.Lock()
	byID, ok := s.records[r.Type]
	if !ok {
		byID = make(map[string]*Record)
		s.records[r.Type] = byID
	}

	now := s.now()
	stored := r.Clone()
	reason := ReasonCreated
	if existing, exists := byID[r.ID]; exists {
		stored.CreatedAt = existing.CreatedAt
		reason = ReasonUpdated
	} else {
		stored.CreatedAt = now
	}
	stored.ModifiedAt = now
	byID[r.ID] = stored

	r.CreatedAt = stored.CreatedAt
	r.ModifiedAt = stored.ModifiedAt

	var matched []Subscription
	for _, sub := range s.subscriptions {
		if sub.Matches(stored) {
			matched = append(matched, sub)
		}
	}
	s.mu.Unlock()

	publishMatches(ctx, s.publisher, s.logger, matched, stored, reason)
	return nil
}

// Fetch retrieves a record by type and id.
func (s *MemoryStore) Fetch(_ context.Context, recordType, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recordType][id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, recordType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.records[recordType]
	if _, ok := byID[id]; !ok {
		return ErrNotFound
	}
	delete(byID, id)
	return nil
}

// Query returns the records matching q.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]*Record, error) {
	s.mu.RLock()
	var out []*Record
	for _, r := range s.records[q.Type] {
		if matchesAll(r, q.Predicates) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(out, q.SortField, q.Descending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// SaveSubscription registers a push subscription.
func (s *MemoryStore) SaveSubscription(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; ok {
		return ErrDuplicateSubscription
	}
	s.subscriptions[sub.ID] = sub
	return nil
}

// DeleteSubscription removes a push subscription.
func (s *MemoryStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return ErrNotFound
	}
	delete(s.subscriptions, id)
	return nil
}

// sortRecords orders records by field, falling back to record id so the
// order is stable across calls.
func sortRecords(records []*Record, field string, desc bool) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if field != "" {
			av, aok := a.Fields[field]
			bv, bok := b.Fields[field]
			switch {
			case aok && !bok:
				return true
			case !aok && bok:
				return false
			case aok && bok:
				if c := av.Compare(bv); c != 0 {
					if desc {
						return c > 0
					}
					return c < 0
				}
			}
		}
		return a.ID < b.ID
	})
}

// publishMatches sends one change event per matched subscription.
// Push is best effort: the record is already durable, so failures are logged.
func publishMatches(ctx context.Context, p Publisher, logger zerolog.Logger, subs []Subscription, r *Record, reason ChangeReason) {
	if p == nil {
		return
	}
	for _, sub := range subs {
		evt := ChangeEvent{
			SubscriptionID: sub.ID,
			DeviceID:       sub.DeviceID,
			RecordType:     r.Type,
			RecordID:       r.ID,
			Reason:         reason,
		}
		if err := p.Publish(ctx, evt); err != nil {
			logger.Warn().
				Err(err).
				Str("subscription_id", sub.ID).
				Str("record_id", r.ID).
				Msg("failed to publish change event")
		}
	}
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
