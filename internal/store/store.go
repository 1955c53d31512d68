package store

import (
	"context"
	"errors"
	"slices"
)

// Store errors.
var (
	ErrNotFound              = errors.New("record not found")
	ErrDuplicateSubscription = errors.New("subscription already exists")
	ErrUnavailable           = errors.New("record store unavailable")
)

// Record types shared by every device.
const (
	TypeDeviceRegistration         = "DeviceRegistration"
	TypeCrossDeviceNotification    = "CrossDeviceNotification"
	TypeNotificationDelivery       = "NotificationDelivery"
	TypeNotificationAcknowledgment = "NotificationAcknowledgment"
	TypeNotificationClearance      = "NotificationClearance"
	TypeRemoteNotification         = "RemoteNotification"
	TypeDevicePresence             = "DevicePresence"
)

// Op is a predicate comparison operator.
type Op string

// Supported operators.
const (
	OpEq       Op = "eq"
	OpLt       Op = "lt"
	OpGt       Op = "gt"
	OpContains Op = "contains"
)

// Predicate filters records by a single field.
type Predicate struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value Value  `json:"value"`
}

// Eq matches records whose field equals v.
func Eq(field string, v Value) Predicate { return Predicate{Field: field, Op: OpEq, Value: v} }

// Lt matches records whose field is less than v.
func Lt(field string, v Value) Predicate { return Predicate{Field: field, Op: OpLt, Value: v} }

// Gt matches records whose field is greater than v.
func Gt(field string, v Value) Predicate { return Predicate{Field: field, Op: OpGt, Value: v} }

// Contains matches records whose string list field contains s.
func Contains(field, s string) Predicate {
	return Predicate{Field: field, Op: OpContains, Value: String(s)}
}

// Matches evaluates the predicate against a record. Missing fields never match.
func (p Predicate) Matches(r *Record) bool {
	v, ok := r.Fields[p.Field]
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return v.kind == p.Value.kind && v.Compare(p.Value) == 0
	case OpLt:
		return v.kind == p.Value.kind && v.Compare(p.Value) < 0
	case OpGt:
		return v.kind == p.Value.kind && v.Compare(p.Value) > 0
	case OpContains:
		return v.kind == KindStrings && p.Value.kind == KindString && slices.Contains(v.ss, p.Value.s)
	}
	return false
}

func matchesAll(r *Record, preds []Predicate) bool {
	for _, p := range preds {
		if !p.Matches(r) {
			return false
		}
	}
	return true
}

// Query selects records of one type.
type Query struct {
	Type       string
	Predicates []Predicate

	// SortField orders results; it must name a time or string field.
	// Records without the field sort last.
	SortField  string
	Descending bool

	// Limit caps the result size. Zero means no limit.
	Limit int
}

// Subscription asks the store to push a ChangeEvent whenever a matching
// record is saved.
type Subscription struct {
	ID         string      `json:"id"`
	RecordType string      `json:"recordType"`
	DeviceID   string      `json:"deviceId"`
	Predicates []Predicate `json:"predicates,omitempty"`
}

// Matches reports whether a saved record should fire this subscription.
func (s Subscription) Matches(r *Record) bool {
	return s.RecordType == r.Type && matchesAll(r, s.Predicates)
}

// ChangeReason describes why a ChangeEvent fired.
type ChangeReason string

// Change reasons.
const (
	ReasonCreated ChangeReason = "created"
	ReasonUpdated ChangeReason = "updated"
)

// ChangeEvent is the opaque wake-up signal delivered through the push
// channel. It only points at a record; content is fetched separately.
type ChangeEvent struct {
	SubscriptionID string       `json:"subscriptionId"`
	DeviceID       string       `json:"deviceId"`
	RecordType     string       `json:"recordType"`
	RecordID       string       `json:"recordId"`
	Reason         ChangeReason `json:"reason"`
}

// Publisher hands change events to a push delivery channel.
type Publisher interface {
	Publish(ctx context.Context, evt ChangeEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt ChangeEvent) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, evt ChangeEvent) error { return f(ctx, evt) }

// Store is the durable, multi-device replicated record store.
type Store interface {
	// Save creates or replaces a record and fires matching subscriptions.
	Save(ctx context.Context, r *Record) error

	// Fetch retrieves a record by type and id.
	Fetch(ctx context.Context, recordType, id string) (*Record, error)

	// Delete removes a record. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, recordType, id string) error

	// Query returns the records matching q.
	Query(ctx context.Context, q Query) ([]*Record, error)

	// SaveSubscription registers a push subscription.
	// Returns ErrDuplicateSubscription if the id is already registered.
	SaveSubscription(ctx context.Context, sub Subscription) error

	// DeleteSubscription removes a push subscription.
	DeleteSubscription(ctx context.Context, id string) error
}
