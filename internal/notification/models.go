// Package notification defines the cross-device notification payload, its
// delivery tracking records, and their record-store schema.
package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// DefaultTTL is how long a payload lives when the sender does not say.
const DefaultTTL = 24 * time.Hour

// ErrInvalidDraft is returned when a draft cannot become a payload.
var ErrInvalidDraft = errors.New("invalid notification draft")

// Category is the closed set of notification categories.
type Category string

// Notification categories.
const (
	CategoryTaskCompleted    Category = "taskCompleted"
	CategoryApprovalRequired Category = "approvalRequired"
	CategoryPasswordRequired Category = "passwordRequired"
	CategoryError            Category = "error"
	CategoryReminder         Category = "reminder"
	CategoryFileReady        Category = "fileReady"
	CategoryMessage          Category = "message"
	CategorySystem           Category = "system"
)

type categoryDefaults struct {
	priority Priority
	sound    string
	haptic   Haptic
}

var defaults = map[Category]categoryDefaults{
	CategoryTaskCompleted:    {PriorityNormal, "complete", HapticSuccess},
	CategoryApprovalRequired: {PriorityHigh, "attention", HapticWarning},
	CategoryPasswordRequired: {PriorityHigh, "attention", HapticWarning},
	CategoryError:            {PriorityHigh, "error", HapticError},
	CategoryReminder:         {PriorityNormal, "default", HapticLight},
	CategoryFileReady:        {PriorityNormal, "default", HapticLight},
	CategoryMessage:          {PriorityNormal, "message", HapticMedium},
	CategorySystem:           {PriorityLow, "none", HapticNone},
}

// AllCategories returns every category in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryTaskCompleted,
		CategoryApprovalRequired,
		CategoryPasswordRequired,
		CategoryError,
		CategoryReminder,
		CategoryFileReady,
		CategoryMessage,
		CategorySystem,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := defaults[c]
	return ok
}

// DefaultPriority returns the priority used when a sender does not set one.
func (c Category) DefaultPriority() Priority {
	if d, ok := defaults[c]; ok {
		return d.priority
	}
	return PriorityNormal
}

// DefaultSound returns the category's sound name.
func (c Category) DefaultSound() string {
	if d, ok := defaults[c]; ok {
		return d.sound
	}
	return "default"
}

// DefaultHaptic returns the category's haptic pattern.
func (c Category) DefaultHaptic() Haptic {
	if d, ok := defaults[c]; ok {
		return d.haptic
	}
	return HapticNone
}

// Priority orders notifications: low < normal < high < critical.
type Priority int

// Priorities.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = []string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority parses the string form of a priority.
func ParsePriority(s string) (Priority, error) {
	if i := slices.Index(priorityNames, s); i >= 0 {
		return Priority(i), nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON encodes the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Haptic is a haptic feedback pattern.
type Haptic string

// Haptic patterns.
const (
	HapticNone    Haptic = "none"
	HapticLight   Haptic = "light"
	HapticMedium  Haptic = "medium"
	HapticHeavy   Haptic = "heavy"
	HapticSuccess Haptic = "success"
	HapticWarning Haptic = "warning"
	HapticError   Haptic = "error"
)

// Payload is an immutable notification relayed between devices.
// Optional fields are nil when the sender left them out.
type Payload struct {
	ID       string
	Category Category
	Priority Priority

	Title    string
	Body     string
	Subtitle *string

	Sound    *string
	Haptic   *Haptic
	Badge    *int
	ThreadID *string
	DeepLink *string
	UserInfo *UserInfo

	SourceDeviceID string

	// TargetDeviceIDs restricts delivery. Nil means broadcast.
	TargetDeviceIDs []string

	CreatedAt time.Time
	ExpiresAt time.Time

	RequiresAcknowledgment bool
	ActionIdentifier       *string
}

// IsExpired reports whether the payload is past its expiry at now.
func (p *Payload) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// IsBroadcast reports whether the payload targets every device.
func (p *Payload) IsBroadcast() bool {
	return p.TargetDeviceIDs == nil
}

// IsTargeted reports whether deviceID should receive the payload.
func (p *Payload) IsTargeted(deviceID string) bool {
	return p.IsBroadcast() || slices.Contains(p.TargetDeviceIDs, deviceID)
}

// Draft describes a payload to send. Priority nil means the category default.
type Draft struct {
	Category Category
	Priority *Priority

	Title    string
	Body     string
	Subtitle *string

	Sound    *string
	Haptic   *Haptic
	Badge    *int
	ThreadID *string
	DeepLink *string
	UserInfo *UserInfo

	TargetDeviceIDs []string

	// TTL overrides the default lifetime.
	TTL time.Duration

	RequiresAcknowledgment bool
	ActionIdentifier       *string
}

// NewPayload turns a draft into a payload originating from sourceDeviceID.
func NewPayload(id string, d Draft, sourceDeviceID string, now time.Time, defaultTTL time.Duration) (*Payload, error) {
	if !d.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidDraft, d.Category)
	}
	if d.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidDraft)
	}
	if d.UserInfo != nil {
		if err := d.UserInfo.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
		}
	}

	priority := d.Category.DefaultPriority()
	if d.Priority != nil {
		priority = *d.Priority
	}

	ttl := d.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Payload{
		ID:                     id,
		Category:               d.Category,
		Priority:               priority,
		Title:                  d.Title,
		Body:                   d.Body,
		Subtitle:               d.Subtitle,
		Sound:                  d.Sound,
		Haptic:                 d.Haptic,
		Badge:                  d.Badge,
		ThreadID:               d.ThreadID,
		DeepLink:               d.DeepLink,
		UserInfo:               d.UserInfo,
		SourceDeviceID:         sourceDeviceID,
		TargetDeviceIDs:        slices.Clone(d.TargetDeviceIDs),
		CreatedAt:              now.UTC(),
		ExpiresAt:              now.Add(ttl).UTC(),
		RequiresAcknowledgment: d.RequiresAcknowledgment,
		ActionIdentifier:       d.ActionIdentifier,
	}, nil
}

// Acknowledgment is written by a recipient of a payload that requires one.
type Acknowledgment struct {
	NotificationID string
	DeviceID       string
	AcknowledgedAt time.Time
	Action         string
}
