package intelligence

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ObservedNotification is any notification presented on this device,
// whether relayed or from a third-party app.
type ObservedNotification struct {
	ID            string    `json:"id"`
	AppIdentifier string    `json:"appIdentifier"`
	Title         string    `json:"title"`
	Subtitle      string    `json:"subtitle,omitempty"`
	Body          string    `json:"body"`
	ThreadID      string    `json:"threadId,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// Urgency is ordered: UrgencyLow < UrgencyMedium < UrgencyHigh < UrgencyCritical.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

var urgencyNames = []string{"low", "medium", "high", "critical"}

func (u Urgency) String() string {
	if u < UrgencyLow || u > UrgencyCritical {
		return fmt.Sprintf("urgency(%d)", int(u))
	}
	return urgencyNames[u]
}

// ParseUrgency parses an urgency name.
func ParseUrgency(s string) (Urgency, error) {
	i := slices.Index(urgencyNames, s)
	if i < 0 {
		return 0, fmt.Errorf("unknown urgency %q", s)
	}
	return Urgency(i), nil
}

// MarshalJSON encodes the urgency by name.
func (u Urgency) MarshalJSON() ([]byte, error) { return json.Marshal(u.String()) }

// UnmarshalJSON decodes an urgency name.
func (u *Urgency) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseUrgency(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Category is the kind of content a notification carries.
type Category string

const (
	CategoryMessaging Category = "messaging"
	CategoryCalendar  Category = "calendar"
	CategoryEmail     Category = "email"
	CategoryFinance   Category = "finance"
	CategoryHealth    Category = "health"
	CategoryDelivery  Category = "delivery"
	CategorySocial    Category = "social"
	CategoryNews      Category = "news"
	CategorySystem    Category = "system"
	CategoryOther     Category = "other"
)

// ActionType names a suggested action.
type ActionType string

const (
	ActionDraftReply        ActionType = "draftReply"
	ActionMarkRead          ActionType = "markRead"
	ActionAddToCalendar     ActionType = "addToCalendar"
	ActionSetReminder       ActionType = "setReminder"
	ActionArchiveEmail      ActionType = "archiveEmail"
	ActionReviewTransaction ActionType = "reviewTransaction"
	ActionLogActivity       ActionType = "logActivity"
	ActionTrackPackage      ActionType = "trackPackage"
	ActionSnooze            ActionType = "snooze"
	ActionSaveForLater      ActionType = "saveForLater"
	ActionClearNotification ActionType = "clearNotification"
)

// SuggestedAction is something the user, or an auto-action, could do.
type SuggestedAction struct {
	Type             ActionType `json:"type"`
	Description      string     `json:"description"`
	Confidence       float64    `json:"confidence"`
	RequiresApproval bool       `json:"requiresApproval"`
}

// ClearedBy records who cleared a notification.
type ClearedBy string

const (
	ClearedByUser       ClearedBy = "user"
	ClearedByAutoAction ClearedBy = "autoAction"
	ClearedByRemote     ClearedBy = "remote"
)

// ClassifiedNotification is an observed notification with its derived
// urgency, category and suggested actions.
type ClassifiedNotification struct {
	Notification     ObservedNotification `json:"notification"`
	Urgency          Urgency              `json:"urgency"`
	Category         Category             `json:"category"`
	SuggestedActions []SuggestedAction    `json:"suggestedActions"`
	ClassifiedAt     time.Time            `json:"classifiedAt"`
	IsCleared        bool                 `json:"isCleared"`
	ClearedBy        *ClearedBy           `json:"clearedBy,omitempty"`
	ClearedAt        *time.Time           `json:"clearedAt,omitempty"`
}

func (c *ClassifiedNotification) clone() *ClassifiedNotification {
	out := *c
	out.SuggestedActions = slices.Clone(c.SuggestedActions)
	return &out
}

func (c *ClassifiedNotification) markCleared(by ClearedBy, at time.Time) {
	c.IsCleared = true
	c.ClearedBy = &by
	c.ClearedAt = &at
}

// Clearance tells other devices that a notification was dismissed.
type Clearance struct {
	NotificationID string    `json:"notificationId"`
	AppIdentifier  string    `json:"appIdentifier"`
	ClearedAt      time.Time `json:"clearedAt"`
	ClearedBy      ClearedBy `json:"clearedBy"`
	DeviceID       string    `json:"deviceId"`
}

// AppSettings tunes classification and auto-actions for one app.
type AppSettings struct {
	AppIdentifier string `json:"appIdentifier"`

	// AutoActions overrides the global auto-action switch when set.
	AutoActions *bool `json:"autoActions,omitempty"`

	// Urgency applies when no keyword tier matches.
	Urgency *Urgency `json:"urgency,omitempty"`
}

// QueuedAction is an action that passed the auto-action gate. Executing it
// is up to the consumer of Service.Actions.
type QueuedAction struct {
	NotificationID string          `json:"notificationId"`
	AppIdentifier  string          `json:"appIdentifier"`
	Action         SuggestedAction `json:"action"`
}
