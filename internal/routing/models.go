package routing

import (
	"errors"
	"fmt"
	"time"

	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/notification"
)

// DefaultPresenceTimeout is how recently a device must have been seen to
// count as online.
const DefaultPresenceTimeout = 300 * time.Second

// ErrInvalidMode is returned for an unknown routing mode.
var ErrInvalidMode = errors.New("invalid routing mode")

// Mode selects which devices receive a routed notification.
type Mode string

const (
	// ModeActiveDevice routes to the most recently seen online device.
	ModeActiveDevice Mode = "activeDevice"

	// ModeAllDevices routes to every online device.
	ModeAllDevices Mode = "allDevices"

	// ModePrimaryOnly routes to the first online phone.
	ModePrimaryOnly Mode = "primaryOnly"

	// ModeManual routes to the notification's own target when it is online.
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeActiveDevice, ModeAllDevices, ModePrimaryOnly, ModeManual:
		return true
	}
	return false
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Kind distinguishes how a routed notification is presented.
type Kind string

const (
	KindStandard Kind = "standard"
	KindUrgent   Kind = "urgent"
	KindData     Kind = "data"
)

// Notification is a locally originated notification to route.
type Notification struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Category notification.Category  `json:"category"`
	Priority notification.Priority  `json:"priority"`
	Kind     Kind                   `json:"kind"`
	Data     *notification.DataInfo `json:"data,omitempty"`

	// TargetDeviceID is only honored in manual mode.
	TargetDeviceID *string `json:"targetDeviceId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Presence is the last time a device was seen.
type Presence struct {
	DeviceID   string      `json:"deviceId"`
	DeviceType device.Type `json:"deviceType"`
	Name       string      `json:"name"`
	LastSeen   time.Time   `json:"lastSeen"`
}

// Online reports whether the device was seen within timeout of now.
func (p Presence) Online(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastSeen) <= timeout
}

// Envelope is a routed notification queued for one device in the shared
// store mailbox.
type Envelope struct {
	Notification   Notification
	SourceDeviceID string
	TargetDeviceID string
	Delivered      bool
	DeliveredAt    *time.Time
}
