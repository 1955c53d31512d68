// Package preferences decides whether a notification may be shown on this
// device and keeps the user's preference snapshot in sync across devices.
package preferences

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/crossnotify/crossnotify/internal/notification"
)

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustClockTime parses s and panics on error.
func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

// MarshalJSON encodes the time as "HH:MM".
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "HH:MM".
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// QuietHours is a daily window during which only critical notifications
// may be shown.
type QuietHours struct {
	Enabled        bool      `json:"enabled"`
	Start          ClockTime `json:"start"`
	End            ClockTime `json:"end"`
	BypassCritical bool      `json:"bypassCritical"`
}

// Contains reports whether the wall-clock time of t falls inside the window.
// A window whose start is not before its end wraps past midnight.
func (q QuietHours) Contains(t time.Time) bool {
	now := t.Hour()*60 + t.Minute()
	start, end := q.Start.minutes(), q.End.minutes()
	if start < end {
		return start <= now && now < end
	}
	return now >= start || now < end
}

// PreferenceSet is the whole preference snapshot. It is synced as a unit;
// the newer LastModified wins.
type PreferenceSet struct {
	GlobalEnabled      bool `json:"globalEnabled"`
	CrossDeviceEnabled bool `json:"crossDeviceEnabled"`

	EnabledCategories map[notification.Category]bool                  `json:"enabledCategories"`
	PriorityOverrides map[notification.Category]notification.Priority `json:"priorityOverrides"`
	SoundOverrides    map[notification.Category]string                `json:"soundOverrides"`
	HapticOverrides   map[notification.Category]notification.Haptic   `json:"hapticOverrides"`

	QuietHours QuietHours `json:"quietHours"`

	// EnabledDevices is an allowlist of device ids. Empty allows every device.
	EnabledDevices []string `json:"enabledDevices,omitempty"`

	SyncEnabled  bool      `json:"syncEnabled"`
	LastModified time.Time `json:"lastModified"`
}

// DefaultPreferenceSet enables everything with quiet hours off.
func DefaultPreferenceSet() *PreferenceSet {
	enabled := make(map[notification.Category]bool)
	for _, c := range notification.AllCategories() {
		enabled[c] = true
	}
	return &PreferenceSet{
		GlobalEnabled:      true,
		CrossDeviceEnabled: true,
		EnabledCategories:  enabled,
		PriorityOverrides:  map[notification.Category]notification.Priority{},
		SoundOverrides:     map[notification.Category]string{},
		HapticOverrides:    map[notification.Category]notification.Haptic{},
		QuietHours: QuietHours{
			Start:          ClockTime{Hour: 22},
			End:            ClockTime{Hour: 7},
			BypassCritical: true,
		},
		SyncEnabled: true,
	}
}

// Clone returns a deep copy.
func (p *PreferenceSet) Clone() *PreferenceSet {
	c := *p
	c.EnabledCategories = maps.Clone(p.EnabledCategories)
	c.PriorityOverrides = maps.Clone(p.PriorityOverrides)
	c.SoundOverrides = maps.Clone(p.SoundOverrides)
	c.HapticOverrides = maps.Clone(p.HapticOverrides)
	c.EnabledDevices = slices.Clone(p.EnabledDevices)
	return &c
}

// CategoryEnabled reports whether notifications of c may be shown.
func (p *PreferenceSet) CategoryEnabled(c notification.Category) bool {
	return p.EnabledCategories[c]
}

// DeviceEnabled reports whether the allowlist admits deviceID.
func (p *PreferenceSet) DeviceEnabled(deviceID string) bool {
	return len(p.EnabledDevices) == 0 || slices.Contains(p.EnabledDevices, deviceID)
}
