// Package device keeps the registry of a user's devices in the shared record
// store and tracks which registration belongs to the running process.
package device

import (
	"errors"
	"time"
)

// Registry errors.
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNotRegistered  = errors.New("device not registered")
)

// Platform represents a push notification platform.
type Platform string

const (
	PlatformFCM     Platform = "FCM"
	PlatformAPNS    Platform = "APNS"
	PlatformWebPush Platform = "WEBPUSH"
)

// Type is the form factor of a device.
type Type string

const (
	TypePhone   Type = "phone"
	TypeTablet  Type = "tablet"
	TypeDesktop Type = "desktop"
	TypeLaptop  Type = "laptop"
	TypeWatch   Type = "watch"
	TypeWeb     Type = "web"
)

// Registration is one device known to the user's shared store.
type Registration struct {
	ID           string
	PushToken    string
	Platform     Platform
	DeviceType   Type
	Name         string
	Model        string
	OSVersion    string
	AppVersion   string
	RegisteredAt time.Time
	LastSeenAt   time.Time
	PushEnabled  bool
	IsActive     bool
}

// TokenLast4 returns the last 4 characters of the token for display purposes.
func (d *Registration) TokenLast4() string {
	if len(d.PushToken) < 4 {
		return d.PushToken
	}
	return d.PushToken[len(d.PushToken)-4:]
}

func (d *Registration) clone() *Registration {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Identity describes the device this process runs on.
type Identity struct {
	// DeviceID is a previously assigned id, if known.
	DeviceID   string
	Name       string
	DeviceType Type
	Platform   Platform
	Model      string
	OSVersion  string
	AppVersion string
}
