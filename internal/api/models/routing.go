package models

import (
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/routing"
)

// RoutingMode is the body of GET/PUT /v1/routing/mode.
type RoutingMode struct {
	Mode                   string `json:"mode"`
	PresenceTimeoutSeconds *int   `json:"presenceTimeoutSeconds,omitempty"`
}

// Validate validates the request.
func (r *RoutingMode) Validate() []FieldError {
	var errs []FieldError
	if _, err := routing.ParseMode(r.Mode); err != nil {
		errs = append(errs, invalid("mode", "must be one of activeDevice, allDevices, primaryOnly, manual"))
	}
	if r.PresenceTimeoutSeconds != nil && *r.PresenceTimeoutSeconds < 0 {
		errs = append(errs, invalid("presenceTimeoutSeconds", "must not be negative"))
	}
	return errs
}

// RouteNotificationRequest is a notification to route to the active
// device(s). Urgent routes ignore Priority.
type RouteNotificationRequest struct {
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Category       notification.Category  `json:"category"`
	Priority       *notification.Priority `json:"priority,omitempty"`
	TargetDeviceID *string                `json:"targetDeviceId,omitempty"`
}

// Validate validates the request.
func (r *RouteNotificationRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Title == "" {
		errs = append(errs, required("title"))
	}
	if !r.Category.Valid() {
		errs = append(errs, invalid("category", "unknown category"))
	}
	return errs
}

// RouteDataRequest routes a silent data notification.
type RouteDataRequest struct {
	Values         map[string]string `json:"values"`
	TargetDeviceID *string           `json:"targetDeviceId,omitempty"`
}

// Validate validates the request.
func (r *RouteDataRequest) Validate() []FieldError {
	if len(r.Values) == 0 {
		return []FieldError{required("values")}
	}
	return nil
}

// RouteResult lists the devices a notification was handed to.
type RouteResult struct {
	Mode    string   `json:"mode"`
	Targets []string `json:"targets"`
}

// OnlineDevice is a device seen within the presence timeout.
type OnlineDevice struct {
	DeviceID   string    `json:"deviceId"`
	DeviceType string    `json:"deviceType"`
	Name       string    `json:"name"`
	LastSeen   Timestamp `json:"lastSeen"`
}

// OnlineDeviceList lists online devices by id.
type OnlineDeviceList struct {
	Items []OnlineDevice `json:"items"`
}
