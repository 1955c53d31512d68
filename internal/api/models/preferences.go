package models

import (
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/preferences"
)

// EvaluateRequest asks whether a notification would be shown.
type EvaluateRequest struct {
	Category notification.Category  `json:"category"`
	Priority *notification.Priority `json:"priority,omitempty"`

	// DeviceID defaults to this device.
	DeviceID string `json:"deviceId,omitempty"`
}

// Validate validates the request.
func (r *EvaluateRequest) Validate() []FieldError {
	if !r.Category.Valid() {
		return []FieldError{invalid("category", "unknown category")}
	}
	return nil
}

// Evaluation is the preference engine's verdict.
type Evaluation struct {
	Deliver      bool                  `json:"deliver"`
	InQuietHours bool                  `json:"inQuietHours"`
	Priority     notification.Priority `json:"priority"`
	Sound        string                `json:"sound"`
	Haptic       notification.Haptic   `json:"haptic"`
}

// PreferencesUpdate replaces the preference snapshot. LastModified is
// ignored and stamped on save.
type PreferencesUpdate struct {
	preferences.PreferenceSet
}

// Validate validates the request.
func (r *PreferencesUpdate) Validate() []FieldError {
	var errs []FieldError
	for c := range r.EnabledCategories {
		if !c.Valid() {
			errs = append(errs, invalid("enabledCategories", "unknown category "+string(c)))
		}
	}
	for c := range r.PriorityOverrides {
		if !c.Valid() {
			errs = append(errs, invalid("priorityOverrides", "unknown category "+string(c)))
		}
	}
	for _, id := range r.EnabledDevices {
		if id == "" {
			errs = append(errs, invalid("enabledDevices", "device ids must not be empty"))
			break
		}
	}
	return errs
}
