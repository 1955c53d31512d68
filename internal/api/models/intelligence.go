package models

import (
	"github.com/crossnotify/crossnotify/internal/intelligence"
)

// ObserveRequest reports a notification presented on this device.
type ObserveRequest struct {
	intelligence.ObservedNotification
}

// Validate validates the request.
func (r *ObserveRequest) Validate() []FieldError {
	var errs []FieldError
	if r.ID == "" {
		errs = append(errs, required("id"))
	}
	if r.AppIdentifier == "" {
		errs = append(errs, required("appIdentifier"))
	}
	return errs
}

// ClearRequest clears a classified notification.
type ClearRequest struct {
	NotificationID string                  `json:"notificationId"`
	ClearedBy      *intelligence.ClearedBy `json:"clearedBy,omitempty"`
}

// Validate validates the request.
func (r *ClearRequest) Validate() []FieldError {
	var errs []FieldError
	if r.NotificationID == "" {
		errs = append(errs, required("notificationId"))
	}
	if r.ClearedBy != nil {
		switch *r.ClearedBy {
		case intelligence.ClearedByUser, intelligence.ClearedByAutoAction:
		default:
			errs = append(errs, invalid("clearedBy", "must be user or autoAction"))
		}
	}
	return errs
}

// ClearancesFetched reports how many remote clearances were applied.
type ClearancesFetched struct {
	Applied int `json:"applied"`
}

// ClassifiedList is the retained classification history, oldest first.
type ClassifiedList struct {
	Items []*intelligence.ClassifiedNotification `json:"items"`
}

// AppSettingsRequest replaces the settings for one app.
type AppSettingsRequest struct {
	AutoActions *bool   `json:"autoActions,omitempty"`
	Urgency     *string `json:"urgency,omitempty"`
}

// Validate validates the request.
func (r *AppSettingsRequest) Validate() []FieldError {
	if r.Urgency != nil {
		if _, err := intelligence.ParseUrgency(*r.Urgency); err != nil {
			return []FieldError{invalid("urgency", "must be one of low, medium, high, critical")}
		}
	}
	return nil
}

// Settings converts the request for appID. Validate first.
func (r *AppSettingsRequest) Settings(appID string) intelligence.AppSettings {
	s := intelligence.AppSettings{AppIdentifier: appID, AutoActions: r.AutoActions}
	if r.Urgency != nil {
		if u, err := intelligence.ParseUrgency(*r.Urgency); err == nil {
			s.Urgency = &u
		}
	}
	return s
}
