package notification

import (
	"encoding/json"
	"fmt"

	"github.com/crossnotify/crossnotify/internal/store"
)

// SchemaVersion is the record schema written by this package.
const SchemaVersion = 1

// DecodeError reports a record that does not match its schema.
type DecodeError = store.DecodeError

// ErrUnsupportedSchema is returned for records written with another schema version.
var ErrUnsupportedSchema = store.ErrUnsupportedSchema

// Record field names.
const (
	FieldNotificationID         = "notificationId"
	FieldCategory               = "category"
	FieldPriority               = "priority"
	FieldTitle                  = "title"
	FieldBody                   = "body"
	FieldSubtitle               = "subtitle"
	FieldSound                  = "sound"
	FieldHaptic                 = "haptic"
	FieldBadge                  = "badge"
	FieldThreadID               = "threadId"
	FieldDeepLink               = "deepLink"
	FieldUserInfo               = "userInfo"
	FieldSourceDeviceID         = "sourceDeviceId"
	FieldTargetDeviceIDs        = "targetDeviceIds"
	FieldCreatedAt              = "createdAt"
	FieldExpiresAt              = "expiresAt"
	FieldRequiresAcknowledgment = "requiresAcknowledgment"
	FieldActionIdentifier       = "actionIdentifier"
	FieldDeviceID               = "deviceId"
	FieldStatus                 = "status"
	FieldUpdatedAt              = "updatedAt"
	FieldReason                 = "reason"
	FieldAcknowledgedAt         = "acknowledgedAt"
	FieldAction                 = "action"
)

// PayloadRecordID returns the record id of a payload.
func PayloadRecordID(id string) string { return "notification-" + id }

// DeliveryRecordID returns the record id of a delivery marker.
func DeliveryRecordID(notificationID, deviceID string) string {
	return "delivery-" + notificationID + "-" + deviceID
}

// AcknowledgmentRecordID returns the record id of an acknowledgment.
func AcknowledgmentRecordID(notificationID, deviceID string) string {
	return "ack-" + notificationID + "-" + deviceID
}

// PayloadToRecord encodes a payload. Nil optionals are left out.
func PayloadToRecord(p *Payload) (*store.Record, error) {
	r := store.NewRecord(store.TypeCrossDeviceNotification, PayloadRecordID(p.ID))
	r.Set(store.SchemaVersionField, store.Int(SchemaVersion))
	r.Set(FieldNotificationID, store.String(p.ID))
	r.Set(FieldCategory, store.String(string(p.Category)))
	r.Set(FieldPriority, store.String(p.Priority.String()))
	r.Set(FieldTitle, store.String(p.Title))
	r.Set(FieldBody, store.String(p.Body))
	r.SetOptString(FieldSubtitle, p.Subtitle)
	r.SetOptString(FieldSound, p.Sound)
	if p.Haptic != nil {
		r.Set(FieldHaptic, store.String(string(*p.Haptic)))
	}
	if p.Badge != nil {
		r.Set(FieldBadge, store.Int(int64(*p.Badge)))
	}
	r.SetOptString(FieldThreadID, p.ThreadID)
	r.SetOptString(FieldDeepLink, p.DeepLink)
	if p.UserInfo != nil {
		raw, err := json.Marshal(p.UserInfo)
		if err != nil {
			return nil, fmt.Errorf("encoding user info: %w", err)
		}
		r.Set(FieldUserInfo, store.String(string(raw)))
	}
	r.Set(FieldSourceDeviceID, store.String(p.SourceDeviceID))
	if p.TargetDeviceIDs != nil {
		r.Set(FieldTargetDeviceIDs, store.Strings(p.TargetDeviceIDs))
	}
	r.Set(FieldCreatedAt, store.Time(p.CreatedAt))
	r.Set(FieldExpiresAt, store.Time(p.ExpiresAt))
	r.Set(FieldRequiresAcknowledgment, store.Bool(p.RequiresAcknowledgment))
	r.SetOptString(FieldActionIdentifier, p.ActionIdentifier)
	return r, nil
}

// PayloadFromRecord decodes a payload record.
func PayloadFromRecord(r *store.Record) (*Payload, error) {
	d := store.NewDecoder(r, SchemaVersion)
	if err := d.Err(); err != nil {
		return nil, err
	}

	p := &Payload{
		ID:                     d.String(FieldNotificationID),
		Category:               Category(d.String(FieldCategory)),
		Title:                  d.String(FieldTitle),
		Body:                   d.String(FieldBody),
		Subtitle:               d.OptString(FieldSubtitle),
		Sound:                  d.OptString(FieldSound),
		ThreadID:               d.OptString(FieldThreadID),
		DeepLink:               d.OptString(FieldDeepLink),
		SourceDeviceID:         d.String(FieldSourceDeviceID),
		TargetDeviceIDs:        d.OptStrings(FieldTargetDeviceIDs),
		CreatedAt:              d.Time(FieldCreatedAt),
		ExpiresAt:              d.Time(FieldExpiresAt),
		RequiresAcknowledgment: d.Bool(FieldRequiresAcknowledgment),
		ActionIdentifier:       d.OptString(FieldActionIdentifier),
	}
	priority := d.String(FieldPriority)
	haptic := d.OptString(FieldHaptic)
	badge := d.OptInt(FieldBadge)
	userInfo := d.OptString(FieldUserInfo)
	if err := d.Err(); err != nil {
		return nil, err
	}

	if !p.Category.Valid() {
		d.Fail(FieldCategory, fmt.Sprintf("unknown category %q", p.Category))
	}
	parsed, err := ParsePriority(priority)
	if err != nil {
		d.Fail(FieldPriority, err.Error())
	}
	p.Priority = parsed
	if haptic != nil {
		h := Haptic(*haptic)
		p.Haptic = &h
	}
	if badge != nil {
		b := int(*badge)
		p.Badge = &b
	}
	if userInfo != nil {
		var info UserInfo
		if err := json.Unmarshal([]byte(*userInfo), &info); err != nil {
			d.Fail(FieldUserInfo, err.Error())
		}
		p.UserInfo = &info
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// DeliveryToRecord encodes a delivery marker.
func DeliveryToRecord(dr *DeliveryRecord) *store.Record {
	r := store.NewRecord(store.TypeNotificationDelivery, DeliveryRecordID(dr.NotificationID, dr.DeviceID))
	r.Set(store.SchemaVersionField, store.Int(SchemaVersion))
	r.Set(FieldNotificationID, store.String(dr.NotificationID))
	r.Set(FieldDeviceID, store.String(dr.DeviceID))
	r.Set(FieldStatus, store.String(string(dr.Status)))
	r.Set(FieldUpdatedAt, store.Time(dr.UpdatedAt))
	r.SetOptString(FieldReason, dr.Reason)
	return r
}

// DeliveryFromRecord decodes a delivery marker.
func DeliveryFromRecord(r *store.Record) (*DeliveryRecord, error) {
	d := store.NewDecoder(r, SchemaVersion)
	if err := d.Err(); err != nil {
		return nil, err
	}
	dr := &DeliveryRecord{
		NotificationID: d.String(FieldNotificationID),
		DeviceID:       d.String(FieldDeviceID),
		Status:         DeliveryStatus(d.String(FieldStatus)),
		UpdatedAt:      d.Time(FieldUpdatedAt),
		Reason:         d.OptString(FieldReason),
	}
	if d.Err() == nil && !dr.Status.Valid() {
		d.Fail(FieldStatus, fmt.Sprintf("unknown status %q", dr.Status))
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return dr, nil
}

// AcknowledgmentToRecord encodes an acknowledgment.
func AcknowledgmentToRecord(a *Acknowledgment) *store.Record {
	r := store.NewRecord(store.TypeNotificationAcknowledgment, AcknowledgmentRecordID(a.NotificationID, a.DeviceID))
	r.Set(store.SchemaVersionField, store.Int(SchemaVersion))
	r.Set(FieldNotificationID, store.String(a.NotificationID))
	r.Set(FieldDeviceID, store.String(a.DeviceID))
	r.Set(FieldAcknowledgedAt, store.Time(a.AcknowledgedAt))
	r.Set(FieldAction, store.String(a.Action))
	return r
}

// AcknowledgmentFromRecord decodes an acknowledgment.
func AcknowledgmentFromRecord(r *store.Record) (*Acknowledgment, error) {
	d := store.NewDecoder(r, SchemaVersion)
	if err := d.Err(); err != nil {
		return nil, err
	}
	a := &Acknowledgment{
		NotificationID: d.String(FieldNotificationID),
		DeviceID:       d.String(FieldDeviceID),
		AcknowledgedAt: d.Time(FieldAcknowledgedAt),
		Action:         d.String(FieldAction),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return a, nil
}
