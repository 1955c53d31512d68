package routing

import (
	"encoding/json"
	"fmt"

	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/store"
)

const schemaVersion = 1

// Record field names.
const (
	FieldNotificationID = "notificationId"
	FieldSourceDeviceID = "sourceDeviceId"
	FieldTargetDeviceID = "targetDeviceId"
	FieldTitle          = "title"
	FieldBody           = "body"
	FieldCategory       = "category"
	FieldPriority       = "priority"
	FieldKind           = "kind"
	FieldData           = "data"
	FieldCreatedAt      = "createdAt"
	FieldDelivered      = "delivered"
	FieldDeliveredAt    = "deliveredAt"

	FieldDeviceID   = "deviceId"
	FieldDeviceType = "deviceType"
	FieldName       = "name"
	FieldLastSeen   = "lastSeen"
)

// EnvelopeRecordID returns the mailbox record id for one target.
func EnvelopeRecordID(notificationID, deviceID string) string {
	return "remote-" + notificationID + "-" + deviceID
}

// PresenceRecordID returns the presence record id of a device.
func PresenceRecordID(deviceID string) string { return "presence-" + deviceID }

// EnvelopeToRecord encodes a mailbox entry.
func EnvelopeToRecord(e *Envelope) (*store.Record, error) {
	n := e.Notification
	r := store.NewRecord(store.TypeRemoteNotification, EnvelopeRecordID(n.ID, e.TargetDeviceID))
	r.Set(store.SchemaVersionField, store.Int(schemaVersion))
	r.Set(FieldNotificationID, store.String(n.ID))
	r.Set(FieldSourceDeviceID, store.String(e.SourceDeviceID))
	r.Set(FieldTargetDeviceID, store.String(e.TargetDeviceID))
	r.Set(FieldTitle, store.String(n.Title))
	r.Set(FieldBody, store.String(n.Body))
	r.Set(FieldCategory, store.String(string(n.Category)))
	r.Set(FieldPriority, store.String(n.Priority.String()))
	r.Set(FieldKind, store.String(string(n.Kind)))
	r.Set(FieldCreatedAt, store.Time(n.CreatedAt))
	r.Set(FieldDelivered, store.Bool(e.Delivered))
	if e.DeliveredAt != nil {
		r.Set(FieldDeliveredAt, store.Time(*e.DeliveredAt))
	}
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("encoding data for %s: %w", n.ID, err)
		}
		r.Set(FieldData, store.String(string(raw)))
	}
	return r, nil
}

// EnvelopeFromRecord decodes a mailbox entry.
func EnvelopeFromRecord(r *store.Record) (*Envelope, error) {
	d := store.NewDecoder(r, schemaVersion)
	if err := d.Err(); err != nil {
		return nil, err
	}

	e := &Envelope{
		Notification: Notification{
			ID:        d.String(FieldNotificationID),
			Title:     d.String(FieldTitle),
			Body:      d.String(FieldBody),
			Category:  notification.Category(d.String(FieldCategory)),
			Kind:      Kind(d.String(FieldKind)),
			CreatedAt: d.Time(FieldCreatedAt),
		},
		SourceDeviceID: d.String(FieldSourceDeviceID),
		TargetDeviceID: d.String(FieldTargetDeviceID),
		Delivered:      d.Bool(FieldDelivered),
		DeliveredAt:    d.OptTime(FieldDeliveredAt),
	}
	priority := d.String(FieldPriority)
	data := d.OptString(FieldData)
	if err := d.Err(); err != nil {
		return nil, err
	}

	if !e.Notification.Category.Valid() {
		d.Fail(FieldCategory, fmt.Sprintf("unknown category %q", e.Notification.Category))
	}
	p, err := notification.ParsePriority(priority)
	if err != nil {
		d.Fail(FieldPriority, err.Error())
	}
	e.Notification.Priority = p
	if data != nil {
		var info notification.DataInfo
		if err := json.Unmarshal([]byte(*data), &info); err != nil {
			d.Fail(FieldData, err.Error())
		}
		e.Notification.Data = &info
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

// PresenceToRecord encodes a presence heartbeat.
func PresenceToRecord(p Presence) *store.Record {
	r := store.NewRecord(store.TypeDevicePresence, PresenceRecordID(p.DeviceID))
	r.Set(store.SchemaVersionField, store.Int(schemaVersion))
	r.Set(FieldDeviceID, store.String(p.DeviceID))
	r.Set(FieldDeviceType, store.String(string(p.DeviceType)))
	r.Set(FieldName, store.String(p.Name))
	r.Set(FieldLastSeen, store.Time(p.LastSeen))
	return r
}

// PresenceFromRecord decodes a presence heartbeat.
func PresenceFromRecord(r *store.Record) (Presence, error) {
	d := store.NewDecoder(r, schemaVersion)
	if err := d.Err(); err != nil {
		return Presence{}, err
	}
	p := Presence{
		DeviceID:   d.String(FieldDeviceID),
		DeviceType: device.Type(d.String(FieldDeviceType)),
		Name:       d.String(FieldName),
		LastSeen:   d.Time(FieldLastSeen),
	}
	if err := d.Err(); err != nil {
		return Presence{}, err
	}
	return p, nil
}
