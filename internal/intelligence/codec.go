package intelligence

import (
	"github.com/crossnotify/crossnotify/internal/store"
)

const schemaVersion = 1

// Clearance record fields.
const (
	FieldNotificationID = "notificationId"
	FieldAppIdentifier  = "appIdentifier"
	FieldClearedAt      = "clearedAt"
	FieldClearedBy      = "clearedBy"
	FieldDeviceID       = "deviceId"
)

// ClearanceRecordID returns the record id of a clearance.
func ClearanceRecordID(notificationID string) string { return "clearance-" + notificationID }

// ClearanceToRecord encodes a clearance.
func ClearanceToRecord(c *Clearance) *store.Record {
	r := store.NewRecord(store.TypeNotificationClearance, ClearanceRecordID(c.NotificationID))
	r.Set(store.SchemaVersionField, store.Int(schemaVersion))
	r.Set(FieldNotificationID, store.String(c.NotificationID))
	r.Set(FieldAppIdentifier, store.String(c.AppIdentifier))
	r.Set(FieldClearedAt, store.Time(c.ClearedAt))
	r.Set(FieldClearedBy, store.String(string(c.ClearedBy)))
	r.Set(FieldDeviceID, store.String(c.DeviceID))
	return r
}

// ClearanceFromRecord decodes a clearance.
func ClearanceFromRecord(r *store.Record) (*Clearance, error) {
	d := store.NewDecoder(r, schemaVersion)
	if err := d.Err(); err != nil {
		return nil, err
	}
	c := &Clearance{
		NotificationID: d.String(FieldNotificationID),
		AppIdentifier:  d.String(FieldAppIdentifier),
		ClearedAt:      d.Time(FieldClearedAt),
		ClearedBy:      ClearedBy(d.String(FieldClearedBy)),
		DeviceID:       d.String(FieldDeviceID),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return c, nil
}
