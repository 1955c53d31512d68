package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/crossnotify/crossnotify/internal/store"
)

const schemaVersion = 1

// Record field names.
const (
	fieldDeviceID     = "deviceId"
	fieldPushToken    = "pushToken"
	fieldPlatform     = "platform"
	fieldDeviceType   = "deviceType"
	fieldName         = "name"
	fieldModel        = "model"
	fieldOSVersion    = "osVersion"
	fieldAppVersion   = "appVersion"
	fieldRegisteredAt = "registeredAt"
	fieldLastSeenAt   = "lastSeenAt"
	fieldPushEnabled  = "pushEnabled"
	fieldIsActive     = "isActive"
)

// RecordID returns the record id of a device registration.
func RecordID(deviceID string) string { return "device-" + deviceID }

// ToRecord encodes a registration.
func ToRecord(d *Registration) *store.Record {
	r := store.NewRecord(store.TypeDeviceRegistration, RecordID(d.ID))
	r.Set(store.SchemaVersionField, store.Int(schemaVersion))
	r.Set(fieldDeviceID, store.String(d.ID))
	r.Set(fieldPushToken, store.String(d.PushToken))
	r.Set(fieldPlatform, store.String(string(d.Platform)))
	r.Set(fieldDeviceType, store.String(string(d.DeviceType)))
	r.Set(fieldName, store.String(d.Name))
	r.Set(fieldModel, store.String(d.Model))
	r.Set(fieldOSVersion, store.String(d.OSVersion))
	r.Set(fieldAppVersion, store.String(d.AppVersion))
	r.Set(fieldRegisteredAt, store.Time(d.RegisteredAt))
	r.Set(fieldLastSeenAt, store.Time(d.LastSeenAt))
	r.Set(fieldPushEnabled, store.Bool(d.PushEnabled))
	r.Set(fieldIsActive, store.Bool(d.IsActive))
	return r
}

// FromRecord decodes a registration record.
func FromRecord(r *store.Record) (*Registration, error) {
	dec := store.NewDecoder(r, schemaVersion)
	if err := dec.Err(); err != nil {
		return nil, err
	}
	d := &Registration{
		ID:           dec.String(fieldDeviceID),
		PushToken:    dec.String(fieldPushToken),
		Platform:     Platform(dec.String(fieldPlatform)),
		DeviceType:   Type(dec.String(fieldDeviceType)),
		Name:         dec.String(fieldName),
		Model:        dec.String(fieldModel),
		OSVersion:    dec.String(fieldOSVersion),
		AppVersion:   dec.String(fieldAppVersion),
		RegisteredAt: dec.Time(fieldRegisteredAt),
		LastSeenAt:   dec.Time(fieldLastSeenAt),
		PushEnabled:  dec.Bool(fieldPushEnabled),
		IsActive:     dec.Bool(fieldIsActive),
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

// StoreRepository keeps registrations in the shared record store.
type StoreRepository struct {
	store store.Store
}

// NewStoreRepository creates a repository on top of s.
func NewStoreRepository(s store.Store) *StoreRepository {
	return &StoreRepository{store: s}
}

// Get retrieves a device by ID.
func (r *StoreRepository) Get(ctx context.Context, deviceID string) (*Registration, error) {
	rec, err := r.store.Fetch(ctx, store.TypeDeviceRegistration, RecordID(deviceID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching device %s: %w", deviceID, err)
	}
	return FromRecord(rec)
}

// GetByToken retrieves a device by push token.
func (r *StoreRepository) GetByToken(ctx context.Context, token string) (*Registration, error) {
	list, err := r.list(ctx, store.Query{
		Type:       store.TypeDeviceRegistration,
		Predicates: []store.Predicate{store.Eq(fieldPushToken, store.String(token))},
		SortField:  fieldLastSeenAt,
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrDeviceNotFound
	}
	return list[0], nil
}

// ListByName retrieves all devices registered under a name.
func (r *StoreRepository) ListByName(ctx context.Context, name string) ([]*Registration, error) {
	return r.list(ctx, store.Query{
		Type:       store.TypeDeviceRegistration,
		Predicates: []store.Predicate{store.Eq(fieldName, store.String(name))},
		SortField:  fieldDeviceID,
	})
}

// ListActive retrieves all active devices ordered by ID.
func (r *StoreRepository) ListActive(ctx context.Context) ([]*Registration, error) {
	return r.list(ctx, store.Query{
		Type:       store.TypeDeviceRegistration,
		Predicates: []store.Predicate{store.Eq(fieldIsActive, store.Bool(true))},
		SortField:  fieldDeviceID,
	})
}

// Upsert creates or replaces a device.
func (r *StoreRepository) Upsert(ctx context.Context, d *Registration) (bool, error) {
	_, err := r.store.Fetch(ctx, store.TypeDeviceRegistration, RecordID(d.ID))
	created := errors.Is(err, store.ErrNotFound)
	if err != nil && !created {
		return false, fmt.Errorf("fetching device %s: %w", d.ID, err)
	}
	if err := r.store.Save(ctx, ToRecord(d)); err != nil {
		return false, fmt.Errorf("saving device %s: %w", d.ID, err)
	}
	return created, nil
}

// Delete deletes a device.
func (r *StoreRepository) Delete(ctx context.Context, deviceID string) error {
	err := r.store.Delete(ctx, store.TypeDeviceRegistration, RecordID(deviceID))
	if errors.Is(err, store.ErrNotFound) {
		return ErrDeviceNotFound
	}
	return err
}

func (r *StoreRepository) list(ctx context.Context, q store.Query) ([]*Registration, error) {
	recs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	out := make([]*Registration, 0, len(recs))
	for _, rec := range recs {
		d, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Ensure StoreRepository implements Repository.
var _ Repository = (*StoreRepository)(nil)
