package device

import "context"

// Repository defines the interface for device persistence.
type Repository interface {
	// Get retrieves a device by ID.
	Get(ctx context.Context, deviceID string) (*Registration, error)

	// GetByToken retrieves a device by push token.
	GetByToken(ctx context.Context, token string) (*Registration, error)

	// ListByName retrieves all devices registered under a name.
	ListByName(ctx context.Context, name string) ([]*Registration, error)

	// ListActive retrieves all active devices ordered by ID.
	ListActive(ctx context.Context) ([]*Registration, error)

	// Upsert creates or replaces a device.
	// Returns true if a new device was created, false if updated.
	Upsert(ctx context.Context, device *Registration) (created bool, err error)

	// Delete deletes a device.
	Delete(ctx context.Context, deviceID string) error
}

// IDStore persists the id assigned to the local device across restarts.
type IDStore interface {
	LoadDeviceID(ctx context.Context) (string, error)
	SaveDeviceID(ctx context.Context, id string) error
}
