// Package worker runs the periodic background tasks of a device and the
// Pub/Sub receiver that wakes it when a subscribed record changes.
package worker

import "time"

// Task names used in logs and metrics.
const (
	TaskPresence   = "presence"
	TaskPoll       = "poll"
	TaskClearances = "clearances"
	TaskCleanup    = "cleanup"
)

// MaintenanceConfig configures the maintenance job.
type MaintenanceConfig struct {
	// PresenceInterval is how often the heartbeat is published and peers are reloaded.
	PresenceInterval time.Duration

	// PollInterval is how often the mailbox is checked for pending notifications.
	PollInterval time.Duration

	// ClearanceInterval is how often clearances from other devices are fetched.
	ClearanceInterval time.Duration

	// CleanupInterval is how often expired records are purged.
	CleanupInterval time.Duration

	// DeliveryRetentionDays is the age after which delivery records are deleted.
	DeliveryRetentionDays int

	// StoreQueriesPerSecond caps the store calls made by all tasks together.
	// Zero or less disables the limit.
	StoreQueriesPerSecond float64

	// Timeout bounds a single task run.
	Timeout time.Duration
}

// DefaultMaintenanceConfig returns the default maintenance configuration.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		PresenceInterval:      30 * time.Second,
		PollInterval:          15 * time.Second,
		ClearanceInterval:     30 * time.Second,
		CleanupInterval:       time.Hour,
		DeliveryRetentionDays: 7,
		StoreQueriesPerSecond: 5,
		Timeout:               30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultMaintenanceConfig.
func (c MaintenanceConfig) withDefaults() MaintenanceConfig {
	d := DefaultMaintenanceConfig()
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = d.PresenceInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ClearanceInterval <= 0 {
		c.ClearanceInterval = d.ClearanceInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.DeliveryRetentionDays <= 0 {
		c.DeliveryRetentionDays = d.DeliveryRetentionDays
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Interval returns the tick interval of the named task.
func (c MaintenanceConfig) Interval(task string) time.Duration {
	switch task {
	case TaskPresence:
		return c.PresenceInterval
	case TaskPoll:
		return c.PollInterval
	case TaskClearances:
		return c.ClearanceInterval
	case TaskCleanup:
		return c.CleanupInterval
	default:
		return 0
	}
}
