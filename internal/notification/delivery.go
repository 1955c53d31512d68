package notification

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a delivery status would regress.
var ErrInvalidTransition = errors.New("invalid delivery status transition")

// DeliveryStatus tracks a payload on one device.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryExpired   DeliveryStatus = "expired"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	_, forward := deliveryRank[s]
	return forward || s == DeliveryFailed || s == DeliveryExpired
}

// IsTerminal reports whether no further transition is allowed.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryFailed || s == DeliveryExpired
}

// CanTransition reports whether moving from s to next keeps the status
// monotonic. Failed and expired are reachable from any non-terminal state.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == DeliveryFailed || next == DeliveryExpired {
		return true
	}
	return deliveryRank[next] > deliveryRank[s]
}

// DeliveryRecord is the best-effort audit entry for one (payload, device) pair.
type DeliveryRecord struct {
	NotificationID string
	DeviceID       string
	Status         DeliveryStatus
	UpdatedAt      time.Time
	Reason         *string
}

// Advance moves the record to next, refusing regressions.
func (d *DeliveryRecord) Advance(next DeliveryStatus, at time.Time) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, next)
	}
	d.Status = next
	d.UpdatedAt = at.UTC()
	return nil
}
