package relay

import (
	"errors"
	"fmt"

	"github.com/crossnotify/crossnotify/internal/device"
)

// Relay errors.
var (
	ErrNotRegistered       = device.ErrNotRegistered
	ErrDeviceNotFound      = device.ErrDeviceNotFound
	ErrNotificationExpired = errors.New("notification expired")
)

// ErrorKind classifies store failures surfaced by the relay.
type ErrorKind int

const (
	KindRegistrationFailed ErrorKind = iota + 1
	KindSendFailed
	KindSubscriptionFailed
	KindDeliveryFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindRegistrationFailed:
		return "registration failed"
	case KindSendFailed:
		return "send failed"
	case KindSubscriptionFailed:
		return "subscription failed"
	case KindDeliveryFailed:
		return "delivery failed"
	default:
		return "unknown failure"
	}
}

// OpError wraps the store error behind a failed relay operation.
// Nothing is retried; callers decide.
type OpError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrRegistrationFailed = &OpError{Kind: KindRegistrationFailed}
	ErrSendFailed         = &OpError{Kind: KindSendFailed}
	ErrSubscriptionFailed = &OpError{Kind: KindSubscriptionFailed}
	ErrDeliveryFailed     = &OpError{Kind: KindDeliveryFailed}
)

func (e *OpError) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OpError) Unwrap() error { return e.Err }

// Is matches any OpError of the same kind.
func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	return ok && t.Kind == e.Kind
}

func opError(kind ErrorKind, reason string, err error) error {
	return &OpError{Kind: kind, Reason: reason, Err: err}
}
