package reminder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecipient marks a recipient without a usable email address.
	// Such recipients are dropped and never produce a record.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrUpstreamUnavailable wraps directory failures. The tick treats the
	// failed call as an empty result.
	ErrUpstreamUnavailable = errors.New("upstream data unavailable")

	ErrSessionNotDue           = errors.New("session not due")
	ErrUnknownNotificationType = errors.New("unknown notification type")
)

// DeliveryError is a transient delivery failure for one key.
type DeliveryError struct {
	Key Key
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
