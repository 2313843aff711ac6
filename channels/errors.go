package channels

import "fmt"

// ErrNotConfigured is returned when a connector is asked to deliver without
// the settings it needs (e.g. email without SMTP credentials).
type ErrNotConfigured struct {
	Channel string
	Missing string
}

func (e *ErrNotConfigured) Error() string {
	return fmt.Sprintf("channels: %s not configured: %s missing", e.Channel, e.Missing)
}

// ErrSendFailed is returned when a batch could not be delivered through a
// connector.
type ErrSendFailed struct {
	Channel string
	Cause   error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channels: send failed on %s: %v", e.Channel, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
