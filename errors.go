package pollen

import "errors"

var (
	// ErrInvalidPattern reports a channel pattern whose kind is unknown or
	// whose name matcher does not compile. It is returned from pattern
	// construction and registration, never deferred to match time.
	ErrInvalidPattern = errors.New("invalid channel pattern")

	// ErrBrokerClosed reports a registration or configuration call against a
	// closed broker.
	ErrBrokerClosed = errors.New("broker is closed")
)
