package driver

import "errors"

// Domain errors for drivers.
var (
	// ErrUnsupportedType is returned when pairing a module type the driver
	// does not handle.
	ErrUnsupportedType = errors.New("driver: unsupported module type")

	// ErrWrongDriver is returned when a device was paired through another
	// driver.
	ErrWrongDriver = errors.New("driver: device belongs to another driver")

	// ErrReadOnly is returned when setting a capability that cannot be written.
	ErrReadOnly = errors.New("driver: capability is read-only")

	// ErrInvalidValue is returned when a value does not fit the capability.
	ErrInvalidValue = errors.New("driver: invalid value")

	// ErrNotAuthenticated is returned when an account stayed
	// unauthenticated for the whole AuthWait.
	ErrNotAuthenticated = errors.New("driver: account not authenticated")

	// ErrUnknownDriver is returned when no driver has the requested name.
	ErrUnknownDriver = errors.New("driver: unknown driver")
)
