package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no record matches an identity or name.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidIdentity is returned when an identity string cannot be parsed.
	ErrInvalidIdentity = errors.New("device: invalid identity")

	// ErrInvalidAddress is returned when a host/port pair is unusable.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidName is returned when a display name is too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidPolicy is returned for an unknown merge policy name.
	ErrInvalidPolicy = errors.New("device: invalid merge policy")
)
