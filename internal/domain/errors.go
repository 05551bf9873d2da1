package domain

import "errors"

var (
	// ErrDeviceNotFound is returned when a device id or hardware address does not resolve
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUserNotFound is returned when a user id does not resolve
	ErrUserNotFound = errors.New("user not found")

	// ErrDeviceBusy is returned when a login targets a device bound to another user
	ErrDeviceBusy = errors.New("device busy")

	// ErrUnauthenticated is returned when a caller presents no valid credentials,
	// or a device has no bound user
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized is returned when an authenticated caller lacks permission
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCaptureFailure is returned when a screen capture attempt fails
	ErrCaptureFailure = errors.New("screen capture failed")

	// ErrTransportDisconnected is returned when a relay connection is gone
	ErrTransportDisconnected = errors.New("transport disconnected")

	// ErrInternal wraps unexpected persistence failures
	ErrInternal = errors.New("internal error")
)
