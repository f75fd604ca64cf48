package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed names an operation on a closed component. No function in
	// this package returns it: Manager.Close only withdraws the announcement.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when announcing while already announcing.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted names stopping an announcement that was never started.
	// No function in this package returns it: Unannounce is a no-op then.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidDeviceName is returned when the device name is empty.
	ErrInvalidDeviceName = errors.New("discovery: invalid device name")

	// ErrInvalidPort is returned when the port number is out of range.
	ErrInvalidPort = errors.New("discovery: invalid port (must be 1-65535)")

	// ErrServiceNotFound is returned when a requested service is not found.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when a lookup operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")
)
