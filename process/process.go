// Package process defines the types and interfaces the snapshot engine
// consumes from the operating system.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	ErrInvalidPointer = errors.New("invalid pointer read")

	// ErrAccessDenied is returned when the requested access level cannot be granted
	ErrAccessDenied = errors.New("access denied")

	// ErrNoThreadAccess is returned by walkers for handles that cannot read registers
	ErrNoThreadAccess = errors.New("thread handle cannot read registers")

	// ErrNoSymbol is returned when an address does not belong to any loaded module
	ErrNoSymbol = errors.New("no symbol for address")

	// ErrHandleClosed is returned when a closed thread handle is used
	ErrHandleClosed = errors.New("handle closed")
)
