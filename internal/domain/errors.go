package domain

import "errors"

var (
	// ErrPrivilegeUnavailable is returned before any mutation when the
	// required elevated access is not granted. It is never retried.
	ErrPrivilegeUnavailable = errors.New("privilege unavailable")

	// ErrStateUnknown means a state query ran but its output could not be
	// interpreted. Callers fall back to the last known value.
	ErrStateUnknown = errors.New("component state unknown")

	// ErrComponentNotFound means the package does not declare the component.
	ErrComponentNotFound = errors.New("component not found")

	// ErrPackageNotFound means the package is not installed.
	ErrPackageNotFound = errors.New("package not found")
)
