package models

import "errors"

var (
	// ErrStaleAssignment signals a response that arrived after expiry or
	// after the assignment was already resolved. Callers treat it as a
	// reported no-op, never a retry.
	ErrStaleAssignment = errors.New("assignment is stale or already resolved")

	// ErrDriverBusy rejects an offline transition or a second acceptance
	// while the driver already holds an accepted assignment.
	ErrDriverBusy = errors.New("driver is busy")

	// ErrRetryCapExceeded marks a job that exhausted its reassignment
	// budget; the job moves to NO_DRIVER_FOUND.
	ErrRetryCapExceeded = errors.New("reassignment retry cap exceeded")

	// ErrConfigConflict covers concurrent config activations that would
	// leave zero or more than one active config.
	ErrConfigConflict = errors.New("config activation conflict")

	ErrInvalidTransition = errors.New("invalid driver state transition")
	ErrNotFound          = errors.New("not found")
	ErrJobTerminal       = errors.New("job is in a terminal state")
)
