package store

import "errors"

// Common errors for metadata operations.
var (
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNodeNotFound is returned when a node does not exist (or is trashed
	// when a live node was requested).
	ErrNodeNotFound = errors.New("node not found")

	// ErrShareNotFound is returned when a share does not exist.
	ErrShareNotFound = errors.New("share not found")

	// ErrLinkNotFound is returned when a public link does not exist.
	ErrLinkNotFound = errors.New("public link not found")

	// ErrTaskNotFound is returned when a backup task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUniqueViolation is returned when an insert or update breaks a
	// unique constraint. Callers race-retrying name collisions match this
	// explicitly.
	ErrUniqueViolation = errors.New("unique constraint violation")
)
