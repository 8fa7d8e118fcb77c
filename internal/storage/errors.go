// Package storage error taxonomy shared by all backends.
package storage

import "errors"

// Sentinel errors for adapter operations. Backends wrap their native errors
// with these so callers can use errors.Is without knowing the backend.
var (
	// ErrConversationNotFound indicates the requested conversation id is absent.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the requested message id is absent.
	ErrMessageNotFound = errors.New("message not found")

	// ErrSummaryNotFound indicates the user has no stored summary.
	ErrSummaryNotFound = errors.New("summary not found")

	// ErrConstraintViolation indicates a write violated referential integrity
	// or uniqueness, e.g. a message referencing an absent conversation or a
	// duplicate conversation id.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrConnectionFailure indicates an I/O failure talking to the backend.
	// Potentially transient; the core never retries on its own.
	ErrConnectionFailure = errors.New("storage connection failure")
)
