package types

import "errors"

// Sentinel errors shared across the engine packages.
// All are recoverable at the call site; check with errors.Is.
var (
	// ErrInvalidRating indicates a rating outside the ordinal range. Caller
	// contract violation: never silently coerced.
	ErrInvalidRating = errors.New("srs: invalid rating")

	// ErrInvalidScope indicates a malformed selection scope.
	ErrInvalidScope = errors.New("srs: invalid scope")

	// ErrInvalidPolicy indicates an unknown selection policy name.
	ErrInvalidPolicy = errors.New("srs: invalid selection policy")

	// ErrAccessDenied indicates the scope includes a container the user may
	// not read. Enforced before any content query executes.
	ErrAccessDenied = errors.New("srs: access denied")

	// ErrEmptyScope indicates the scope resolved to zero containers.
	ErrEmptyScope = errors.New("srs: scope resolves to no containers")

	// ErrEmptyPool indicates selection yielded zero items for the requested
	// policy and scope. Expected, user-facing outcome.
	ErrEmptyPool = errors.New("srs: nothing to study")

	// ErrSessionNotFound indicates the session never existed.
	ErrSessionNotFound = errors.New("srs: session not found")

	// ErrSessionNotActive indicates the session exists but has already
	// completed or been cancelled.
	ErrSessionNotActive = errors.New("srs: session is not active")

	// ErrDuplicateAnswer indicates an answer for an item the session already
	// processed, or the same item twice within one answer batch. Rejected
	// before anything is committed.
	ErrDuplicateAnswer = errors.New("srs: duplicate answer for item")

	// ErrItemNotInSession indicates an answer for an item outside the
	// session's selected pool.
	ErrItemNotInSession = errors.New("srs: item is not part of the session")

	// ErrInvalidParameters indicates scheduler weights out of bounds.
	ErrInvalidParameters = errors.New("srs: parameters out of bounds")
)
