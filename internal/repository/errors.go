package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrNotOngoing is returned by terminal writes that find the session no
	// longer ONGOING. No row was changed.
	ErrNotOngoing = errors.New("session is not ongoing")
	// ErrOngoingExists is returned when an insert collides with the partial
	// unique index on ONGOING sessions.
	ErrOngoingExists = errors.New("an ongoing session already exists")
	// ErrAttemptLimit is returned when the pair already used all attempts.
	ErrAttemptLimit = errors.New("attempt limit reached")
)
