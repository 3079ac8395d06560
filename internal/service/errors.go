package service

import "errors"

// Session lifecycle errors. Handlers map these to response codes; storage
// errors are wrapped behind them and never reach the client.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTestNotFound         = errors.New("test not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrOutOfWindow          = errors.New("test is outside its access window")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrAlreadySubmitted     = errors.New("session already submitted")
	ErrSessionEnded         = errors.New("session has ended")
	// ErrSubmitFailed is a transient failure of a manual submission. The
	// session stays ONGOING and the participant may retry.
	ErrSubmitFailed = errors.New("submission failed, please retry")
	// ErrSubmitPending is a transient failure of a forced submission. The
	// intent is kept and replayed; the participant is told the test ended.
	ErrSubmitPending = errors.New("submission pending")
	ErrInvalidReason = errors.New("invalid submit reason")
)

// ErrSessionOngoing is returned when a result is requested before the
// session has ended.
var ErrSessionOngoing = errors.New("session is still ongoing")
