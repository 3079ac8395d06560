package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates test session states.
type SessionStatus string

const (
	SessionStatusOngoing   SessionStatus = "ONGOING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
)

// Terminal reports whether no further mutation is allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	SubmitReasonManual        SubmitReason = "manual"
	SubmitReasonTimeout       SubmitReason = "timeout"
	SubmitReasonTabLeaveLimit SubmitReason = "tab_leave_limit"
	SubmitReasonAdmin         SubmitReason = "admin"
)

// Forced reports whether the participant did not ask for the submission.
func (r SubmitReason) Forced() bool {
	return r == SubmitReasonTimeout || r == SubmitReasonTabLeaveLimit
}

// Valid reports whether r may be passed to a submission.
func (r SubmitReason) Valid() bool {
	switch r {
	case SubmitReasonManual, SubmitReasonTimeout, SubmitReasonTabLeaveLimit:
		return true
	}
	return false
}

// TestSession represents one participant's timed attempt at one test.
type TestSession struct {
	ID         uuid.UUID       `json:"id"`
	UserID     int             `json:"user_id"`
	TestID     uuid.UUID       `json:"test_id"`
	Status     SessionStatus   `json:"status"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	Score      float64         `json:"score"`
	MaxScore   float64         `json:"max_score"`
	Percentage int             `json:"percentage"`
	Passed     bool            `json:"passed"`
	Reason     *SubmitReason   `json:"submit_reason,omitempty"`
	Breakdown  []CategoryScore `json:"breakdown,omitempty"`
}

// Answer is the graded record of one answered question.
type Answer struct {
	SessionID    uuid.UUID   `json:"session_id"`
	QuestionID   uuid.UUID   `json:"question_id"`
	Value        AnswerValue `json:"value"`
	IsCorrect    bool        `json:"is_correct"`
	PointsEarned float64     `json:"points_earned"`
	AnsweredAt   time.Time   `json:"answered_at"`
}

// CategoryScore is the subtotal of one question category.
type CategoryScore struct {
	Category   string  `json:"category"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
	Percentage int     `json:"percentage"`
}

// TerminalResult is what a participant sees once a session has ended.
type TerminalResult struct {
	SessionID  uuid.UUID       `json:"session_id"`
	Status     SessionStatus   `json:"status"`
	Reason     SubmitReason    `json:"reason"`
	Score      float64         `json:"score"`
	MaxScore   float64         `json:"max_score"`
	Percentage int             `json:"percentage"`
	Passed     bool            `json:"passed"`
	Breakdown  []CategoryScore `json:"breakdown"`
	EndTime    time.Time       `json:"end_time"`
	// AlreadySubmitted is set when this call lost the race to an earlier submission.
	AlreadySubmitted bool `json:"already_submitted,omitempty"`
}

// SessionView is returned by start/resume.
type SessionView struct {
	Session          TestSession `json:"session"`
	RemainingSeconds int64       `json:"remaining_seconds"`
	Resumed          bool        `json:"resumed"`
	TabLeaveLimit    int         `json:"tab_leave_limit"`
	LeaveCount       int         `json:"leave_count"`
	Paper            *TestPaper  `json:"paper,omitempty"`
	// Result replaces the session when a pending submission was replayed on load.
	Result *TerminalResult `json:"result,omitempty"`
}

// SubmitIntent is the write-ahead record of a submission in flight. It is
// stored before the terminal write and cleared once that write is confirmed.
type SubmitIntent struct {
	SessionID uuid.UUID    `json:"session_id"`
	UserID    int          `json:"user_id"`
	TestID    uuid.UUID    `json:"test_id"`
	Answers   AnswerSheet  `json:"answers"`
	Reason    SubmitReason `json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
}

// SubmitRequest is the payload of a manual submission.
type SubmitRequest struct {
	Answers AnswerSheet `json:"answers"`
}
