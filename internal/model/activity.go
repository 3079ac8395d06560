package model

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType names session lifecycle events sent to the activity log.
type ActivityType string

const (
	ActivitySessionStarted   ActivityType = "SESSION_STARTED"
	ActivitySessionResumed   ActivityType = "SESSION_RESUMED"
	ActivityTabLeave         ActivityType = "TAB_LEAVE"
	ActivitySessionSubmitted ActivityType = "SESSION_SUBMITTED"
	ActivitySessionAbandoned ActivityType = "SESSION_ABANDONED"
)

// ActivityEvent is a fire-and-forget audit record.
type ActivityEvent struct {
	SessionID  uuid.UUID         `json:"session_id"`
	UserID     int               `json:"user_id"`
	TestID     uuid.UUID         `json:"test_id"`
	Type       ActivityType      `json:"type"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
