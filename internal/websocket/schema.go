package websocket

import (
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/monitor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave   Action = "autosave"
	ActionVisibility Action = "visibility"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestPayload is the union of every client message; Action selects which
// fields are meaningful.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QID    string            `json:"q_id,omitempty"`
	Answer model.AnswerValue `json:"answer"`

	// visibility
	State monitor.State `json:"state,omitempty"`

	// submit
	Answers model.AnswerSheet `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick    Event = "tick"
	EventSuccess Event = "success"
	EventWarning Event = "warning"
	EventEnded   Event = "ended"
	EventGraded  Event = "graded"
	EventError   Event = "error"
	EventPong    Event = "pong"
)

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int64 `json:"remaining"`
}

type AutosaveResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
	QID    string `json:"q_id"`
}

// WarningResponse is the advisory shown when the participant returns to the
// exam below the leave limit. RemainingLeaves is -1 when unlimited.
type WarningResponse struct {
	Event           Event `json:"event"`
	Leaves          int   `json:"leaves"`
	RemainingLeaves int   `json:"remaining_leaves"`
}

// EndedResponse tells the participant the test is over. Pending is set when
// the submission is still being confirmed in the background.
type EndedResponse struct {
	Event   Event              `json:"event"`
	Reason  model.SubmitReason `json:"reason"`
	Pending bool               `json:"pending,omitempty"`
}

type GradedResponse struct {
	Event  Event                 `json:"event"`
	Result *model.TerminalResult `json:"result"`
}

type ErrorResponse struct {
	Event     Event  `json:"event"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
