package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// SessionStore is the durable store of sessions. It is satisfied by
// repository.TestSessionRepository.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.TestSession, error)
	GetOngoing(ctx context.Context, userID int, testID uuid.UUID) (*model.TestSession, error)
	Create(ctx context.Context, s *model.TestSession, maxAttempts int) error
	Complete(ctx context.Context, c *repository.Completion) error
	Abandon(ctx context.Context, id uuid.UUID, reason model.SubmitReason, at time.Time) error
}

// TestCatalog is the read-only source of test definitions.
type TestCatalog interface {
	GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error)
}

// SubmitGuard is the cross-process "already submitting" flag.
type SubmitGuard interface {
	AcquireGuard(ctx context.Context, sessionID uuid.UUID) (bool, error)
	ReleaseGuard(ctx context.Context, sessionID uuid.UUID) error
}

// IntentStore keeps write-ahead submission intents.
type IntentStore interface {
	SaveIntent(ctx context.Context, in *model.SubmitIntent) error
	LoadIntent(ctx context.Context, sessionID uuid.UUID) (*model.SubmitIntent, error)
	ClearIntent(ctx context.Context, sessionID uuid.UUID) error
	PendingIntents(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// DraftStore keeps a session's autosaved answers until the terminal write.
type DraftStore interface {
	SaveDraft(ctx context.Context, sessionID, questionID uuid.UUID, v model.AnswerValue) error
	LoadDrafts(ctx context.Context, sessionID uuid.UUID) (model.AnswerSheet, error)
	ClearSession(ctx context.Context, sessionID uuid.UUID) error
}

// LeaveStore keeps the tab-leave counter so it survives reconnects.
type LeaveStore interface {
	LeaveCount(ctx context.Context, sessionID uuid.UUID) (int, error)
	SetLeaveCount(ctx context.Context, sessionID uuid.UUID, n int) error
}

// ActivitySink receives fire-and-forget lifecycle events.
type ActivitySink interface {
	Record(ctx context.Context, ev model.ActivityEvent)
}
