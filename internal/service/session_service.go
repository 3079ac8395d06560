package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/timer"
)

// SessionService is the participant-facing session lifecycle: the attempt
// governor, remaining-time lookups, results and administrative abandonment.
type SessionService struct {
	sessions    SessionStore
	catalog     TestCatalog
	leaves      LeaveStore
	intents     IntentStore
	drafts      DraftStore
	activity    ActivitySink
	coordinator *SubmissionCoordinator
	now         func() time.Time
	log         zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions SessionStore,
	catalog TestCatalog,
	leaves LeaveStore,
	intents IntentStore,
	drafts DraftStore,
	activity ActivitySink,
	coordinator *SubmissionCoordinator,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:    sessions,
		catalog:     catalog,
		leaves:      leaves,
		intents:     intents,
		drafts:      drafts,
		activity:    activity,
		coordinator: coordinator,
		now:         time.Now,
		log:         log.With().Str("component", "session_service").Logger(),
	}
}

// StartOrResume returns the participant's ONGOING session for the test, or
// creates one when the access window is open and attempts remain. Resuming
// never resets the timer. If the ONGOING session carries a pending submission
// or its time is already up, it is submitted and the view carries the result.
func (s *SessionService) StartOrResume(ctx context.Context, userID int, testID uuid.UUID) (*model.SessionView, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	test, err := s.catalog.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !test.WindowOpen(now) {
		return nil, ErrOutOfWindow
	}

	ongoing, err := s.sessions.GetOngoing(ctx, userID, testID)
	if err == nil {
		return s.resume(ctx, test, ongoing, now)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get ongoing session: %w", err)
	}

	sess := &model.TestSession{
		UserID:    userID,
		TestID:    testID,
		Status:    model.SessionStatusOngoing,
		StartTime: now,
		MaxScore:  test.MaxScore(),
	}
	switch err := s.sessions.Create(ctx, sess, test.MaxAttempts); {
	case errors.Is(err, repository.ErrAttemptLimit):
		return nil, ErrAttemptLimitExceeded
	case errors.Is(err, repository.ErrOngoingExists):
		// A concurrent start won the insert; resume its session.
		ongoing, err := s.sessions.GetOngoing(ctx, userID, testID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
		return s.resume(ctx, test, ongoing, now)
	case err != nil:
		return nil, fmt.Errorf("create session: %w", err)
	}

	log := logger.ForSession(s.log, sess.ID.String(), userID, testID.String())
	log.Info().Msg("Session started")

	s.activity.Record(ctx, model.ActivityEvent{
		SessionID:  sess.ID,
		UserID:     userID,
		TestID:     testID,
		Type:       model.ActivitySessionStarted,
		OccurredAt: now,
	})

	return s.view(test, sess, now, 0, false), nil
}

func (s *SessionService) resume(ctx context.Context, test *model.Test, sess *model.TestSession, now time.Time) (*model.SessionView, error) {
	log := logger.ForSession(s.log, sess.ID.String(), sess.UserID, sess.TestID.String())

	res, replayed, err := s.coordinator.Replay(ctx, sess.ID)
	switch {
	case replayed && err == nil:
		return ended(sess, res), nil
	case replayed:
		log.Warn().Err(err).Msg("Replayed submission not confirmed")
		return nil, ErrSessionEnded
	case err != nil:
		log.Warn().Err(err).Msg("Could not check submit intent")
	}

	leaves, err := s.leaves.LeaveCount(ctx, sess.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Leave counter unavailable, assuming 0")
	}

	// A session whose time ran out or whose leave allowance was used up while
	// no client was connected ends here instead of resuming.
	var forced model.SubmitReason
	switch {
	case timer.Expired(test.DurationMinutes(), sess.StartTime, now):
		forced = model.SubmitReasonTimeout
	case test.TabLeaveLimit > 0 && leaves >= test.TabLeaveLimit:
		forced = model.SubmitReasonTabLeaveLimit
	}
	if forced != "" {
		res, err := s.coordinator.Submit(ctx, SubmitInput{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Reason:    forced,
		})
		if err != nil {
			if errors.Is(err, ErrAlreadySubmitted) || errors.Is(err, ErrSubmitPending) {
				return nil, ErrSessionEnded
			}
			return nil, err
		}
		return ended(sess, res), nil
	}

	log.Info().Msg("Session resumed")
	s.activity.Record(ctx, model.ActivityEvent{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		TestID:     sess.TestID,
		Type:       model.ActivitySessionResumed,
		OccurredAt: now,
	})

	return s.view(test, sess, now, leaves, true), nil
}

func (s *SessionService) view(test *model.Test, sess *model.TestSession, now time.Time, leaves int, resumed bool) *model.SessionView {
	paper := test.Paper()
	return &model.SessionView{
		Session:          *sess,
		RemainingSeconds: timer.Remaining(test.DurationMinutes(), sess.StartTime, now),
		Resumed:          resumed,
		TabLeaveLimit:    test.TabLeaveLimit,
		LeaveCount:       leaves,
		Paper:            &paper,
	}
}

// ended builds the view of a session that terminated during load.
func ended(sess *model.TestSession, res *model.TerminalResult) *model.SessionView {
	s := *sess
	s.Status = res.Status
	end := res.EndTime
	s.EndTime = &end
	s.Score = res.Score
	s.Percentage = res.Percentage
	s.Passed = res.Passed
	reason := res.Reason
	s.Reason = &reason
	s.Breakdown = res.Breakdown
	return &model.SessionView{Session: s, Resumed: true, Result: res}
}

// GetRemainingTime derives the seconds left for a session. Terminal sessions
// have none.
func (s *SessionService) GetRemainingTime(ctx context.Context, userID int, sessionID uuid.UUID) (int64, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}
	if sess.Status.Terminal() {
		return 0, nil
	}
	test, err := s.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return 0, err
	}
	return timer.Remaining(test.DurationMinutes(), sess.StartTime, s.now()), nil
}

// Attach loads an ONGOING session and its test for a live stream.
func (s *SessionService) Attach(ctx context.Context, userID int, sessionID uuid.UUID) (*model.TestSession, *model.Test, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status.Terminal() {
		return nil, nil, ErrSessionEnded
	}
	test, err := s.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return nil, nil, err
	}
	return sess, test, nil
}

// Submit is the manual submission entry point.
func (s *SessionService) Submit(ctx context.Context, userID int, sessionID uuid.UUID, answers model.AnswerSheet) (*model.TerminalResult, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}
	return s.coordinator.Submit(ctx, SubmitInput{
		SessionID: sessionID,
		UserID:    userID,
		Answers:   answers,
		Reason:    model.SubmitReasonManual,
	})
}

// Result returns the terminal result of a participant's session.
func (s *SessionService) Result(ctx context.Context, userID int, sessionID uuid.UUID) (*model.TerminalResult, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Terminal() {
		return nil, ErrSessionOngoing
	}
	return resultOf(sess, false), nil
}

// Abandon closes an ONGOING session without grading. It is the out-of-band
// reconciliation for sessions whose submission can never be confirmed.
func (s *SessionService) Abandon(ctx context.Context, sessionID uuid.UUID) (*model.TerminalResult, error) {
	sess, err := s.owned(ctx, 0, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return resultOf(sess, true), nil
	}

	now := s.now()
	if err := s.sessions.Abandon(ctx, sessionID, model.SubmitReasonAdmin, now); err != nil {
		if errors.Is(err, repository.ErrNotOngoing) {
			latest, getErr := s.sessions.GetByID(ctx, sessionID)
			if getErr != nil {
				return nil, fmt.Errorf("reload session: %w", getErr)
			}
			return resultOf(latest, true), nil
		}
		return nil, fmt.Errorf("abandon session: %w", err)
	}

	log := logger.ForSession(s.log, sessionID.String(), sess.UserID, sess.TestID.String())
	if err := s.intents.ClearIntent(ctx, sessionID); err != nil {
		log.Warn().Err(err).Msg("Failed to clear intent of abandoned session")
	}
	if err := s.drafts.ClearSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Msg("Failed to clear drafts of abandoned session")
	}
	log.Info().Msg("Session abandoned")

	s.activity.Record(ctx, model.ActivityEvent{
		SessionID:  sessionID,
		UserID:     sess.UserID,
		TestID:     sess.TestID,
		Type:       model.ActivitySessionAbandoned,
		OccurredAt: now,
	})

	reason := model.SubmitReasonAdmin
	sess.Status = model.SessionStatusAbandoned
	sess.EndTime = &now
	sess.Score = 0
	sess.Percentage = 0
	sess.Passed = false
	sess.Reason = &reason
	sess.Breakdown = nil
	return resultOf(sess, false), nil
}

// owned loads a session and checks it belongs to userID (0 skips the check).
func (s *SessionService) owned(ctx context.Context, userID int, sessionID uuid.UUID) (*model.TestSession, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if userID != 0 && sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
