package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/grading"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// Grader scores an answer sheet. It is satisfied by grading.Engine.
type Grader interface {
	Grade(test *model.Test, answers model.AnswerSheet) grading.Report
}

// SubmitInput is one submission trigger.
type SubmitInput struct {
	SessionID uuid.UUID
	// UserID is the caller's identity; 0 means a system caller (worker, replay)
	// and skips the ownership check.
	UserID  int
	Answers model.AnswerSheet
	Reason  model.SubmitReason

	// fromIntent marks a replay: the answers were captured when the intent
	// was written and are not merged with the current drafts.
	fromIntent bool
}

// submitTimeout bounds the detached part of a submission.
const submitTimeout = 30 * time.Second

// SubmissionCoordinator is the only path from ONGOING to COMPLETED. Manual,
// timeout and tab-leave submissions all go through Submit.
//
// At most one submission per session proceeds: an in-process guard is taken
// synchronously, then a Redis guard shared by every server process, and the
// terminal UPDATE is conditional on status = 'ONGOING'. The intent is written
// before the terminal write and cleared after it.
type SubmissionCoordinator struct {
	sessions SessionStore
	catalog  TestCatalog
	guard    SubmitGuard
	intents  IntentStore
	drafts   DraftStore
	activity ActivitySink
	grader   Grader
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// NewSubmissionCoordinator creates a new SubmissionCoordinator.
func NewSubmissionCoordinator(
	sessions SessionStore,
	catalog TestCatalog,
	guard SubmitGuard,
	intents IntentStore,
	drafts DraftStore,
	activity ActivitySink,
	grader Grader,
	log zerolog.Logger,
) *SubmissionCoordinator {
	return &SubmissionCoordinator{
		sessions: sessions,
		catalog:  catalog,
		guard:    guard,
		intents:  intents,
		drafts:   drafts,
		activity: activity,
		grader:   grader,
		now:      time.Now,
		log:      log.With().Str("component", "submission_coordinator").Logger(),
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Submit grades and persists a session exactly once. A session that is
// already terminal yields its stored result with AlreadySubmitted set. A
// trigger that loses the race to an in-flight submission gets
// ErrAlreadySubmitted.
//
// Once the guard is taken the work runs detached from ctx, bounded by
// submitTimeout, so a caller that goes away does not abort the write.
//
// A failed manual submission returns ErrSubmitFailed and leaves the session
// ONGOING with no intent. Forced submissions, replays and manual submissions
// whose caller has gone away return ErrSubmitPending and keep the intent.
func (c *SubmissionCoordinator) Submit(ctx context.Context, in SubmitInput) (*model.TerminalResult, error) {
	if !in.Reason.Valid() {
		return nil, ErrInvalidReason
	}

	sess, err := c.loadSession(ctx, in.SessionID, in.UserID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return resultOf(sess, true), nil
	}

	if !c.enter(sess.ID) {
		return nil, ErrAlreadySubmitted
	}
	defer c.exit(sess.ID)

	keep := in.Reason.Forced() || in.fromIntent
	caller := ctx
	ctx, cancel := context.WithTimeout(context.WithoutCancel(caller), submitTimeout)
	defer cancel()

	log := c.log.With().
		Str("session_id", sess.ID.String()).
		Int("user_id", sess.UserID).
		Str("reason", string(in.Reason)).
		Logger()

	held, err := c.guard.AcquireGuard(ctx, sess.ID)
	switch {
	case err != nil:
		// The conditional terminal write still admits only one winner.
		log.Warn().Err(err).Msg("Submit guard unavailable, relying on conditional write")
	case !held:
		return nil, ErrAlreadySubmitted
	}

	intent := &model.SubmitIntent{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		TestID:    sess.TestID,
		Answers:   c.collectAnswers(ctx, log, in),
		Reason:    in.Reason,
		CreatedAt: c.now(),
	}
	if err := c.intents.SaveIntent(ctx, intent); err != nil {
		if !keep {
			c.releaseGuard(ctx, sess.ID, held)
			return nil, fmt.Errorf("%w: save intent: %w", ErrSubmitFailed, err)
		}
		log.Warn().Err(err).Msg("Failed to save submit intent, continuing forced submission")
	}

	test, err := c.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return nil, c.abort(ctx, caller, log, sess.ID, keep, held, fmt.Errorf("load test: %w", err))
	}

	return c.finalize(ctx, caller, log, sess, test, intent, keep, held)
}

// Replay re-issues a pending intent for a session. replayed is false when the
// session has no intent.
func (c *SubmissionCoordinator) Replay(ctx context.Context, sessionID uuid.UUID) (res *model.TerminalResult, replayed bool, err error) {
	intent, err := c.intents.LoadIntent(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("load intent: %w", err)
	}
	if intent == nil {
		return nil, false, nil
	}

	c.log.Info().
		Str("session_id", sessionID.String()).
		Str("reason", string(intent.Reason)).
		Time("intent_created_at", intent.CreatedAt).
		Msg("Replaying submit intent")

	res, err = c.Submit(ctx, SubmitInput{
		SessionID:  intent.SessionID,
		Answers:    intent.Answers,
		Reason:     intent.Reason,
		fromIntent: true,
	})
	if errors.Is(err, ErrSessionNotFound) {
		_ = c.intents.ClearIntent(ctx, sessionID)
	}
	if err == nil && res.AlreadySubmitted {
		_ = c.intents.ClearIntent(ctx, sessionID)
	}
	return res, true, err
}

// ReplayPending replays up to limit pending intents and returns how many
// reached a terminal state.
func (c *SubmissionCoordinator) ReplayPending(ctx context.Context, limit int) (int, error) {
	ids, err := c.intents.PendingIntents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending intents: %w", err)
	}

	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		_, replayed, err := c.Replay(ctx, id)
		if err != nil {
			c.log.Warn().Err(err).Str("session_id", id.String()).Msg("Intent replay failed")
			continue
		}
		if !replayed {
			// Set member without a record: the intent expired or was cleared
			// between the two reads.
			_ = c.intents.ClearIntent(ctx, id)
			continue
		}
		done++
	}
	return done, nil
}

func (c *SubmissionCoordinator) finalize(
	ctx, caller context.Context,
	log zerolog.Logger,
	sess *model.TestSession,
	test *model.Test,
	intent *model.SubmitIntent,
	keep, held bool,
) (*model.TerminalResult, error) {
	report := c.grader.Grade(test, intent.Answers)
	completion := buildCompletion(sess.ID, intent.Reason, c.now(), report)

	err := c.sessions.Complete(ctx, completion)
	switch {
	case errors.Is(err, repository.ErrNotOngoing):
		_ = c.intents.ClearIntent(ctx, sess.ID)
		latest, getErr := c.sessions.GetByID(ctx, sess.ID)
		if getErr != nil {
			return nil, fmt.Errorf("%w: reload session: %w", ErrAlreadySubmitted, getErr)
		}
		log.Info().Str("status", string(latest.Status)).Msg("Session already terminal at write time")
		return resultOf(latest, true), nil

	case err != nil:
		log.Error().Err(err).Msg("Terminal write failed")
		return nil, c.abort(ctx, caller, log, sess.ID, keep, held, err)
	}

	if err := c.intents.ClearIntent(ctx, sess.ID); err != nil {
		// A stale intent is harmless: its replay finds the session terminal.
		log.Warn().Err(err).Msg("Failed to clear submit intent")
	}
	if err := c.drafts.ClearSession(ctx, sess.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to clear session drafts")
	}

	c.activity.Record(ctx, model.ActivityEvent{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		TestID:    sess.TestID,
		Type:      model.ActivitySessionSubmitted,
		Detail: map[string]string{
			"reason":     string(intent.Reason),
			"percentage": strconv.Itoa(report.Percentage),
		},
		OccurredAt: completion.EndTime,
	})

	log.Info().
		Float64("score", report.Score).
		Float64("max_score", report.MaxScore).
		Int("percentage", report.Percentage).
		Bool("passed", report.Passed).
		Msg("Session submitted and graded")

	return &model.TerminalResult{
		SessionID:  sess.ID,
		Status:     model.SessionStatusCompleted,
		Reason:     intent.Reason,
		Score:      report.Score,
		MaxScore:   report.MaxScore,
		Percentage: report.Percentage,
		Passed:     report.Passed,
		Breakdown:  report.Categories,
		EndTime:    completion.EndTime,
	}, nil
}

// collectAnswers merges the autosaved drafts with the answers carried by the
// trigger; the trigger wins per question.
func (c *SubmissionCoordinator) collectAnswers(ctx context.Context, log zerolog.Logger, in SubmitInput) model.AnswerSheet {
	if in.fromIntent {
		return in.Answers
	}

	sheet, err := c.drafts.LoadDrafts(ctx, in.SessionID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load drafts, using submitted answers only")
	}
	if sheet == nil {
		sheet = make(model.AnswerSheet, len(in.Answers))
	}
	for qid, v := range in.Answers {
		sheet[qid] = v
	}
	return sheet
}

func (c *SubmissionCoordinator) loadSession(ctx context.Context, id uuid.UUID, userID int) (*model.TestSession, error) {
	sess, err := c.sessions.GetByID(ctx, id)
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

// abort undoes a submission that could not complete. The intent survives when
// keep is set or the caller has gone away; otherwise it is cleared and the
// participant may retry.
func (c *SubmissionCoordinator) abort(
	ctx, caller context.Context,
	log zerolog.Logger,
	id uuid.UUID,
	keep, held bool,
	cause error,
) error {
	c.releaseGuard(ctx, id, held)
	if keep || caller.Err() != nil {
		return fmt.Errorf("%w: %w", ErrSubmitPending, cause)
	}
	if err := c.intents.ClearIntent(ctx, id); err != nil {
		log.Warn().Err(err).Msg("Failed to clear intent of failed manual submission")
	}
	return fmt.Errorf("%w: %w", ErrSubmitFailed, cause)
}

func (c *SubmissionCoordinator) releaseGuard(ctx context.Context, id uuid.UUID, held bool) {
	if !held {
		return
	}
	if err := c.guard.ReleaseGuard(ctx, id); err != nil {
		c.log.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to release submit guard")
	}
}

func (c *SubmissionCoordinator) enter(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *SubmissionCoordinator) exit(id uuid.UUID) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func buildCompletion(sessionID uuid.UUID, reason model.SubmitReason, end time.Time, report grading.Report) *repository.Completion {
	answers := make([]model.Answer, 0, len(report.Questions))
	for _, q := range report.Questions {
		if !q.Answered {
			continue
		}
		answers = append(answers, model.Answer{
			SessionID:    sessionID,
			QuestionID:   q.QuestionID,
			Value:        q.Value,
			IsCorrect:    q.Correct,
			PointsEarned: q.Points,
			AnsweredAt:   end,
		})
	}
	return &repository.Completion{
		SessionID:  sessionID,
		Reason:     reason,
		EndTime:    end,
		Score:      report.Score,
		Percentage: report.Percentage,
		Passed:     report.Passed,
		Breakdown:  report.Categories,
		Answers:    answers,
	}
}

// resultOf builds the terminal result stored on a session row.
func resultOf(s *model.TestSession, already bool) *model.TerminalResult {
	res := &model.TerminalResult{
		SessionID:        s.ID,
		Status:           s.Status,
		Score:            s.Score,
		MaxScore:         s.MaxScore,
		Percentage:       s.Percentage,
		Passed:           s.Passed,
		Breakdown:        s.Breakdown,
		AlreadySubmitted: already,
	}
	if s.Reason != nil {
		res.Reason = *s.Reason
	}
	if s.EndTime != nil {
		res.EndTime = *s.EndTime
	}
	if res.Breakdown == nil {
		res.Breakdown = []model.CategoryScore{}
	}
	return res
}
