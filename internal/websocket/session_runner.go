package websocket

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/monitor"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/timer"
)

// forcedSubmitTimeout bounds a forced submission. It runs detached from the
// connection so a disconnect cannot cancel it.
const forcedSubmitTimeout = 30 * time.Second

// Submitter is the submission coordinator as seen by the runner.
type Submitter interface {
	Submit(ctx context.Context, in service.SubmitInput) (*model.TerminalResult, error)
	Replay(ctx context.Context, sessionID uuid.UUID) (*model.TerminalResult, bool, error)
}

// SessionRunner drives one connected session: it pushes the remaining time on
// every tick, stores autosaves, feeds visibility events into the leave
// monitor and triggers submission on timeout, leave-limit or request. All
// session state is owned by the single loop in Run.
type SessionRunner struct {
	submitter Submitter
	drafts    service.DraftStore
	leaves    service.LeaveStore
	activity  service.ActivitySink
	tick      time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewSessionRunner creates a new SessionRunner.
func NewSessionRunner(
	submitter Submitter,
	drafts service.DraftStore,
	leaves service.LeaveStore,
	activity service.ActivitySink,
	tick time.Duration,
	log zerolog.Logger,
) *SessionRunner {
	if tick <= 0 {
		tick = time.Second
	}
	return &SessionRunner{
		submitter: submitter,
		drafts:    drafts,
		leaves:    leaves,
		activity:  activity,
		tick:      tick,
		now:       time.Now,
		log:       log.With().Str("component", "session_runner").Logger(),
	}
}

// run is the per-connection state.
type run struct {
	*SessionRunner
	conn      Conn
	sess      *model.TestSession
	test      *model.Test
	questions map[string]struct{}
	countdown *timer.Countdown
	vis       *monitor.Visibility
	log       zerolog.Logger
}

// Run serves conn until the session ends, the client disconnects or ctx is
// cancelled. sess must be ONGOING and test must be its definition.
func (r *SessionRunner) Run(ctx context.Context, conn Conn, sess *model.TestSession, test *model.Test) {
	rn := &run{
		SessionRunner: r,
		conn:          conn,
		sess:          sess,
		test:          test,
		questions:     make(map[string]struct{}),
		countdown:     timer.NewCountdown(test.DurationMinutes(), sess.StartTime),
		log:           logger.ForSession(r.log, sess.ID.String(), sess.UserID, sess.TestID.String()),
	}
	for _, q := range test.Questions() {
		rn.questions[q.ID.String()] = struct{}{}
	}

	// A submission left in flight by a previous connection is re-issued
	// before the participant gets the session back.
	res, replayed, err := r.submitter.Replay(ctx, sess.ID)
	if replayed {
		rn.finish(res, err, model.SubmitReasonTimeout)
		return
	}
	if err != nil && !replayed {
		rn.log.Warn().Err(err).Msg("Could not check submit intent")
	}

	leaves, err := r.leaves.LeaveCount(ctx, sess.ID)
	if err != nil {
		rn.log.Warn().Err(err).Msg("Leave counter unavailable, assuming 0")
	}
	rn.vis = monitor.NewVisibility(test.TabLeaveLimit, leaves)
	if rn.vis.Tripped() {
		rn.forceSubmit(ctx, model.SubmitReasonTabLeaveLimit)
		return
	}

	rn.log.Info().Int("leaves", leaves).Msg("Session stream attached")
	rn.loop(ctx)
}

func (rn *run) loop(ctx context.Context) {
	msgs := make(chan RequestPayload)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var msg RequestPayload
			if err := ReadJSON(rn.conn, &msg); err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(rn.tick)
	defer ticker.Stop()

	if rn.onTick(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			rn.log.Debug().Err(err).Msg("Session stream closed")
			return

		case <-ticker.C:
			if rn.onTick(ctx) {
				return
			}

		case msg := <-msgs:
			if rn.onMessage(ctx, &msg) {
				return
			}
		}
	}
}

// onTick pushes the remaining time and reports whether the session ended.
func (rn *run) onTick(ctx context.Context) bool {
	remaining, expire := rn.countdown.Tick(rn.now())
	if err := WriteTyped(rn.conn, TickResponse{Event: EventTick, Remaining: remaining}); err != nil {
		rn.log.Debug().Err(err).Msg("Tick write failed")
	}
	if expire {
		rn.log.Info().Msg("Time is up, forcing submission")
		rn.forceSubmit(ctx, model.SubmitReasonTimeout)
		return true
	}
	return false
}

// onMessage handles one client action and reports whether the session ended.
func (rn *run) onMessage(ctx context.Context, msg *RequestPayload) bool {
	switch msg.Action {
	case ActionAutosave:
		rn.handleAutosave(ctx, msg)
	case ActionVisibility:
		return rn.handleVisibility(ctx, msg.State)
	case ActionSubmit:
		return rn.handleSubmit(ctx, msg.Answers)
	case ActionPing:
		WriteTyped(rn.conn, PongResponse{Event: EventPong})
	default:
		rn.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		WriteError(rn.conn, "unknown action: "+string(msg.Action))
	}
	return false
}

func (rn *run) handleAutosave(ctx context.Context, msg *RequestPayload) {
	// SECURITY: only IDs of this test's questions reach the draft hash.
	if _, ok := rn.questions[msg.QID]; !ok {
		WriteError(rn.conn, "invalid q_id")
		return
	}
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		WriteError(rn.conn, "invalid q_id format")
		return
	}

	if err := rn.drafts.SaveDraft(ctx, rn.sess.ID, qid, msg.Answer); err != nil {
		rn.log.Error().Err(err).Str("question_id", msg.QID).Msg("Autosave failed")
		WriteError(rn.conn, "save failed")
		return
	}
	WriteTyped(rn.conn, AutosaveResponse{Event: EventSuccess, Status: "saved", QID: msg.QID})
}

func (rn *run) handleVisibility(ctx context.Context, state monitor.State) bool {
	if !state.Valid() {
		WriteError(rn.conn, "state must be hidden or visible")
		return false
	}

	out := rn.vis.Apply(state)
	switch out.Signal {
	case monitor.SignalLeave, monitor.SignalLimitReached:
		if err := rn.leaves.SetLeaveCount(ctx, rn.sess.ID, out.Leaves); err != nil {
			rn.log.Warn().Err(err).Msg("Failed to persist leave counter")
		}
		rn.activity.Record(ctx, model.ActivityEvent{
			SessionID: rn.sess.ID,
			UserID:    rn.sess.UserID,
			TestID:    rn.sess.TestID,
			Type:      model.ActivityTabLeave,
			Detail:    map[string]string{"leaves": strconv.Itoa(out.Leaves)},
		})
		if out.Signal == monitor.SignalLimitReached {
			rn.log.Info().Int("leaves", out.Leaves).Msg("Leave limit reached, forcing submission")
			rn.forceSubmit(ctx, model.SubmitReasonTabLeaveLimit)
			return true
		}

	case monitor.SignalWarning:
		WriteTyped(rn.conn, WarningResponse{
			Event:           EventWarning,
			Leaves:          out.Leaves,
			RemainingLeaves: out.Remaining,
		})
	}
	return false
}

func (rn *run) handleSubmit(ctx context.Context, answers model.AnswerSheet) bool {
	res, err := rn.submitter.Submit(ctx, service.SubmitInput{
		SessionID: rn.sess.ID,
		UserID:    rn.sess.UserID,
		Answers:   answers,
		Reason:    model.SubmitReasonManual,
	})
	switch {
	case err == nil:
		WriteTyped(rn.conn, GradedResponse{Event: EventGraded, Result: res})
		return true
	case errors.Is(err, service.ErrAlreadySubmitted):
		WriteTyped(rn.conn, EndedResponse{Event: EventEnded, Reason: model.SubmitReasonManual, Pending: true})
		return true
	case errors.Is(err, service.ErrSubmitPending):
		// The intent is kept and replayed on the next load.
		rn.log.Warn().Err(err).Msg("Manual submission left pending")
		WriteTyped(rn.conn, EndedResponse{Event: EventEnded, Reason: model.SubmitReasonManual, Pending: true})
		return true
	case errors.Is(err, service.ErrSubmitFailed):
		rn.log.Warn().Err(err).Msg("Manual submission failed")
		WriteTyped(rn.conn, ErrorResponse{Event: EventError, Error: "submission failed, please retry", Retryable: true})
		return false
	default:
		rn.log.Error().Err(err).Msg("Manual submission error")
		WriteError(rn.conn, "submission failed")
		return false
	}
}

// forceSubmit runs a forced submission to completion even if the client has
// gone away, then tells the participant the test ended.
func (rn *run) forceSubmit(ctx context.Context, reason model.SubmitReason) {
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forcedSubmitTimeout)
	defer cancel()

	res, err := rn.submitter.Submit(subCtx, service.SubmitInput{
		SessionID: rn.sess.ID,
		UserID:    rn.sess.UserID,
		Reason:    reason,
	})
	rn.finish(res, err, reason)
}

// finish reports a terminal outcome. Forced submission errors never reach the
// participant as errors; they see the test ended.
func (rn *run) finish(res *model.TerminalResult, err error, reason model.SubmitReason) {
	if err != nil || res == nil {
		if err != nil && !errors.Is(err, service.ErrAlreadySubmitted) {
			rn.log.Warn().Err(err).Str("reason", string(reason)).Msg("Submission not confirmed, intent kept for replay")
		}
		WriteTyped(rn.conn, EndedResponse{Event: EventEnded, Reason: reason, Pending: true})
		return
	}
	if res.Reason != "" {
		reason = res.Reason
	}
	WriteTyped(rn.conn, EndedResponse{Event: EventEnded, Reason: reason})
	WriteTyped(rn.conn, GradedResponse{Event: EventGraded, Result: res})
}
