package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeConn struct {
	in  chan []byte
	out chan interface{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan interface{}, 64)}
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	data, ok := <-c.in
	if !ok {
		return io.EOF
	}
	return json.Unmarshal(data, v)
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.out <- v
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) send(t *testing.T, raw string) {
	t.Helper()
	c.in <- []byte(raw)
}

func (c *fakeConn) next(t *testing.T) interface{} {
	t.Helper()
	select {
	case v := <-c.out:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server message")
		return nil
	}
}

type fakeSubmitter struct {
	mu        sync.Mutex
	inputs    []service.SubmitInput
	errs      []error
	replayRes *model.TerminalResult
	replayErr error
}

func (s *fakeSubmitter) Submit(_ context.Context, in service.SubmitInput) (*model.TerminalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.TerminalResult{
		SessionID:  in.SessionID,
		Status:     model.SessionStatusCompleted,
		Reason:     in.Reason,
		Percentage: 50,
	}, nil
}

func (s *fakeSubmitter) Replay(context.Context, uuid.UUID) (*model.TerminalResult, bool, error) {
	if s.replayRes == nil && s.replayErr == nil {
		return nil, false, nil
	}
	return s.replayRes, true, s.replayErr
}

func (s *fakeSubmitter) reasons() []model.SubmitReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SubmitReason, 0, len(s.inputs))
	for _, in := range s.inputs {
		out = append(out, in.Reason)
	}
	return out
}

type fakeState struct {
	mu     sync.Mutex
	drafts model.AnswerSheet
	leaves int
	events []model.ActivityType
}

func (f *fakeState) SaveDraft(_ context.Context, _, qid uuid.UUID, v model.AnswerValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drafts == nil {
		f.drafts = model.AnswerSheet{}
	}
	f.drafts[qid.String()] = v
	return nil
}

func (f *fakeState) LoadDrafts(context.Context, uuid.UUID) (model.AnswerSheet, error) {
	return f.drafts, nil
}

func (f *fakeState) ClearSession(context.Context, uuid.UUID) error { return nil }

func (f *fakeState) LeaveCount(context.Context, uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves, nil
}

func (f *fakeState) SetLeaveCount(_ context.Context, _ uuid.UUID, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = n
	return nil
}

func (f *fakeState) Record(_ context.Context, ev model.ActivityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev.Type)
}

// ─── Fixture ────────────────────────────────────────────────────────

type runnerFixture struct {
	runner    *SessionRunner
	submitter *fakeSubmitter
	state     *fakeState
	conn      *fakeConn
	sess      *model.TestSession
	test      *model.Test
	qid       uuid.UUID
}

func newRunnerFixture(now time.Time, leaveLimit int) *runnerFixture {
	qid := uuid.New()
	test := &model.Test{
		ID:            uuid.New(),
		Name:          "Tryout",
		TabLeaveLimit: leaveLimit,
		MinimumScore:  60,
		Sections: []model.Section{{
			ID:              uuid.New(),
			DurationMinutes: 30,
			Questions: []model.Question{{
				ID:      qid,
				Type:    model.QuestionTypeSingleChoice,
				Correct: model.Scalar("A"),
				Points:  1,
			}},
		}},
	}
	sess := &model.TestSession{
		ID:        uuid.New(),
		UserID:    7,
		TestID:    test.ID,
		Status:    model.SessionStatusOngoing,
		StartTime: t0,
	}

	sub := &fakeSubmitter{}
	state := &fakeState{}
	r := NewSessionRunner(sub, state, state, state, time.Hour, zerolog.Nop())
	r.now = func() time.Time { return now }

	return &runnerFixture{
		runner:    r,
		submitter: sub,
		state:     state,
		conn:      newFakeConn(),
		sess:      sess,
		test:      test,
		qid:       qid,
	}
}

func (f *runnerFixture) start() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		f.runner.Run(context.Background(), f.conn, f.sess, f.test)
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestRunner_FirstTickReportsRemaining(t *testing.T) {
	f := newRunnerFixture(t0.Add(10*time.Minute+500*time.Millisecond), 3)
	done := f.start()

	tick, ok := f.conn.next(t).(TickResponse)
	require.True(t, ok)
	assert.Equal(t, int64(20*60-1), tick.Remaining)

	close(f.conn.in)
	waitDone(t, done)
	assert.Empty(t, f.submitter.reasons())
}

func TestRunner_ExpiryForcesTimeoutSubmission(t *testing.T) {
	f := newRunnerFixture(t0.Add(2*time.Hour), 3)
	done := f.start()

	tick := f.conn.next(t).(TickResponse)
	assert.Equal(t, int64(0), tick.Remaining)

	ended := f.conn.next(t).(EndedResponse)
	assert.Equal(t, model.SubmitReasonTimeout, ended.Reason)
	assert.False(t, ended.Pending)

	graded := f.conn.next(t).(GradedResponse)
	assert.Equal(t, f.sess.ID, graded.Result.SessionID)

	waitDone(t, done)
	assert.Equal(t, []model.SubmitReason{model.SubmitReasonTimeout}, f.submitter.reasons())
	assert.Equal(t, f.sess.UserID, f.submitter.inputs[0].UserID)
}

func TestRunner_Autosave(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	done := f.start()
	f.conn.next(t) // tick

	f.conn.send(t, `{"action":"autosave","q_id":"`+f.qid.String()+`","answer":"B"}`)
	ack := f.conn.next(t).(AutosaveResponse)
	assert.Equal(t, EventSuccess, ack.Event)
	assert.Equal(t, "saved", ack.Status)
	assert.Equal(t, model.Scalar("B"), f.state.drafts[f.qid.String()])

	f.conn.send(t, `{"action":"autosave","q_id":"`+uuid.NewString()+`","answer":"B"}`)
	rejected := f.conn.next(t).(ErrorResponse)
	assert.Equal(t, "invalid q_id", rejected.Error)

	close(f.conn.in)
	waitDone(t, done)
	assert.Len(t, f.state.drafts, 1)
}

func TestRunner_VisibilityWarningsThenLimit(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 2)
	done := f.start()
	f.conn.next(t) // tick

	f.conn.send(t, `{"action":"visibility","state":"hidden"}`)
	f.conn.send(t, `{"action":"visibility","state":"visible"}`)

	warn := f.conn.next(t).(WarningResponse)
	assert.Equal(t, 1, warn.Leaves)
	assert.Equal(t, 1, warn.RemainingLeaves)

	f.conn.send(t, `{"action":"visibility","state":"hidden"}`)
	ended := f.conn.next(t).(EndedResponse)
	assert.Equal(t, model.SubmitReasonTabLeaveLimit, ended.Reason)
	f.conn.next(t) // graded

	waitDone(t, done)
	assert.Equal(t, 2, f.state.leaves)
	assert.Equal(t, []model.ActivityType{model.ActivityTabLeave, model.ActivityTabLeave}, f.state.events)
	assert.Equal(t, []model.SubmitReason{model.SubmitReasonTabLeaveLimit}, f.submitter.reasons())
}

func TestRunner_RepeatedStateIsIgnored(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 0)
	done := f.start()
	f.conn.next(t) // tick

	f.conn.send(t, `{"action":"visibility","state":"visible"}`)
	f.conn.send(t, `{"action":"visibility","state":"hidden"}`)
	f.conn.send(t, `{"action":"visibility","state":"hidden"}`)
	f.conn.send(t, `{"action":"ping"}`)

	_, isPong := f.conn.next(t).(PongResponse)
	assert.True(t, isPong)

	close(f.conn.in)
	waitDone(t, done)
	assert.Equal(t, 1, f.state.leaves)
}

func TestRunner_InvalidVisibilityState(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	done := f.start()
	f.conn.next(t) // tick

	f.conn.send(t, `{"action":"visibility","state":"minimized"}`)
	errResp := f.conn.next(t).(ErrorResponse)
	assert.Equal(t, EventError, errResp.Event)

	close(f.conn.in)
	waitDone(t, done)
	assert.Equal(t, 0, f.state.leaves)
}

func TestRunner_RestoredLeaveCountAtLimitSubmits(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	f.state.leaves = 3
	done := f.start()

	ended := f.conn.next(t).(EndedResponse)
	assert.Equal(t, model.SubmitReasonTabLeaveLimit, ended.Reason)
	waitDone(t, done)
	assert.Equal(t, []model.SubmitReason{model.SubmitReasonTabLeaveLimit}, f.submitter.reasons())
}

func TestRunner_ManualSubmitRetryable(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	f.submitter.errs = []error{service.ErrSubmitFailed, nil}
	done := f.start()
	f.conn.next(t) // tick

	f.conn.send(t, `{"action":"submit","answers":{"`+f.qid.String()+`":"A"}}`)
	retry := f.conn.next(t).(ErrorResponse)
	assert.True(t, retry.Retryable)

	f.conn.send(t, `{"action":"submit","answers":{"`+f.qid.String()+`":"A"}}`)
	graded := f.conn.next(t).(GradedResponse)
	assert.Equal(t, model.SubmitReasonManual, graded.Result.Reason)

	waitDone(t, done)
	require.Len(t, f.submitter.inputs, 2)
	assert.Equal(t, f.sess.UserID, f.submitter.inputs[1].UserID)
	assert.Equal(t, model.Scalar("A"), f.submitter.inputs[1].Answers[f.qid.String()])
}

func TestRunner_ManualSubmitPendingEndsSession(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	f.submitter.errs = []error{service.ErrSubmitPending}
	done := f.start()
	f.conn.next(t) // tick

	f.conn.send(t, `{"action":"submit","answers":{}}`)
	ended := f.conn.next(t).(EndedResponse)
	assert.True(t, ended.Pending)
	assert.Equal(t, model.SubmitReasonManual, ended.Reason)

	waitDone(t, done)
	assert.Equal(t, []model.SubmitReason{model.SubmitReasonManual}, f.submitter.reasons())
}

func TestRunner_ForcedSubmitPendingStillEnds(t *testing.T) {
	f := newRunnerFixture(t0.Add(2*time.Hour), 3)
	f.submitter.errs = []error{service.ErrSubmitPending}
	done := f.start()
	f.conn.next(t) // tick

	ended := f.conn.next(t).(EndedResponse)
	assert.True(t, ended.Pending)
	assert.Equal(t, model.SubmitReasonTimeout, ended.Reason)
	waitDone(t, done)
}

func TestRunner_ReplaysIntentOnConnect(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	f.submitter.replayRes = &model.TerminalResult{
		SessionID: f.sess.ID,
		Status:    model.SessionStatusCompleted,
		Reason:    model.SubmitReasonTabLeaveLimit,
	}
	done := f.start()

	ended := f.conn.next(t).(EndedResponse)
	assert.Equal(t, model.SubmitReasonTabLeaveLimit, ended.Reason)
	_, isGraded := f.conn.next(t).(GradedResponse)
	assert.True(t, isGraded)

	waitDone(t, done)
	assert.Empty(t, f.submitter.reasons())
}

func TestRunner_FailedReplayEndsSessionPending(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	f.submitter.replayErr = errors.Join(service.ErrSubmitPending, errors.New("db down"))
	done := f.start()

	ended := f.conn.next(t).(EndedResponse)
	assert.True(t, ended.Pending)
	waitDone(t, done)
	assert.Empty(t, f.submitter.reasons())
}

func TestRunner_UnknownAction(t *testing.T) {
	f := newRunnerFixture(t0.Add(time.Minute), 3)
	done := f.start()
	f.conn.next(t) // tick

	f.conn.send(t, `{"action":"teleport"}`)
	errResp := f.conn.next(t).(ErrorResponse)
	assert.Contains(t, errResp.Error, "teleport")

	close(f.conn.in)
	waitDone(t, done)
}
