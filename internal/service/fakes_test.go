package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/grading"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// ─── Clock ──────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ─── Session store ──────────────────────────────────────────────────

type fakeStore struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*model.TestSession
	answers     map[uuid.UUID][]model.Answer
	completes   int
	completeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]*model.TestSession),
		answers:  make(map[uuid.UUID][]model.Answer),
	}
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.TestSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetOngoing(_ context.Context, userID int, testID uuid.UUID) (*model.TestSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.TestID == testID && s.Status == model.SessionStatusOngoing {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) Create(_ context.Context, s *model.TestSession, maxAttempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	used := 0
	for _, e := range f.sessions {
		if e.UserID != s.UserID || e.TestID != s.TestID {
			continue
		}
		if e.Status == model.SessionStatusOngoing {
			return repository.ErrOngoingExists
		}
		used++
	}
	if maxAttempts > 0 && used >= maxAttempts {
		return repository.ErrAttemptLimit
	}
	s.ID = uuid.New()
	s.Status = model.SessionStatusOngoing
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

// Complete fails on a done context the way a pgx query does.
func (f *fakeStore) Complete(ctx context.Context, c *repository.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.completeErr != nil {
		return f.completeErr
	}
	s, ok := f.sessions[c.SessionID]
	if !ok || s.Status != model.SessionStatusOngoing {
		return repository.ErrNotOngoing
	}
	reason := c.Reason
	end := c.EndTime
	s.Status = model.SessionStatusCompleted
	s.EndTime = &end
	s.Score = c.Score
	s.Percentage = c.Percentage
	s.Passed = c.Passed
	s.Reason = &reason
	s.Breakdown = c.Breakdown
	f.answers[c.SessionID] = c.Answers
	f.completes++
	return nil
}

func (f *fakeStore) Abandon(_ context.Context, id uuid.UUID, reason model.SubmitReason, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != model.SessionStatusOngoing {
		return repository.ErrNotOngoing
	}
	s.Status = model.SessionStatusAbandoned
	s.EndTime = &at
	s.Score = 0
	s.Reason = &reason
	return nil
}

// put stores a session as-is, for seeding history.
func (f *fakeStore) put(s model.TestSession) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.sessions[s.ID] = &s
	return s.ID
}

func (f *fakeStore) completeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completes
}

func (f *fakeStore) setCompleteErr(err error) {
	f.mu.Lock()
	f.completeErr = err
	f.mu.Unlock()
}

// ─── Catalog ────────────────────────────────────────────────────────

type fakeCatalog struct {
	tests map[uuid.UUID]*model.Test
}

func (f *fakeCatalog) GetTest(_ context.Context, id uuid.UUID) (*model.Test, error) {
	t, ok := f.tests[id]
	if !ok {
		return nil, ErrTestNotFound
	}
	return t, nil
}

// ─── Redis-side session state ───────────────────────────────────────

type fakeState struct {
	mu            sync.Mutex
	guards        map[uuid.UUID]bool
	intents       map[uuid.UUID]*model.SubmitIntent
	drafts        map[uuid.UUID]model.AnswerSheet
	leaves        map[uuid.UUID]int
	saveIntentErr error
}

func newFakeState() *fakeState {
	return &fakeState{
		guards:  make(map[uuid.UUID]bool),
		intents: make(map[uuid.UUID]*model.SubmitIntent),
		drafts:  make(map[uuid.UUID]model.AnswerSheet),
		leaves:  make(map[uuid.UUID]int),
	}
}

func (f *fakeState) AcquireGuard(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.guards[id] {
		return false, nil
	}
	f.guards[id] = true
	return true, nil
}

func (f *fakeState) ReleaseGuard(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.guards, id)
	return nil
}

func (f *fakeState) SaveIntent(_ context.Context, in *model.SubmitIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveIntentErr != nil {
		return f.saveIntentErr
	}
	cp := *in
	f.intents[in.SessionID] = &cp
	return nil
}

func (f *fakeState) LoadIntent(_ context.Context, id uuid.UUID) (*model.SubmitIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

func (f *fakeState) ClearIntent(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.intents, id)
	return nil
}

func (f *fakeState) PendingIntents(_ context.Context, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.intents))
	for id := range f.intents {
		if len(ids) == limit {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeState) SaveDraft(_ context.Context, sid, qid uuid.UUID, v model.AnswerValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drafts[sid] == nil {
		f.drafts[sid] = make(model.AnswerSheet)
	}
	f.drafts[sid][qid.String()] = v
	return nil
}

func (f *fakeState) LoadDrafts(_ context.Context, sid uuid.UUID) (model.AnswerSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(model.AnswerSheet, len(f.drafts[sid]))
	for k, v := range f.drafts[sid] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeState) ClearSession(_ context.Context, sid uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, sid)
	delete(f.leaves, sid)
	return nil
}

func (f *fakeState) LeaveCount(_ context.Context, sid uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves[sid], nil
}

func (f *fakeState) SetLeaveCount(_ context.Context, sid uuid.UUID, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves[sid] = n
	return nil
}

func (f *fakeState) hasIntent(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.intents[id]
	return ok
}

func (f *fakeState) guardHeld(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guards[id]
}

// ─── Activity sink ──────────────────────────────────────────────────

type fakeActivity struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (f *fakeActivity) Record(_ context.Context, ev model.ActivityEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeActivity) count(t model.ActivityType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// ─── Grader ─────────────────────────────────────────────────────────

type countingGrader struct {
	engine *grading.Engine
	calls  atomic.Int32
}

func (g *countingGrader) Grade(test *model.Test, answers model.AnswerSheet) grading.Report {
	g.calls.Add(1)
	return g.engine.Grade(test, answers)
}

// ─── Fixture ────────────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	clock       *fakeClock
	store       *fakeStore
	catalog     *fakeCatalog
	state       *fakeState
	activity    *fakeActivity
	grader      *countingGrader
	coordinator *SubmissionCoordinator
	sessions    *SessionService
	test        *model.Test
}

// newTestDefinition builds a 60-minute test with four 1-point questions:
// two "math" single-choice, one "verbal" multi-choice, one "verbal" free-text.
func newTestDefinition() *model.Test {
	return &model.Test{
		ID:            uuid.New(),
		Name:          "Placement",
		MaxAttempts:   0,
		TabLeaveLimit: 3,
		MinimumScore:  60,
		Sections: []model.Section{
			{
				ID: uuid.New(), Title: "Numbers", OrderNum: 1, DurationMinutes: 30,
				Questions: []model.Question{
					{ID: uuid.New(), Type: model.QuestionTypeSingleChoice, Category: "math", Correct: model.Scalar("B"), Points: 1},
					{ID: uuid.New(), Type: model.QuestionTypeSingleChoice, Category: "math", Correct: model.Scalar("D"), Points: 1},
				},
			},
			{
				ID: uuid.New(), Title: "Words", OrderNum: 2, DurationMinutes: 30,
				Questions: []model.Question{
					{ID: uuid.New(), Type: model.QuestionTypeMultiChoice, Category: "verbal", Correct: model.Set("A", "C"), Points: 1},
					{ID: uuid.New(), Type: model.QuestionTypeFreeText, Category: "verbal", Correct: model.Scalar("Jakarta"), Points: 1},
				},
			},
		},
	}
}

// allCorrect returns a sheet answering every question of test correctly.
func allCorrect(test *model.Test) model.AnswerSheet {
	sheet := make(model.AnswerSheet)
	for _, q := range test.Questions() {
		sheet[q.ID.String()] = q.Correct
	}
	return sheet
}

func newFixture() *fixture {
	f := &fixture{
		clock:    &fakeClock{now: t0},
		store:    newFakeStore(),
		state:    newFakeState(),
		activity: &fakeActivity{},
		grader:   &countingGrader{engine: grading.NewEngine()},
		test:     newTestDefinition(),
	}
	f.catalog = &fakeCatalog{tests: map[uuid.UUID]*model.Test{f.test.ID: f.test}}

	log := zerolog.Nop()
	f.coordinator = NewSubmissionCoordinator(f.store, f.catalog, f.state, f.state, f.state, f.activity, f.grader, log)
	f.coordinator.now = f.clock.Now
	f.sessions = NewSessionService(f.store, f.catalog, f.state, f.state, f.state, f.activity, f.coordinator, log)
	f.sessions.now = f.clock.Now
	return f
}
