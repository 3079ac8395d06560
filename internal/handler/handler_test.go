package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

// envelope mirrors response.Response with a raw data field.
type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func withClaims(typ service.TokenType, userID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: typ, UserID: userID})
		c.Next()
	}
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeLifecycle struct {
	view      *model.SessionView
	result    *model.TerminalResult
	remaining int64
	err       error

	gotUser    int
	gotSession uuid.UUID
	gotAnswers model.AnswerSheet
}

func (f *fakeLifecycle) StartOrResume(_ context.Context, userID int, _ uuid.UUID) (*model.SessionView, error) {
	f.gotUser = userID
	return f.view, f.err
}

func (f *fakeLifecycle) GetRemainingTime(_ context.Context, userID int, sid uuid.UUID) (int64, error) {
	f.gotUser, f.gotSession = userID, sid
	return f.remaining, f.err
}

func (f *fakeLifecycle) Submit(_ context.Context, userID int, sid uuid.UUID, answers model.AnswerSheet) (*model.TerminalResult, error) {
	f.gotUser, f.gotSession, f.gotAnswers = userID, sid, answers
	return f.result, f.err
}

func (f *fakeLifecycle) Result(_ context.Context, userID int, sid uuid.UUID) (*model.TerminalResult, error) {
	f.gotUser, f.gotSession = userID, sid
	return f.result, f.err
}

func (f *fakeLifecycle) Abandon(_ context.Context, sid uuid.UUID) (*model.TerminalResult, error) {
	f.gotSession = sid
	return f.result, f.err
}

func completedResult(sid uuid.UUID) *model.TerminalResult {
	return &model.TerminalResult{
		SessionID:  sid,
		Status:     model.SessionStatusCompleted,
		Reason:     model.SubmitReasonManual,
		Score:      3,
		MaxScore:   4,
		Percentage: 75,
		Passed:     true,
		Breakdown:  []model.CategoryScore{},
		EndTime:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}
