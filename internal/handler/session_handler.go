package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// SessionLifecycle is the session service as seen by HTTP. It is satisfied by
// service.SessionService.
type SessionLifecycle interface {
	StartOrResume(ctx context.Context, userID int, testID uuid.UUID) (*model.SessionView, error)
	GetRemainingTime(ctx context.Context, userID int, sessionID uuid.UUID) (int64, error)
	Submit(ctx context.Context, userID int, sessionID uuid.UUID, answers model.AnswerSheet) (*model.TerminalResult, error)
	Result(ctx context.Context, userID int, sessionID uuid.UUID) (*model.TerminalResult, error)
	Abandon(ctx context.Context, sessionID uuid.UUID) (*model.TerminalResult, error)
}

// SessionHandler serves the participant session endpoints and the admin
// abandon action.
type SessionHandler struct {
	sessions SessionLifecycle
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionLifecycle, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/participant/tests/:test_id/session
// Returns the participant's ONGOING session, creating one if allowed.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, ok := validator.ParamUUID(c, "test_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	view, err := h.sessions.StartOrResume(c.Request.Context(), claims.UserID, testID)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, view)
}

// GetRemaining godoc
// GET /api/v1/participant/sessions/:session_id/remaining
func (h *SessionHandler) GetRemaining(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := validator.ParamUUID(c, "session_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	remaining, err := h.sessions.GetRemainingTime(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"session_id":        sessionID,
		"remaining_seconds": remaining,
	})
}

// Submit godoc
// POST /api/v1/participant/sessions/:session_id/submit
// Manual submission. Answers in the body override autosaved drafts.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := validator.ParamUUID(c, "session_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := h.sessions.Submit(c.Request.Context(), claims.UserID, sessionID, req.Answers)
	if err != nil {
		if errors.Is(err, service.ErrAlreadySubmitted) {
			// Another trigger holds the submission; its result follows shortly.
			response.Success(c, http.StatusAccepted, gin.H{
				"session_id":        sessionID,
				"already_submitted": true,
			})
			return
		}
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Result godoc
// GET /api/v1/participant/sessions/:session_id/result
func (h *SessionHandler) Result(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := validator.ParamUUID(c, "session_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.sessions.Result(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Abandon godoc
// POST /api/v1/admin/sessions/:session_id/abandon
func (h *SessionHandler) Abandon(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := validator.ParamUUID(c, "session_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.sessions.Abandon(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.log.Info().
		Int("admin_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Bool("already_terminal", res.AlreadySubmitted).
		Msg("Session abandon requested")
	response.Success(c, http.StatusOK, res)
}

// fail maps service errors to response codes. Storage errors are logged and
// surface as a generic internal error.
func (h *SessionHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
	case errors.Is(err, service.ErrOutOfWindow):
		response.Fail(c, http.StatusForbidden, response.ErrOutOfWindow)
	case errors.Is(err, service.ErrAttemptLimitExceeded):
		response.Fail(c, http.StatusConflict, response.ErrAttemptLimitExceeded)
	case errors.Is(err, service.ErrTestNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionEnded):
		response.Fail(c, http.StatusConflict, response.ErrSessionEnded)
	case errors.Is(err, service.ErrSessionOngoing):
		response.Fail(c, http.StatusConflict, response.ErrSessionOngoing)
	case errors.Is(err, service.ErrSubmitFailed), errors.Is(err, service.ErrSubmitPending):
		h.log.Warn().Err(err).Str("request_id", response.RequestID(c)).Msg("Submission not confirmed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrSubmitRetryable)
	case errors.Is(err, service.ErrInvalidReason):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	default:
		h.log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Session request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
