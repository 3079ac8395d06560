package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	err       error
	loggedOut int
}

func (f *fakeAuth) LoginParticipant(_ context.Context, req *model.ParticipantLoginRequest) (*model.ParticipantLoginResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.ParticipantLoginResponse{Token: "tok", Participant: model.Participant{ID: 7, Username: req.Username}}, nil
}

func (f *fakeAuth) LoginAdmin(_ context.Context, req *model.AdminLoginRequest) (*model.AdminLoginResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.AdminLoginResponse{Token: "admin-tok", Admin: model.Admin{ID: 1, Email: req.Email}}, nil
}

func (f *fakeAuth) Logout(_ context.Context, userID int) error {
	f.loggedOut = userID
	return f.err
}

func newAuthRouter(f *fakeAuth) *gin.Engine {
	h := NewAuthHandler(f, zerolog.Nop())
	r := gin.New()
	r.POST("/login", h.ParticipantLogin)
	r.POST("/admin/login", h.AdminLogin)
	r.POST("/logout", withClaims(service.TokenTypeParticipant, 7), h.ParticipantLogout)
	return r
}

func TestParticipantLogin(t *testing.T) {
	r := newAuthRouter(&fakeAuth{})
	w, env := doJSON(t, r, http.MethodPost, "/login", map[string]string{"username": "budi.s", "password": "rahasia"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"token":"tok"`)
}

func TestParticipantLogin_Validation(t *testing.T) {
	r := newAuthRouter(&fakeAuth{})

	w, env := doJSON(t, r, http.MethodPost, "/login", map[string]string{"username": "budi s!", "password": "rahasia"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "username")

	w, env = doJSON(t, r, http.MethodPost, "/login", map[string]string{"username": "budi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Fields, "password")
}

func TestParticipantLogin_BadCredentials(t *testing.T) {
	r := newAuthRouter(&fakeAuth{err: service.ErrInvalidCredentials})
	w, env := doJSON(t, r, http.MethodPost, "/login", map[string]string{"username": "budi", "password": "salah1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.ErrInvalidCredentials, env.Error.Code)
}

func TestAdminLogin_StoreFailureIsInternal(t *testing.T) {
	r := newAuthRouter(&fakeAuth{err: errors.New("pool closed")})
	w, env := doJSON(t, r, http.MethodPost, "/admin/login", map[string]string{"email": "proktor@sekolah.id", "password": "rahasia"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, response.ErrInternal, env.Error.Code)
}

func TestParticipantLogout(t *testing.T) {
	f := &fakeAuth{}
	r := newAuthRouter(f)
	w, _ := doJSON(t, r, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, f.loggedOut)
}
