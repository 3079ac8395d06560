package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// LoginValidator checks a participant token against the active login.
type LoginValidator interface {
	ValidateParticipantLogin(ctx context.Context, userID int, jti string) error
}

// CheckSingleLogin rejects participant tokens superseded by a newer login, so
// a session is driven from one device at a time.
func CheckSingleLogin(logins LoginValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if claims.TokenType != service.TokenTypeParticipant {
			c.Next()
			return
		}

		if err := logins.ValidateParticipantLogin(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Next()
	}
}
