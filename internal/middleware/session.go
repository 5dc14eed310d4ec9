package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// CheckSingleDeviceSession rejects access tokens that are no longer the
// student's active login. When the login store cannot be read the request is
// let through: an exam already under way must not stall on a Redis outage.
func CheckSingleDeviceSession(authService *service.AuthService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		err := authService.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrNoActiveLogin), errors.Is(err, service.ErrLoginSuperseded):
			l := logger.FromContext(c.Request.Context(), log)
			l.Debug().Err(err).Int("student_id", claims.UserID).Msg("Login session rejected")
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		default:
			l := logger.FromContext(c.Request.Context(), log)
			l.Warn().Err(err).Int("student_id", claims.UserID).Msg("Login session check skipped")
		}

		c.Next()
	}
}
