package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// ContextKeyClaims is the Gin context key for the verified access token claims.
const ContextKeyClaims = "claims"

// RequireStudentJWT admits requests carrying a valid student access token.
// The token is read from "Authorization: Bearer" and, for WebSocket upgrades
// where browsers cannot set headers, from the ?token= query parameter.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := accessToken(c)
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(raw)
		if err != nil {
			code := response.ErrTokenInvalid
			if errors.Is(err, service.ErrTokenExpired) {
				code = response.ErrTokenExpired
			}
			response.AbortFail(c, http.StatusUnauthorized, code)
			return
		}
		if claims.TokenType != service.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the claims stored by RequireStudentJWT, or nil.
func GetClaims(c *gin.Context) *service.Claims {
	v, _ := c.Get(ContextKeyClaims)
	claims, _ := v.(*service.Claims)
	return claims
}

func accessToken(c *gin.Context) string {
	scheme, tok, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") && tok != "" {
		return strings.TrimSpace(tok)
	}
	return c.Query("token")
}
