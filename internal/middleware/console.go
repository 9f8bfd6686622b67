package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/service"
)

// HeaderConsoleToken carries the instructor token when Authorization is taken.
const HeaderConsoleToken = "X-Console-Token"

// RequireConsoleToken guards the instructor console. The token comes from
// X-Console-Token or a bearer Authorization header and is compared against
// the configured bcrypt hash.
func RequireConsoleToken(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderConsoleToken)
		if token == "" {
			token = bearerToken(c)
		}
		if token == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := authService.CheckConsoleToken(token); err != nil {
			if errors.Is(err, service.ErrConsoleDisabled) {
				response.AbortFail(c, http.StatusServiceUnavailable, response.ErrConsoleDisabled)
				return
			}
			response.AbortFail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		c.Next()
	}
}
