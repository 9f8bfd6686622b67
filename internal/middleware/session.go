package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/service"
)

// CheckDeviceSession validates the JWT's JTI against the device's latest token.
// Re-registering a device invalidates its older tokens.
func CheckDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		err := authService.ValidateDeviceSession(c.Request.Context(), claims.DeviceID, claims.ID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrSessionInvalidated):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		default:
			zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("device_id", claims.DeviceID).Msg("Device session check failed")
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
		}
	}
}
