package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/kontrol-backend/internal/middleware"
	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/service"
)

// DeviceHandler issues device tokens and serves subject manifests.
type DeviceHandler struct {
	authService    *service.AuthService
	attemptService *service.AttemptService
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(authService *service.AuthService, attemptService *service.AttemptService) *DeviceHandler {
	return &DeviceHandler{authService: authService, attemptService: attemptService}
}

// Register godoc
// POST /api/v1/devices
// Mints a new device id and its token. Attempts are keyed by the device id.
func (h *DeviceHandler) Register(c *gin.Context) {
	tok, err := h.authService.IssueDeviceToken(c.Request.Context(), "")
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, tok)
}

// Refresh godoc
// POST /api/v1/devices/refresh
// Re-issues the token of the authenticated device. The previous token stops
// working when device sessions are tracked.
func (h *DeviceHandler) Refresh(c *gin.Context) {
	deviceID := middleware.DeviceID(c)
	if deviceID == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	tok, err := h.authService.IssueDeviceToken(c.Request.Context(), deviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, tok)
}

// Manifest godoc
// GET /api/v1/subjects/:subject/manifest
// Lists the variants of a subject.
func (h *DeviceHandler) Manifest(c *gin.Context) {
	m, err := h.attemptService.Manifest(c.Request.Context(), c.Param("subject"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, m)
}
