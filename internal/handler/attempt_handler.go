package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/middleware"
	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/remote"
	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/service"
	"github.com/stemsi/kontrol-backend/internal/validator"
)

// AttemptHandler serves the student side of an attempt.
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// attemptRef is the device, subject and variant addressed by a request.
type attemptRef struct {
	device, subject, variant string
}

func (h *AttemptHandler) ref(c *gin.Context) (attemptRef, bool) {
	deviceID := middleware.DeviceID(c)
	if deviceID == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return attemptRef{}, false
	}
	return attemptRef{device: deviceID, subject: c.Param("subject"), variant: c.Param("variant")}, true
}

// present localizes the clock of attempts without a time limit.
func present(c *gin.Context, st model.AttemptState) model.AttemptState {
	if st.RemainingSeconds == nil {
		st.Clock = i18n.T(c, "NoTimeLimit")
	}
	return st
}

func (h *AttemptHandler) reply(c *gin.Context, st model.AttemptState, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, present(c, st))
}

// Open godoc
// POST /api/v1/attempts/:subject/:variant/open
// Resumes the device's attempt on the variant or starts a new one.
func (h *AttemptHandler) Open(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	st, err := h.attemptService.Open(c.Request.Context(), ref.device, ref.subject, ref.variant)
	h.reply(c, st, err)
}

// State godoc
// GET /api/v1/attempts/:subject/:variant/state
func (h *AttemptHandler) State(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	st, err := h.attemptService.State(ref.device, ref.subject, ref.variant)
	h.reply(c, st, err)
}

// Answer godoc
// PUT /api/v1/attempts/:subject/:variant/answers/:task_id
// Stores the raw text typed for a task. Rejected once the attempt is finished.
func (h *AttemptHandler) Answer(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	taskID, err := strconv.Atoi(c.Param("task_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.attemptService.Answer(c.Request.Context(), ref.device, ref.subject, ref.variant, taskID, req.Answer)
	h.reply(c, st, err)
}

// Student godoc
// PUT /api/v1/attempts/:subject/:variant/student
func (h *AttemptHandler) Student(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	var req model.StudentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	st, err := h.attemptService.SetStudent(c.Request.Context(), ref.device, ref.subject, ref.variant, req.Name, req.Class)
	h.reply(c, st, err)
}

// Navigate godoc
// POST /api/v1/attempts/:subject/:variant/navigate
func (h *AttemptHandler) Navigate(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	st, err := h.attemptService.Navigate(c.Request.Context(), ref.device, ref.subject, ref.variant, req.Delta, req.Index)
	h.reply(c, st, err)
}

// Finish godoc
// POST /api/v1/attempts/:subject/:variant/finish
// Ends the attempt; the score becomes visible. Finishing twice is a no-op.
func (h *AttemptHandler) Finish(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	st, err := h.attemptService.Finish(c.Request.Context(), ref.device, ref.subject, ref.variant)
	h.reply(c, st, err)
}

// Submit godoc
// POST /api/v1/attempts/:subject/:variant/submit
// Sends the finished attempt to the result service.
func (h *AttemptHandler) Submit(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	res, err := h.attemptService.Submit(c.Request.Context(), ref.device, ref.subject, ref.variant, c.Request.UserAgent())
	if err != nil {
		f, detail, known := classify(err)
		if known && isRemoteFailure(err) {
			f.msgID = "SubmitFailed"
			respondFailure(c, f, detail)
			return
		}
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"key":     res.Key,
		"state":   present(c, res.State),
		"message": i18n.T(c, "SubmitOK"),
	})
}

// Reset godoc
// POST /api/v1/attempts/:subject/:variant/reset
// Redeems an instructor reset code. A rejected code leaves the attempt as is.
func (h *AttemptHandler) Reset(c *gin.Context) {
	ref, ok := h.ref(c)
	if !ok {
		return
	}
	var req model.RedeemResetRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.attemptService.RedeemReset(c.Request.Context(), ref.device, ref.subject, ref.variant, req.Code)
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) && rerr.Status >= 400 && rerr.Status < 500 {
			respondFailure(c, failure{http.StatusConflict, response.ErrResetRejected, "ResetRejected"}, rerr.Message)
			return
		}
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"state":   present(c, st),
		"message": i18n.T(c, "ResetApplied"),
	})
}

// isRemoteFailure reports errors raised while talking to the result service.
func isRemoteFailure(err error) bool {
	if errors.Is(err, remote.ErrNotConfigured) {
		return false
	}
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		return true
	}
	f, _, ok := classify(err)
	return ok && f.code == response.ErrRemoteUnavailable
}
