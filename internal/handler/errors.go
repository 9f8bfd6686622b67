package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/answerkey"
	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/remote"
	"github.com/stemsi/kontrol-backend/internal/reset"
	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/service"
	"github.com/stemsi/kontrol-backend/internal/session"
	"github.com/stemsi/kontrol-backend/internal/store"
	"github.com/stemsi/kontrol-backend/internal/variant"
)

// failure is how a domain error is presented over HTTP.
type failure struct {
	status int
	code   response.ErrCode
	msgID  string
}

var sentinelFailures = []struct {
	err error
	failure
}{
	{session.ErrNotOpen, failure{http.StatusNotFound, response.ErrAttemptNotOpen, "AttemptNotOpen"}},
	{session.ErrFinished, failure{http.StatusConflict, response.ErrAttemptFinished, "AttemptAlreadyFinished"}},
	{session.ErrNotFinished, failure{http.StatusConflict, response.ErrAttemptNotFinished, "AttemptNotFinished"}},
	{session.ErrUnknownTask, failure{http.StatusNotFound, response.ErrUnknownTask, "UnknownTask"}},
	{session.ErrClosed, failure{http.StatusConflict, response.ErrRequestInFlight, "RequestInFlight"}},
	{session.ErrIdentityRequired, failure{http.StatusUnprocessableEntity, response.ErrIdentityRequired, "IdentityRequired"}},
	{variant.ErrNotFound, failure{http.StatusNotFound, response.ErrVariantNotFound, "VariantNotFound"}},
	{variant.ErrLoad, failure{http.StatusInternalServerError, response.ErrLoadFailed, "LoadFailed"}},
	{reset.ErrCodeRequired, failure{http.StatusBadRequest, response.ErrResetCodeRequired, "ResetCodeRequired"}},
	{reset.ErrScopeRequired, failure{http.StatusBadRequest, response.ErrResetScopeRequired, "ResetScopeRequired"}},
	{reset.ErrInFlight, failure{http.StatusConflict, response.ErrRequestInFlight, "RequestInFlight"}},
	{service.ErrSubmitInFlight, failure{http.StatusConflict, response.ErrRequestInFlight, "RequestInFlight"}},
	{console.ErrInFlight, failure{http.StatusConflict, response.ErrRequestInFlight, "RequestInFlight"}},
	{console.ErrStale, failure{http.StatusConflict, response.ErrStaleResult, "StaleResult"}},
	{console.ErrNoKeys, failure{http.StatusBadRequest, response.ErrValidation, ""}},
	{answerkey.ErrNoKey, failure{http.StatusUnprocessableEntity, response.ErrKeyNotResolvable, "NoKey"}},
	{remote.ErrNotConfigured, failure{http.StatusServiceUnavailable, response.ErrRemoteNotConfigured, "RemoteNotConfigured"}},
	{store.ErrNotFound, failure{http.StatusNotFound, response.ErrNotFound, ""}},
}

// classify maps err onto a status, code and catalog message. ok is false
// for errors that are not part of the domain taxonomy.
func classify(err error) (failure, string, bool) {
	for _, s := range sentinelFailures {
		if errors.Is(err, s.err) {
			return s.failure, "", true
		}
	}

	var rerr *remote.Error
	if errors.As(err, &rerr) {
		switch rerr.Status {
		case http.StatusNotFound:
			return failure{http.StatusNotFound, response.ErrNotFound, ""}, rerr.Message, true
		case http.StatusUnauthorized, http.StatusForbidden:
			return failure{http.StatusBadGateway, response.ErrRemoteRejected, ""}, rerr.Message, true
		}
		if rerr.Status >= 500 {
			return failure{http.StatusBadGateway, response.ErrRemoteUnavailable, "RemoteUnavailable"}, rerr.Message, true
		}
		return failure{http.StatusBadGateway, response.ErrRemoteRejected, ""}, rerr.Message, true
	}

	var uerr *url.Error
	if errors.As(err, &uerr) || errors.Is(err, context.DeadlineExceeded) {
		return failure{http.StatusServiceUnavailable, response.ErrRemoteUnavailable, "RemoteUnavailable"}, "", true
	}
	return failure{}, "", false
}

// respondError writes the envelope for err. Unknown errors are logged and
// reported as internal.
func respondError(c *gin.Context, err error) {
	f, detail, ok := classify(err)
	if !ok {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	respondFailure(c, f, detail)
}

func respondFailure(c *gin.Context, f failure, detail string) {
	msg := response.GetMessage(f.code)
	if f.msgID != "" {
		msg = i18n.T(c, f.msgID)
	}
	var fields map[string]string
	if detail != "" {
		fields = map[string]string{"detail": detail}
	}
	response.FailWithMessage(c, f.status, f.code, msg, fields)
}
