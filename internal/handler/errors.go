package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// errorStatus maps a service error to its HTTP status and response code.
// Unknown errors are internal and never echo their message to the client.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, response.ErrValidation
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, service.ErrOutOfWindow):
		return http.StatusForbidden, response.ErrExamOutOfWindow
	case errors.Is(err, service.ErrAttemptLimitExceeded):
		return http.StatusForbidden, response.ErrAttemptLimitExceeded
	case errors.Is(err, service.ErrInvalidSession):
		return http.StatusUnauthorized, response.ErrInvalidExamSession
	case errors.Is(err, service.ErrAlreadyFinalized):
		return http.StatusConflict, response.ErrAttemptFinalized
	case errors.Is(err, service.ErrAttemptInProgress):
		return http.StatusConflict, response.ErrAttemptInProgress
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWith writes the envelope for err, including per-field details for
// validation failures.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	status, code := errorStatus(err)
	l := logger.FromContext(c.Request.Context(), log)

	if status == http.StatusInternalServerError {
		l.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, status, code)
		return
	}
	l.Debug().Err(err).Str("code", string(code)).Msg("Request rejected")

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		response.FailWithFields(c, status, code, verr.Fields)
		return
	}
	response.Fail(c, status, code)
}
