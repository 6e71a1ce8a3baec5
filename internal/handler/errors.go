package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/NizariMohamed/chatting/internal/attachment"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/pkg/log"
	"github.com/NizariMohamed/chatting/pkg/response"
)

// writeError maps domain errors onto the response envelope. op names the
// failed operation for the generic 500 message.
func writeError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, attachment.ErrTooLarge):
		response.TooLarge(c, err.Error())
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		response.Unauthorized(c, "invalid email or password")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrUserNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrEmailExists), errors.Is(err, domain.ErrUsernameExists):
		response.Conflict(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(op + " failed")
		response.InternalError(c, "failed to "+op)
	}
}

// errorFrame is the live channel counterpart of writeError.
func errorFrame(err error) *domain.ErrorMessage {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return domain.NewErrorMessage(domain.ErrCodeForbidden, err.Error())
	case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrUserNotFound):
		return domain.NewErrorMessage(domain.ErrCodeNotFound, err.Error())
	default:
		return domain.NewErrorMessage(domain.ErrCodeInternalError, "internal error")
	}
}
