package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/matching"
	"onetime/matching-service/internal/notify"
)

// Error codes carried in the envelope.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
	CodeInternal     = "INTERNAL"
)

const (
	msgMissingUser   = "missing x-user-id header"
	msgMatchNotFound = "매칭 정보를 찾을 수 없습니다"
	msgMatchResolved = "이미 처리되었거나 만료된 매칭입니다"
	msgNotifNotFound = "알림을 찾을 수 없습니다"
	msgSalaryRange   = "희망 급여 값이 올바르지 않습니다"
	msgInternal      = "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해주세요"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondDomainError maps domain errors to status codes. Anything unknown is
// logged and answered with a generic message.
func respondDomainError(c *gin.Context, log *logger.Logger, err error) {
	var (
		ve  *matching.ValidationError
		ise *matching.InvalidStateError
	)
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorEnvelope{
			Error: APIError{Message: ve.Msg, Code: CodeValidation, Field: ve.Field},
		})
	case errors.Is(err, matching.ErrNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, msgMatchNotFound)
	case errors.As(err, &ise):
		respondError(c, http.StatusConflict, CodeInvalidState, msgMatchResolved)
	case errors.Is(err, notify.ErrNotificationNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, msgNotifNotFound)
	default:
		log.Error("request failed", "path", c.FullPath(), "err", err)
		respondError(c, http.StatusInternalServerError, CodeInternal, msgInternal)
	}
}
