package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tracecore/pkg/domain"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	ErrorCode uint32 `json:"error_code,omitempty"`
	Message   string `json:"message"`
}

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotAuthorized, http.StatusForbidden, "NOT_AUTHORIZED"},
	{domain.ErrInvalidParameter, http.StatusBadRequest, "INVALID_PARAMETER"},
	{domain.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{domain.ErrDoesNotExist, http.StatusNotFound, "DOES_NOT_EXIST"},
	{domain.ErrChainBroken, http.StatusUnprocessableEntity, "CHAIN_BROKEN"},
	{domain.ErrSafetyViolation, http.StatusUnprocessableEntity, "SAFETY_VIOLATION"},
	{domain.ErrContractNotWhitelisted, http.StatusForbidden, "CALLER_NOT_WHITELISTED"},
}

// WriteError maps a service error onto an HTTP status and error body.
func WriteError(c *gin.Context, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			c.AbortWithStatusJSON(e.status, ErrorResponse{Code: e.code, ErrorCode: domain.Code(err), Message: err.Error()})
			return
		}
	}
	WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
}

// WriteErrorCode aborts the request with a fixed code and message.
func WriteErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}
