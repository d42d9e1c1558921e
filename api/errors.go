package api

import (
	"errors"
	"net/http"

	"github.com/jcmrest/jcmrest/core"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps a platform error to an HTTP status and an error code.
func statusFor(err error) (int, string) {
	switch {
	case core.IsClientError(err):
		switch {
		case errors.Is(err, core.ErrAgentAlreadyExists):
			return http.StatusConflict, "AGENT_EXISTS"
		case errors.Is(err, core.ErrParse):
			return http.StatusBadRequest, "PARSE_ERROR"
		default:
			return http.StatusBadRequest, "INVALID_REQUEST"
		}
	case core.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout, "COMMAND_TIMEOUT"
	case errors.Is(err, core.ErrCancelled):
		return http.StatusServiceUnavailable, "COMMAND_CANCELLED"
	case core.IsRetryable(err), core.IsStateError(err):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
