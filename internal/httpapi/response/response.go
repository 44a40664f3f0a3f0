// Package response is the thin JSON envelope shared by every httpapi
// handler. Grounded on the teacher's internal/http/response package
// (ErrorEnvelope with message/code plus trace/request id passthrough,
// RespondOK/RespondError helpers).
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error   APIError `json:"error"`
	TraceID string   `json:"trace_id,omitempty"`
}

// RespondError writes status/code/err as the standard error envelope. If
// err is an *apierr.Error, its own status and code take precedence over
// the arguments so callers can just pass the error straight through.
func RespondError(c *gin.Context, status int, code string, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		status = apiErr.Status
		code = string(apiErr.Code)
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error:   APIError{Message: msg, Code: code},
		TraceID: c.GetString("trace_id"),
	})
}

// RespondErr infers status/code entirely from err (expected to be an
// *apierr.Error); unknown error types fall back to 500/internal_error.
func RespondErr(c *gin.Context, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		RespondError(c, apiErr.Status, string(apiErr.Code), err)
		return
	}
	RespondError(c, http.StatusInternalServerError, string(apierr.CodeInternalError), err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
