// Package apierr defines the typed error codes shared by the scheduler,
// registries, and adapters. A single Error type carries an HTTP-ish status
// for transport adapters plus a stable machine-readable code.
package apierr

import "fmt"

type Code string

const (
	CodeFlowNotFound          Code = "flow_not_found"
	CodeRoutineNotFound       Code = "routine_not_found"
	CodeSlotNotFound          Code = "slot_not_found"
	CodeEventNotFound         Code = "event_not_found"
	CodeWorkerNotFound        Code = "worker_not_found"
	CodeWorkerAlreadyExists   Code = "worker_already_exists"
	CodeWorkerNotRunning      Code = "worker_not_running"
	CodeWorkerAlreadyComplete Code = "worker_already_completed"
	CodeJobNotFound           Code = "job_not_found"
	CodeJobSubmissionFailed   Code = "job_submission_failed"
	CodeJobNotPausable        Code = "job_not_pausable"
	CodeJobNotResumable       Code = "job_not_resumable"
	CodeBackpressureExceeded  Code = "backpressure_exceeded"
	CodeRuntimeShutdown       Code = "runtime_shutdown"
	CodeInternalError         Code = "internal_error"
	CodePermissionDenied      Code = "permission_denied"
	CodeSchemaError           Code = "schema_error"
	CodeBreakpointNotFound    Code = "breakpoint_not_found"
)

// Error is the common error shape surfaced across the engine. Status mirrors
// an HTTP status code so the httpapi adapter can map it directly; core code
// never imports net/http, it only picks a conventional number.
type Error struct {
	Status int
	Code   Code
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
	}
	if e.Code != "" {
		return string(e.Code)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code Code, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Is allows errors.Is(err, apierr.New(0, CodeFlowNotFound, nil)) style matching
// by code alone, ignoring Status and wrapped Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

func NotFound(code Code, err error) *Error       { return New(404, code, err) }
func Conflict(code Code, err error) *Error       { return New(409, code, err) }
func BadRequest(code Code, err error) *Error     { return New(400, code, err) }
func Forbidden(code Code, err error) *Error      { return New(403, code, err) }
func Internal(code Code, err error) *Error       { return New(500, code, err) }
func Unavailable(code Code, err error) *Error    { return New(503, code, err) }
