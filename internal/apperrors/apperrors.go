// Package apperrors defines the engine's typed error taxonomy
// and its mapping onto HTTP status codes: plain wrapped errors surfaced
// by the HTTP layer's writeError helper, with a stable machine-readable Code
// attached so callers — human, LLM agent, or the live canvas client —
// can branch on it instead of parsing message text.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, caller-facing error identifier.
type Code string

const (
	// Validation
	CodeValidation Code = "VALIDATION_ERROR"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	// Authentication
	CodeAuthRejected   Code = "AUTH_REJECTED"
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// Authorization
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Not found
	CodeDocNotFound     Code = "DOC_NOT_FOUND"
	CodeBlockNotFound   Code = "BLOCK_NOT_FOUND"
	CodeElementNotFound Code = "ELEMENT_NOT_FOUND"
	CodeFolderNotFound  Code = "FOLDER_NOT_FOUND"
	CodeCommentNotFound Code = "COMMENT_NOT_FOUND"
	CodeTokenNotFound   Code = "TOKEN_NOT_FOUND"

	// Conflict
	CodeDocumentAlreadyExists Code = "DOCUMENT_ALREADY_EXISTS"
	CodeTagAlreadyExists      Code = "TAG_ALREADY_EXISTS"

	// Upstream
	CodeUpstreamUnreachable  Code = "UPSTREAM_UNREACHABLE"
	CodeUpstreamTimeout      Code = "UPSTREAM_TIMEOUT"
	CodeDocUpdateBlocked     Code = "DOC_UPDATE_BLOCKED"
	CodeSocketHandshakeFail  Code = "SOCKET_HANDSHAKE_FAILED"
	CodeAccessDenied         Code = "ACCESS_DENIED"

	// Integrity
	CodeCRDTApplyFailed Code = "CRDT_APPLY_FAILED"
)

// httpStatus maps each code to the HTTP status it surfaces as.
var httpStatus = map[Code]int{
	CodeValidation:            http.StatusBadRequest,
	CodePayloadTooLarge:       http.StatusRequestEntityTooLarge,
	CodeAuthRejected:          http.StatusUnauthorized,
	CodeSessionExpired:        http.StatusUnauthorized,
	CodePermissionDenied:      http.StatusForbidden,
	CodeAccessDenied:          http.StatusForbidden,
	CodeDocNotFound:           http.StatusNotFound,
	CodeBlockNotFound:         http.StatusNotFound,
	CodeElementNotFound:       http.StatusNotFound,
	CodeFolderNotFound:        http.StatusNotFound,
	CodeCommentNotFound:       http.StatusNotFound,
	CodeTokenNotFound:         http.StatusNotFound,
	CodeDocumentAlreadyExists: http.StatusConflict,
	CodeTagAlreadyExists:      http.StatusConflict,
	CodeUpstreamUnreachable:   http.StatusServiceUnavailable,
	CodeUpstreamTimeout:       http.StatusGatewayTimeout,
	CodeDocUpdateBlocked:      http.StatusConflict,
	CodeSocketHandshakeFail:   http.StatusServiceUnavailable,
	CodeCRDTApplyFailed:       http.StatusInternalServerError,
}

// Error is a typed application error carrying a stable Code, an optional
// wrapped cause, and (for partial-failure reporting) an optional
// StepDocID identifying work that is already durable on the upstream.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	StepDocID  string // set when a multi-step transaction fails after creating a durable doc
	FailedStep string // which composer step failed, for partial-failure reporting
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the HTTP status code for this error's Code.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates a new typed error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new typed error wrapping a lower-level cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithStep attaches partial-failure context: which transaction step failed
// and which document ID (if any) is already durable on the upstream.
func (e *Error) WithStep(step, docID string) *Error {
	e.FailedStep = step
	e.StepDocID = docID
	return e
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for any error: typed errors use their
// mapped code, everything else is a 500.
func StatusFor(err error) int {
	if ae, ok := As(err); ok {
		return ae.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// CodeFor returns the Code for any error, defaulting to an empty code for
// untyped errors (the HTTP layer omits the "code" field in that case).
func CodeFor(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}
