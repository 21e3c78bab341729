// Package apierr maps domain failures to stable outcome codes.
//
// Domain packages declare their sentinel errors as *Error values so callers
// can match with errors.Is while the HTTP boundary reads the code with
// errors.As. Anything that is not an *Error is an internal failure.
package apierr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remoteprojobs/wallet/internal/logging"
)

// Code is a stable, client-visible outcome code.
type Code string

const (
	CodeNotFound            Code = "not_found"
	CodeInvalidInput        Code = "invalid_input"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeBelowMinimum        Code = "below_minimum"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeNotEligible         Code = "not_eligible"
	CodeAlreadyProcessed    Code = "already_processed"
	CodeForbidden           Code = "forbidden"
	CodeUnauthorized        Code = "unauthorized"
	CodeGatewayUnavailable  Code = "gateway_unavailable"
	CodeInternal            Code = "internal_error"
)

// Error is a business-rule failure with a stable code and an optional reason
// that refines the code.
type Error struct {
	Code    Code
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return string(e.Code) + " (" + e.Reason + "): " + e.Message
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches on code and reason so wrapped copies of a sentinel still match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithReason creates an error with a code and refining reason.
func WithReason(code Code, reason, message string) *Error {
	return &Error{Code: code, Reason: reason, Message: message}
}

// CodeOf returns the outcome code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Status returns the HTTP status for a code.
func Status(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput, CodeInvalidAmount:
		return http.StatusBadRequest
	case CodeBelowMinimum, CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case CodeNotEligible, CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAlreadyProcessed:
		return http.StatusConflict
	case CodeGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a JSON error body. Unknown errors are logged and
// reported as internal_error without leaking their text.
func Respond(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		logging.L(c.Request.Context()).Error("internal error",
			"path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   CodeInternal,
			"message": "Internal server error",
		})
		return
	}

	body := gin.H{
		"error":   e.Code,
		"message": e.Message,
	}
	if e.Reason != "" {
		body["reason"] = e.Reason
	}
	c.JSON(Status(e.Code), body)
}

// Abort is Respond followed by c.Abort, for middleware.
func Abort(c *gin.Context, err error) {
	Respond(c, err)
	c.Abort()
}

// BadRequest responds with invalid_input.
func BadRequest(c *gin.Context, message string) {
	Respond(c, New(CodeInvalidInput, message))
}
