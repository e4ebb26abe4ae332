package errs

import (
	"errors"
	"fmt"
	"time"
)

// AppError is the error type returned across the core's package boundaries.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`

	// RetryAfter is set only for CodeRateLimited.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) error {
	return New(CodeForbidden, msg)
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func ModerationBlocked(msg string) error {
	return New(CodeModerationBlocked, msg)
}

func Internal(msg string) error {
	return New(CodeInternal, msg)
}

// RateLimited reports a slow-mode rejection with the remaining wait.
func RateLimited(retryAfter time.Duration) error {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limited, retry in %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

// CodeOf extracts the Code from err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return CodeUnknown
}

// RetryAfterOf returns the remaining wait carried by a rate-limit error.
func RetryAfterOf(err error) time.Duration {
	var app *AppError
	if errors.As(err, &app) {
		return app.RetryAfter
	}
	return 0
}
