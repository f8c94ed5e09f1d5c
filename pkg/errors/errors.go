package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Lifecycle errors raised by the enrollment, grade and progression workflows.
var (
	ErrAlreadyEnrolled           = New("ALREADY_ENROLLED_THIS_PERIOD", http.StatusConflict, "student already has an enrollment for this period")
	ErrEnrollmentClosed          = New("ENROLLMENT_CLOSED", http.StatusPreconditionFailed, "enrollment window is closed for the period")
	ErrStateConflict             = New("STATE_CONFLICT", http.StatusConflict, "operation not allowed in current state")
	ErrSectionStrandMismatch     = New("SECTION_STRAND_MISMATCH", http.StatusUnprocessableEntity, "section does not belong to the requested strand")
	ErrNoTargetSection           = New("NO_TARGET_SECTION", http.StatusPreconditionFailed, "no section available for the target grade level and strand")
	ErrNoActivePeriod            = New("NO_ACTIVE_PERIOD", http.StatusPreconditionFailed, "no active school period configured")
	ErrInvalidQuarterForSemester = New("INVALID_QUARTER_FOR_SEMESTER", http.StatusUnprocessableEntity, "quarter is not valid for the grade's semester")
	ErrGradeLocked               = New("GRADE_LOCKED", http.StatusConflict, "grade is under review and cannot be edited")
	ErrProgressionDisabled       = New("PROGRESSION_DISABLED", http.StatusPreconditionFailed, "grade progression is not enabled for the period")
	ErrInputWindowExpired        = New("INPUT_WINDOW_EXPIRED", http.StatusPreconditionFailed, "grade input grant has expired")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
