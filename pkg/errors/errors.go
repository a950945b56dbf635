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
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Registration business-rule violations, surfaced to the caller with no
// partial effect.
var (
	ErrDuplicateEnrollment  = New("DUPLICATE_ACTIVE_ENROLLMENT", http.StatusConflict, "student already has an active enrollment for this course")
	ErrAlreadyCompleted     = New("ALREADY_COMPLETED", http.StatusConflict, "student already completed this course in the semester")
	ErrPrerequisitesNotMet  = New("PREREQUISITES_NOT_MET", http.StatusUnprocessableEntity, "course prerequisites not met")
	ErrAlreadyWaitlisted    = New("ALREADY_WAITLISTED", http.StatusConflict, "student already waitlisted for this course")
	ErrSelfPrerequisite     = New("SELF_PREREQUISITE", http.StatusUnprocessableEntity, "course cannot be its own prerequisite")
	ErrCircularPrerequisite = New("CIRCULAR_PREREQUISITE", http.StatusUnprocessableEntity, "prerequisite would create a cycle")
	ErrCourseInUse          = New("COURSE_IN_USE", http.StatusConflict, "course still has active enrollments")

	// ErrConcurrencyConflict is returned only after the engine exhausts its
	// serialization-retry budget.
	ErrConcurrencyConflict = New("CONCURRENCY_CONFLICT", http.StatusConflict, "operation conflicted with concurrent registrations, please retry")

	// ErrConstraint maps referential-integrity failures from the record store.
	ErrConstraint = New("CONSTRAINT_VIOLATION", http.StatusConflict, "record store constraint violated")
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
