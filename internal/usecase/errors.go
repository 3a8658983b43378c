package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// Reasons attached to ErrorInvalidInput.
const (
	ReasonEmptyQuestion   = "empty_question"
	ReasonQuestionTooLong = "question_too_long"
	ReasonMissingUser     = "missing_user"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// IsInvalidInput reports whether err carries an ErrorInvalidInput usecase error.
func IsInvalidInput(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Code == ErrorInvalidInput
}
