package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorAlreadyActive    ErrorCode = "ALREADY_ACTIVE"
	ErrorRegistry         ErrorCode = "REGISTRY_ERROR"
	ErrorQuotaExhausted   ErrorCode = "QUOTA_EXHAUSTED"
	ErrorUnknownCharacter ErrorCode = "UNKNOWN_CHARACTER"
	ErrorNotFound         ErrorCode = "NOT_FOUND"
	ErrorStartFailed      ErrorCode = "START_FAILED"
	ErrorInternal         ErrorCode = "INTERNAL_ERROR"
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

// CodeOf returns the usecase error code carried by err, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}
