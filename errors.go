package binder

import (
	"errors"
	"fmt"

	internaldriver "github.com/mjkern/gobinder/internal/driver"
	"github.com/mjkern/gobinder/internal/registry"
)

// ErrorCode is the high-level error category every public operation
// reports, independent of whatever Go error happens to be wrapped.
type ErrorCode string

const (
	CodeOK                ErrorCode = "ok"
	CodeGenericFailure    ErrorCode = "generic failure"
	CodeDeadObject        ErrorCode = "dead object"
	CodeInvalidArgument   ErrorCode = "invalid argument"
	CodeUnexpectedMessage ErrorCode = "unexpected message"
	CodeStale             ErrorCode = "stale"
	CodeCancelled         ErrorCode = "cancelled"
	CodeConfiguration     ErrorCode = "configuration error"
)

// Error is the structured error type every operation returns, carrying
// enough context to log and to compare via errors.Is.
type Error struct {
	Op    string
	Code  ErrorCode
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("binder: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("binder: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if c, ok := target.(Code); ok {
		return e.Code == ErrorCode(c)
	}
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// NewError builds a structured Error with no wrapped cause.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError attaches op/code context to an arbitrary error, translating
// the internal/driver and internal/registry sentinel errors into the
// matching public ErrorCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ge, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ge.Code, Msg: ge.Msg, Inner: ge.Inner}
	}
	return &Error{Op: op, Code: classify(inner), Msg: inner.Error(), Inner: inner}
}

func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, internaldriver.ErrDead):
		return CodeDeadObject
	case errors.Is(err, internaldriver.ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, internaldriver.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, registry.ErrUnknownLocalObject):
		return CodeUnexpectedMessage
	case errors.Is(err, registry.ErrForeignDriver):
		return CodeInvalidArgument
	default:
		return CodeGenericFailure
	}
}

// IsCode reports whether err (or something it wraps) is a *Error with
// the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Sentinel codes exposed for errors.Is comparisons against a bare code,
// matching the teacher's legacy UblkError convenience type.
type Code ErrorCode

func (c Code) Error() string { return string(c) }

const (
	ErrDeadObject      = Code(CodeDeadObject)
	ErrInvalidArgument = Code(CodeInvalidArgument)
	ErrCancelled       = Code(CodeCancelled)
	ErrStale           = Code(CodeStale)
)
