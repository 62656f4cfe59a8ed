package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks failures the caller can fix.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrProcessing marks failures on our side.
	ErrProcessing = errors.New("processing error")
)

// Error is returned by every Service operation. errors.Is matches it
// against its Kind.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalidRequest, Msg: fmt.Sprintf(format, args...)}
}

func processing(err error, format string, args ...any) error {
	return &Error{Kind: ErrProcessing, Msg: fmt.Sprintf(format, args...), Err: err}
}
