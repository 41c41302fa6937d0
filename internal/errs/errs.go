// Package errs provides the structured error type used by ambient
// (non-IPC) code: config loading, boot-fs parsing, CLI argument handling.
// IPC-protocol replies use the raw defs.Err_t codes instead, per spec §7.
package errs

import (
	"errors"
	"fmt"

	"l4rt/internal/defs"
)

// Error wraps an operation, the component that raised it, and an optional
// IPC error code so callers can bridge back into defs.Err_t when a server
// boundary is crossed (e.g. a boot-fs load failure surfaced as ENOENT).
type Error struct {
	Op        string
	Component string
	Code      defs.Err_t
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	switch {
	case e.Op != "" && e.Component != "":
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Op, msg)
	case e.Component != "":
		return fmt.Sprintf("%s: %s", e.Component, msg)
	default:
		return msg
	}
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Inner }

// Is allows errors.Is(err, defs.ENOMEM)-style checks against the code.
func (e *Error) Is(target error) bool {
	var code defs.Err_t
	if errors.As(target, &code) {
		return e.Code == code
	}
	return false
}

// New builds an Error for component/op wrapping cause, with an associated
// IPC code (defs.EOK if none applies).
func New(component, op string, code defs.Err_t, cause error) *Error {
	return &Error{Op: op, Component: component, Code: code, Inner: cause}
}

// Wrapf builds an Error with a formatted message and no IPC code.
func Wrapf(component, op string, cause error, format string, args ...interface{}) *Error {
	return &Error{Op: op, Component: component, Inner: cause, Msg: fmt.Sprintf(format, args...)}
}
