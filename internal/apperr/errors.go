// Package apperr defines the expected, non-fatal error kinds returned by the
// memory store. Callers match kinds with errors.Is and render Error() to users.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrDuplicateKey     = errors.New("already exists")
	ErrRootProtected    = errors.New("root is protected")
)

// Error is an expected store failure: a kind for matching plus a
// caller-facing message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// New returns an *Error of the given kind with a formatted message.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsExpected reports whether err belongs to the expected taxonomy, i.e. it
// should be returned to the caller as data rather than treated as a failure.
func IsExpected(err error) bool {
	return errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrRootProtected)
}
