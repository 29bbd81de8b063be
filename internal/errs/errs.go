// Package errs carries the error taxonomy reported back over ack/error
// events. Kinds map to how the dispatcher reacts, never to a crash.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindValidation covers malformed input, answering out of turn and
	// similar caller mistakes. Always acked back to the origin connection.
	KindValidation Kind = iota + 1
	// KindPermission covers host-only commands issued by non-hosts.
	KindPermission
	// KindState covers room/session-not-found and other consistency gaps.
	// Treated as a logged no-op at call sites.
	KindState
	// KindTransport covers failed sends to a single connection.
	KindTransport
	// KindInternal covers everything unexpected.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindState:
		return "state"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	err     error
}

func New(kind Kind, opts ...Option) *Error {
	e := &Error{Kind: kind, Message: kind.String()}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(": %s", e.err)
	}
	return s
}

func (e *Error) Unwrap() error { return e.err }

// Convert wraps any error into *Error, defaulting to KindInternal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return New(KindInternal, WithCause(err), WithMessage(err.Error()))
	}
	return e
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	return Convert(err).Kind
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, WithMessagef(format, args...))
}

func Permission(format string, args ...any) *Error {
	return New(KindPermission, WithMessagef(format, args...))
}

func State(format string, args ...any) *Error {
	return New(KindState, WithMessagef(format, args...))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) { f(e) }

func WithCause(err error) Option {
	return optionFunc(func(e *Error) { e.err = err })
}

func WithMessage(msg string) Option {
	return optionFunc(func(e *Error) { e.Message = msg })
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) { e.Message = fmt.Sprintf(format, args...) })
}
