// Package apperr defines the discriminated error type shared by the settlement core.
// Every failure a caller can act on carries a Kind; HTTP handlers map kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidState           Kind = "INVALID_STATE"
	KindInsufficientFunds      Kind = "INSUFFICIENT_FUNDS"
	KindInsufficientAgentFunds Kind = "INSUFFICIENT_AGENT_FUNDS"
	KindWalletFrozen           Kind = "WALLET_FROZEN"
	KindLimitExceeded          Kind = "LIMIT_EXCEEDED"
	KindNotFound               Kind = "NOT_FOUND"
	KindConcurrencyConflict    Kind = "CONCURRENCY_CONFLICT"
	KindForbidden              Kind = "FORBIDDEN"
	KindValidation             Kind = "VALIDATION"
	KindReferenceConflict      Kind = "REFERENCE_CONFLICT"
	KindInternal               Kind = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. A sentinel matches any *Error of the same Kind.
var (
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientAgentFunds = &Error{Kind: KindInsufficientAgentFunds}
	ErrWalletFrozen           = &Error{Kind: KindWalletFrozen}
	ErrLimitExceeded          = &Error{Kind: KindLimitExceeded}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrConcurrencyConflict    = &Error{Kind: KindConcurrencyConflict}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrReferenceConflict      = &Error{Kind: KindReferenceConflict}
	ErrInternal               = &Error{Kind: KindInternal}
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Op == ""
}

func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(op, format string, args ...interface{}) *Error {
	return New(KindInvalidState, op, format, args...)
}

func Forbidden(op, format string, args ...interface{}) *Error {
	return New(KindForbidden, op, format, args...)
}

func NotFound(op, resource string) *Error {
	return New(KindNotFound, op, "%s not found", resource)
}

func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, format, args...)
}

func LimitExceeded(op, format string, args ...interface{}) *Error {
	return New(KindLimitExceeded, op, format, args...)
}

// Internal wraps an unexpected failure. A nil err yields nil; an err that already
// carries a kind is returned unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "An unexpected error occurred"
}
