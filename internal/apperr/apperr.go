// Package apperr defines the stable error kinds surfaced by the ledger and
// cycle engine. Every failure returned to a caller carries one Kind plus a
// human-readable message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error kind.
type Kind string

const (
	KindInvalidAmount           Kind = "INVALID_AMOUNT"
	KindInvalidStateTransition  Kind = "INVALID_STATE_TRANSITION"
	KindGroupFull               Kind = "GROUP_FULL"
	KindAlreadyMember           Kind = "ALREADY_MEMBER"
	KindUnauthorized            Kind = "UNAUTHORIZED"
	KindDrawInProgress          Kind = "DRAW_IN_PROGRESS"
	KindNoEligibleMembers       Kind = "NO_ELIGIBLE_MEMBERS"
	KindInsufficientBalance     Kind = "INSUFFICIENT_BALANCE"
	KindDuplicateIdempotencyKey Kind = "DUPLICATE_IDEMPOTENCY_KEY"

	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	KindGroupNotActive  Kind = "GROUP_NOT_ACTIVE"
	KindCycleNotFunded  Kind = "CYCLE_NOT_FUNDED"
	KindInternal        Kind = "INTERNAL"
)

// Error is a domain error with a stable kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, apperr.ErrGroupFull).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidAmount           = &Error{Kind: KindInvalidAmount}
	ErrInvalidStateTransition  = &Error{Kind: KindInvalidStateTransition}
	ErrGroupFull               = &Error{Kind: KindGroupFull}
	ErrAlreadyMember           = &Error{Kind: KindAlreadyMember}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized}
	ErrDrawInProgress          = &Error{Kind: KindDrawInProgress}
	ErrNoEligibleMembers       = &Error{Kind: KindNoEligibleMembers}
	ErrInsufficientBalance     = &Error{Kind: KindInsufficientBalance}
	ErrDuplicateIdempotencyKey = &Error{Kind: KindDuplicateIdempotencyKey}
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrGroupNotActive          = &Error{Kind: KindGroupNotActive}
	ErrCycleNotFunded          = &Error{Kind: KindCycleNotFunded}
)

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the human-readable message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
