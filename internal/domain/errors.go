package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies engine errors for callers.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvalidRange Kind = "invalid_range"
	KindPermission   Kind = "permission"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindNotFound     Kind = "not_found"
	KindResourceBusy Kind = "resource_busy"
)

// Error is returned by every public engine operation that fails for a
// reason the caller can act on.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by kind, so errors.Is(err, ErrConflict) works for any conflict.
// An invalid range is also a validation error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindValidation && e.Kind == KindInvalidRange
}

// Retryable reports whether the same request may succeed later unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindResourceBusy }

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrInvalidRange = &Error{Kind: KindInvalidRange}
	ErrPermission   = &Error{Kind: KindPermission}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrResourceBusy = &Error{Kind: KindResourceBusy}
)

// Storage sentinels. Repositories return these; services translate them.
var (
	ErrRecordNotFound         = errors.New("record not found")
	ErrDuplicateRecord        = errors.New("duplicate record")
	ErrConcurrentModification = errors.New("concurrent modification")
)

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ValidationFields reports per-field problems.
func ValidationFields(op string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: "invalid input", Fields: fields}
}

func InvalidRange(op string, start, end fmt.Stringer) *Error {
	return &Error{
		Kind:    KindInvalidRange,
		Op:      op,
		Message: fmt.Sprintf("start time %s must be before end time %s", start, end),
	}
}

func Permission(op, format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

func ResourceBusy(op, key string, cause error) *Error {
	return &Error{Kind: KindResourceBusy, Op: op, Message: fmt.Sprintf("resource %s is busy, retry later", key), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
