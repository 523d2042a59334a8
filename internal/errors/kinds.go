package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error by how callers must react to it.
type Kind int

const (
	// KindStore covers constraint violations, I/O and migration failures.
	// Fatal to the operation and always surfaced.
	KindStore Kind = iota + 1
	// KindTransport covers an unreachable remote or a malformed response.
	// Recorded per row in a sync result and retried on the next pass.
	KindTransport
	// KindConflict marks a record that needs an explicit resolution.
	KindConflict
	// KindValidation marks input rejected before it reaches the store.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "store"
	case KindTransport:
		return "transport"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the error type shared by every layer of habitkeep.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store wraps err as a store error. Returns nil for a nil err.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStore, Op: op, Err: err}
}

// Transport wraps err as a transport error. Returns nil for a nil err.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Validation builds a validation error from a formatted message.
func Validation(op, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Conflict reports that the record with the given id is in conflict.
func Conflict(op, id string) error {
	return &Error{Kind: KindConflict, Op: op, Err: fmt.Errorf("record %s is in conflict", id)}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
