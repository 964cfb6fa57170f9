// Package mdserr is the shared error taxonomy raised at the API boundary
// of every container in this module: a fixed set of kinds (out-of-range,
// tree-not-built, and so on) that callers can test for with this package's
// Is without caring which container or which operation raised them.
//
// Internal invariant violations - the kind that mean the library itself
// is broken rather than the caller having passed bad input - are not
// represented here. Those panic, per the error-handling design.
package mdserr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	OutOfRange Kind = iota
	TreeNotBuilt
	InvalidRange
	TypeMismatch
	IntegrityErrorKind
	CapacityExceeded
)

func (k Kind) String() string {
	switch k {
	case OutOfRange:
		return "out-of-range"
	case TreeNotBuilt:
		return "tree-not-built"
	case InvalidRange:
		return "invalid-range"
	case TypeMismatch:
		return "type-mismatch"
	case IntegrityErrorKind:
		return "integrity-error"
	case CapacityExceeded:
		return "capacity-exceeded"
	default:
		return "unknown"
	}
}

// Error is a typed failure raised by a public operation. Op identifies the
// operation that raised it (e.g. "fst.search_tree"), and Kind lets callers
// branch on its kind without string matching.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

// New builds a *Error and attaches a stack trace, so a caller that logs
// the error with %+v gets the call site, not just the message.
func New(kind Kind, op, msg string) error {
	return errors.WithStack(&Error{Kind: kind, Op: op, Msg: msg})
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		err = errors.Unwrap(err)
	}
	return false
}
