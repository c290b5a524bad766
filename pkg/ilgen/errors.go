package ilgen

import (
	"errors"
	"fmt"

	"github.com/ecmavm/engine/pkg/kind"
)

// ErrKind classifies an InvalidEmission failure. All of them indicate a bug
// in the code generator driving the emitter, not a user-facing error: a
// correctly implemented compiler must never let one escape to the end user.
type ErrKind int

// The error kinds from §7 of the design.
const (
	StackUnderflow ErrKind = iota
	KindMismatch
	StackMismatch
	UndefinedLabel
	DoubleDefinedLabel
	TooManyLocals
	TooManyArguments
	UnclosedExceptionRegion
	DuplicateCatch
	DuplicateFinally
	DuplicateFault
	EmptyExceptionRegion
	MisplacedEndFilter
	MisplacedEndFinally
)

func (k ErrKind) String() string {
	switch k {
	case StackUnderflow:
		return "StackUnderflow"
	case KindMismatch:
		return "KindMismatch"
	case StackMismatch:
		return "StackMismatch"
	case UndefinedLabel:
		return "UndefinedLabel"
	case DoubleDefinedLabel:
		return "DoubleDefinedLabel"
	case TooManyLocals:
		return "TooManyLocals"
	case TooManyArguments:
		return "TooManyArguments"
	case UnclosedExceptionRegion:
		return "UnclosedExceptionRegion"
	case DuplicateCatch:
		return "DuplicateCatch"
	case DuplicateFinally:
		return "DuplicateFinally"
	case DuplicateFault:
		return "DuplicateFault"
	case EmptyExceptionRegion:
		return "EmptyExceptionRegion"
	case MisplacedEndFilter:
		return "MisplacedEndFilter"
	case MisplacedEndFinally:
		return "MisplacedEndFinally"
	default:
		return "ErrKind(?)"
	}
}

// InvalidEmission is the single error type raised for every emitter-detected
// codegen bug. Callers that need to distinguish kinds should use
// errors.As and inspect Kind.
type InvalidEmission struct {
	Kind ErrKind
	Msg  string
}

func (e *InvalidEmission) Error() string {
	return fmt.Sprintf("invalid emission (%s): %s", e.Kind, e.Msg)
}

func newErr(k ErrKind, format string, args ...interface{}) *InvalidEmission {
	return &InvalidEmission{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an *InvalidEmission of the given kind.
func IsKind(err error, k ErrKind) bool {
	var ie *InvalidEmission
	if errors.As(err, &ie) {
		return ie.Kind == k
	}
	return false
}

func kindMismatchErr(expected kind.Set, actual kind.Kind) *InvalidEmission {
	return newErr(KindMismatch, "expected one of %s, got %s", expected, actual)
}
