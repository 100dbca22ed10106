package core

import (
	"errors"
	"fmt"
)

// ErrBadArg is the sentinel every ArgumentError matches with errors.Is.
var ErrBadArg = errors.New("bad argument")

var (
	// ErrModuleClosed is returned by calls made after Module.Close.
	ErrModuleClosed = errors.New("module is closed")

	// ErrUnknownFunction is returned for a call to a name that was never registered.
	ErrUnknownFunction = fmt.Errorf("unknown function: %w", ErrBadArg)

	// ErrNativePanic is returned to the caller when a native function panics.
	ErrNativePanic = errors.New("native function panicked")
)

// ArgumentError reports a call rejected up front: wrong arity, a term of the
// wrong type, a value out of range, or a resource token that is no longer live.
type ArgumentError struct {
	Function string
	Reason   string
}

func (e *ArgumentError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("bad argument: %s", e.Reason)
	}
	return fmt.Sprintf("%s: bad argument: %s", e.Function, e.Reason)
}

// Is makes errors.Is(err, ErrBadArg) hold for every ArgumentError.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrBadArg
}

// BadArg builds an ArgumentError for function.
func BadArg(function, format string, a ...any) error {
	return &ArgumentError{Function: function, Reason: fmt.Sprintf(format, a...)}
}
