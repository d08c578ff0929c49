package kernel

import (
	"errors"
	"fmt"
)

// ErrorKind classifies kernel errors.
type ErrorKind int

const (
	// ErrUnknown represents an unclassified error.
	ErrUnknown ErrorKind = iota

	// ErrRegistration covers adding an unserialisable agent or a uuid
	// collision with an existing agent.
	ErrRegistration

	// ErrMessageContract covers sending a message whose Copy slices off
	// the concrete type, or a message with an empty topic.
	ErrMessageContract

	// ErrRouting covers an unknown named receiver. Non-fatal by default;
	// surfaced as an error only in strict mode.
	ErrRouting

	// ErrClock covers moving virtual time backwards and negative alarm
	// intervals.
	ErrClock

	// ErrAgentFault covers an error return or panic inside an agent's
	// Setup, Update or Teardown.
	ErrAgentFault
)

// String returns the log-friendly name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrRegistration:
		return "registration"
	case ErrMessageContract:
		return "message_contract"
	case ErrRouting:
		return "routing"
	case ErrClock:
		return "clock"
	case ErrAgentFault:
		return "agent_fault"
	default:
		return "unknown"
	}
}

// KernelError is the error type returned by kernel operations.
type KernelError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying cause, if any.
func (e *KernelError) Unwrap() error { return e.Err }

// Is matches two KernelErrors by kind, so errors.Is(err, &KernelError{Kind: k})
// holds for any error of that kind.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	return ok && e.Kind == t.Kind
}

// HasKind reports whether err (or anything it wraps) is a KernelError of the
// given kind.
func HasKind(err error, kind ErrorKind) bool {
	return errors.Is(err, &KernelError{Kind: kind})
}

// newError builds a KernelError with a formatted message.
func newError(kind ErrorKind, format string, args ...any) *KernelError {
	return &KernelError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapError builds a KernelError around a cause.
func wrapError(kind ErrorKind, err error, format string, args ...any) *KernelError {
	return &KernelError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}
