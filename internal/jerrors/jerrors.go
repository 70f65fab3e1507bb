// Package jerrors provides the structured, chain-preserving error type used
// everywhere in Jervis: a single Kind taxonomy plus a Cause chain so
// errors.Is/errors.As keep working across retries and tool-as-agent
// boundaries.
package jerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the named failure categories the rest of the system
// branches on (retry, surface-to-user, escalate, etc).
type Kind string

const (
	// ValidationFailure means caller-supplied input failed schema or
	// semantic validation; retrying unchanged will not help.
	ValidationFailure Kind = "validation_failure"
	// LlmParseFailure means a model response could not be parsed into the
	// expected structured shape.
	LlmParseFailure Kind = "llm_parse_failure"
	// LlmUnavailable means every candidate model for a request was
	// exhausted without a usable response.
	LlmUnavailable Kind = "llm_unavailable"
	// ProviderTransient means the upstream provider returned a retryable
	// failure (timeout, 5xx, rate limit).
	ProviderTransient Kind = "provider_transient"
	// ProviderAuth means the upstream provider rejected credentials; not
	// retryable without operator intervention.
	ProviderAuth Kind = "provider_auth"
	// StateConflict means a compare-and-set transition lost a race against
	// a concurrent writer.
	StateConflict Kind = "state_conflict"
	// CyclicDependency means a plan's requirement graph contains a cycle.
	CyclicDependency Kind = "cyclic_dependency"
	// MissingDependency means a plan step names a requirement nothing
	// produces.
	MissingDependency Kind = "missing_dependency"
	// Cancelled means the operation's context was cancelled by the caller.
	Cancelled Kind = "cancelled"
	// TimedOut means the operation's context deadline elapsed.
	TimedOut Kind = "timed_out"
)

// JervisError is the structured failure type threaded through every
// component boundary. Cause links to the wrapped JervisError, if any,
// preserving the chain across errors.Is/errors.As even when the original
// error crossed a tool-as-agent or RPC boundary and had to be reconstructed
// from its message.
type JervisError struct {
	Kind    Kind
	Message string
	Cause   *JervisError
}

// New constructs a JervisError of the given kind with no wrapped cause.
func New(kind Kind, message string) *JervisError {
	if message == "" {
		message = string(kind)
	}
	return &JervisError{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *JervisError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap constructs a JervisError of the given kind that wraps cause. cause is
// folded into a JervisError chain via FromError so the chain survives
// serialization across process boundaries.
func Wrap(kind Kind, message string, cause error) *JervisError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &JervisError{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a JervisError chain. If err is
// already a JervisError (at any depth), that instance is returned unchanged;
// otherwise a best-effort chain is built by recursively unwrapping, with
// Kind left empty for links whose kind is unknown.
func FromError(err error) *JervisError {
	if err == nil {
		return nil
	}
	var je *JervisError
	if errors.As(err, &je) {
		return je
	}
	return &JervisError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *JervisError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped cause, supporting errors.Is/errors.As.
func (e *JervisError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a JervisError with the same Kind, enabling
// errors.Is(err, jerrors.New(jerrors.ProviderAuth, "")) style checks that
// ignore the message.
func (e *JervisError) Is(target error) bool {
	t, ok := target.(*JervisError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind != "" && e.Kind == t.Kind
}

// Of reports the Kind of err if it is (or wraps) a JervisError, and false
// otherwise.
func Of(err error) (Kind, bool) {
	var je *JervisError
	if !errors.As(err, &je) || je == nil {
		return "", false
	}
	return je.Kind, true
}

// Is reports whether err is, or wraps, a JervisError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
