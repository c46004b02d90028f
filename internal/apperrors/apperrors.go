// Package apperrors defines the error taxonomy shared across the
// orchestrator core. Errors carry a Kind so callers can branch on recovery
// policy with errors.Is/errors.As instead of string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure. Kinds are not exception classes;
// several distinct Go error values can share a Kind.
type Kind string

const (
	// InvalidQuery marks a precondition failure on entry (empty or
	// over-length query). Never recovered from internally.
	InvalidQuery Kind = "invalid_query"
	// LLMUnavailable marks a failed or timed-out LLM call.
	LLMUnavailable Kind = "llm_unavailable"
	// MalformedLLMOutput marks a response that is not JSON, or is JSON
	// that violated the expected schema.
	MalformedLLMOutput Kind = "malformed_llm_output"
	// PlanValidationError marks a decomposition plan that failed structural
	// validation (cycle, dangling dependency, unknown tool, too many steps).
	PlanValidationError Kind = "plan_validation_error"
	// ExecutorTimeout marks a per-task deadline overrun.
	ExecutorTimeout Kind = "executor_timeout"
	// ExecutorError marks any other error surfaced by a capability executor.
	ExecutorError Kind = "executor_error"
	// DependencyFailure marks a task skipped because an upstream dependency
	// failed.
	DependencyFailure Kind = "dependency_failure"
	// CycleDetected marks a workflow whose dependency graph contains a
	// cycle; construction/validation is rejected before execution.
	CycleDetected Kind = "cycle_detected"
)

// Error is the concrete error type used across the core. It wraps an
// optional cause so errors.Is/errors.As see through to it.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperrors.New(kind, "", nil)) style checks, but
// the idiomatic use is Kind-based via HasKind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// HasKind reports whether err (or something it wraps) is an *Error of kind k.
func HasKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
