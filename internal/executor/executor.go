// Package executor defines the narrow contract the Workflow Engine uses
// to run one subtask against a capability backend. Concrete backends
// (web search, code sandbox, vector retrieval, weather/finance/routing
// APIs, OCR, vision) are out of scope for this module; callers wire in
// their own implementations and register them by tasktype.TaskType.
package executor

import (
	"context"
	"fmt"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

// CapabilityExecutor runs a single subtask's query against whatever
// backend handles its task type and returns an opaque result value. The
// result is typically a string or a map[string]any; the aggregator reads
// a handful of well-known keys out of it (see internal/aggregation).
type CapabilityExecutor interface {
	Execute(ctx context.Context, query string, executionContext map[string]any) (any, error)
}

// CapabilityExecutorFunc adapts a plain function to CapabilityExecutor.
type CapabilityExecutorFunc func(ctx context.Context, query string, executionContext map[string]any) (any, error)

func (f CapabilityExecutorFunc) Execute(ctx context.Context, query string, executionContext map[string]any) (any, error) {
	return f(ctx, query, executionContext)
}

// Registry maps a TaskType to the CapabilityExecutor that serves it. It is
// built once via NewRegistry and is immutable afterward, so concurrent
// Lookup calls need no locking.
type Registry struct {
	executors map[tasktype.TaskType]CapabilityExecutor
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithExecutor registers an executor for a task type, overwriting any
// earlier registration for the same type.
func WithExecutor(t tasktype.TaskType, e CapabilityExecutor) Option {
	return func(r *Registry) { r.executors[t] = e }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{executors: make(map[tasktype.TaskType]CapabilityExecutor)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the executor registered for t, or an ExecutorError if
// none was registered.
func (r *Registry) Lookup(t tasktype.TaskType) (CapabilityExecutor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, apperrors.New(apperrors.ExecutorError, fmt.Sprintf("no capability executor registered for task type %q", t), nil)
	}
	return e, nil
}

// Registered reports whether a task type has an executor, for callers
// that want to validate a plan against available capabilities before
// running it.
func (r *Registry) Registered(t tasktype.TaskType) bool {
	_, ok := r.executors[t]
	return ok
}
