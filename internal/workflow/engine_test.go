package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/executor"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

func echoExecutor() executor.CapabilityExecutor {
	return executor.CapabilityExecutorFunc(func(ctx context.Context, query string, ec map[string]any) (any, error) {
		return query, nil
	})
}

func failingExecutor(err error) executor.CapabilityExecutor {
	return executor.CapabilityExecutorFunc(func(ctx context.Context, query string, ec map[string]any) (any, error) {
		return nil, err
	})
}

func countingExecutor(failuresBeforeSuccess int) (executor.CapabilityExecutor, *int32) {
	var calls int32
	return executor.CapabilityExecutorFunc(func(ctx context.Context, query string, ec map[string]any) (any, error) {
		calls++
		if int(calls) <= failuresBeforeSuccess {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}), &calls
}

// timeoutThenSucceedExecutor blocks past the task's context deadline on its
// first timeoutsBeforeSuccess calls, then returns promptly.
func timeoutThenSucceedExecutor(timeoutsBeforeSuccess int) (executor.CapabilityExecutor, *int32) {
	var calls int32
	return executor.CapabilityExecutorFunc(func(ctx context.Context, query string, ec map[string]any) (any, error) {
		calls++
		if int(calls) <= timeoutsBeforeSuccess {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "ok", nil
	}), &calls
}

func TestEngineDAGRunsInDependencyOrderAndInterpolates(t *testing.T) {
	reg := executor.NewRegistry(executor.WithExecutor(tasktype.Chat, echoExecutor()))
	eng := NewEngine(reg, nil)

	w := &Workflow{
		ID:   "w1",
		Mode: DAG,
		Tasks: []Task{
			{ID: "t1", TaskType: tasktype.Chat, Query: "paris weather", OutputVariable: "paris"},
			{ID: "t2", TaskType: tasktype.Chat, Query: "compare {{paris}}", Dependencies: []string{"t1"}},
		},
	}

	result, err := eng.Execute(context.Background(), w, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Results["t1"].Status)
	assert.Equal(t, StatusCompleted, result.Results["t2"].Status)
	assert.Equal(t, "compare paris weather", result.Results["t2"].Output)
}

func TestEngineDAGSkipsDownstreamOnFailure(t *testing.T) {
	reg := executor.NewRegistry(
		executor.WithExecutor(tasktype.Code, failingExecutor(errors.New("boom"))),
		executor.WithExecutor(tasktype.Chat, echoExecutor()),
	)
	eng := NewEngine(reg, nil)

	w := &Workflow{
		ID:   "w2",
		Mode: DAG,
		Tasks: []Task{
			{ID: "t1", TaskType: tasktype.Code, Query: "1/0", MaxRetries: 0},
			{ID: "t2", TaskType: tasktype.Chat, Query: "use result", Dependencies: []string{"t1"}},
		},
	}

	result, err := eng.Execute(context.Background(), w, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Results["t1"].Status)
	assert.Equal(t, StatusSkipped, result.Results["t2"].Status)
	assert.False(t, result.Succeeded())
}

func TestEngineRetriesUpToMaxRetries(t *testing.T) {
	exec, calls := countingExecutor(1)
	reg := executor.NewRegistry(executor.WithExecutor(tasktype.Chat, exec))
	eng := NewEngine(reg, nil)

	w := &Workflow{
		ID:   "w3",
		Mode: Sequential,
		Tasks: []Task{
			{ID: "t1", TaskType: tasktype.Chat, Query: "q", MaxRetries: 1, Timeout: time.Second},
		},
	}

	result, err := eng.Execute(context.Background(), w, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Results["t1"].Status)
	assert.Equal(t, int32(2), *calls)
	assert.Equal(t, 2, result.Results["t1"].Attempts)
}

func TestEngineRetriesAfterTimeoutLikeAnyOtherError(t *testing.T) {
	exec, calls := timeoutThenSucceedExecutor(1)
	reg := executor.NewRegistry(executor.WithExecutor(tasktype.Chat, exec))
	eng := NewEngine(reg, nil)

	w := &Workflow{
		ID:   "w3b",
		Mode: Sequential,
		Tasks: []Task{
			{ID: "t1", TaskType: tasktype.Chat, Query: "q", MaxRetries: 1, Timeout: 20 * time.Millisecond},
		},
	}

	result, err := eng.Execute(context.Background(), w, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Results["t1"].Status)
	assert.Equal(t, int32(2), *calls)
	assert.Equal(t, 2, result.Results["t1"].Attempts)
}

func TestEngineFailsAfterRetriesExhaustedOnRepeatedTimeout(t *testing.T) {
	exec, calls := timeoutThenSucceedExecutor(99)
	reg := executor.NewRegistry(executor.WithExecutor(tasktype.Chat, exec))
	eng := NewEngine(reg, nil)

	w := &Workflow{
		ID:   "w3c",
		Mode: Sequential,
		Tasks: []Task{
			{ID: "t1", TaskType: tasktype.Chat, Query: "q", MaxRetries: 1, Timeout: 20 * time.Millisecond},
		},
	}

	result, err := eng.Execute(context.Background(), w, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Results["t1"].Status)
	assert.Equal(t, int32(2), *calls)
	assert.Equal(t, 2, result.Results["t1"].Attempts)
	assert.True(t, apperrors.HasKind(result.Results["t1"].Err, apperrors.ExecutorTimeout))
}

func TestEngineSequentialSkipsRemainingAfterFailure(t *testing.T) {
	reg := executor.NewRegistry(
		executor.WithExecutor(tasktype.Code, failingExecutor(errors.New("boom"))),
		executor.WithExecutor(tasktype.Chat, echoExecutor()),
	)
	eng := NewEngine(reg, nil)

	w := &Workflow{
		ID:   "w4",
		Mode: Sequential,
		Tasks: []Task{
			{ID: "t1", TaskType: tasktype.Code, Query: "q1", MaxRetries: 0},
			{ID: "t2", TaskType: tasktype.Chat, Query: "q2"},
		},
	}

	result, err := eng.Execute(context.Background(), w, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Results["t1"].Status)
	assert.Equal(t, StatusSkipped, result.Results["t2"].Status)
}

func TestEngineRejectsInvalidWorkflow(t *testing.T) {
	eng := NewEngine(executor.NewRegistry(), nil)
	w := &Workflow{ID: "bad", Mode: DAG, Tasks: []Task{
		{ID: "t1", TaskType: tasktype.Chat, Dependencies: []string{"t2"}},
		{ID: "t2", TaskType: tasktype.Chat, Dependencies: []string{"t1"}},
	}}

	_, err := eng.Execute(context.Background(), w, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.CycleDetected))
}

func TestEngineProgressCallbackErrorsAreSwallowed(t *testing.T) {
	reg := executor.NewRegistry(executor.WithExecutor(tasktype.Chat, echoExecutor()))
	eng := NewEngine(reg, nil)

	var mu sync.Mutex
	var events []TaskStatus
	onProgress := func(e ProgressEvent) error {
		mu.Lock()
		events = append(events, e.Status)
		mu.Unlock()
		return errors.New("sink is down")
	}

	w := &Workflow{ID: "w5", Mode: Sequential, Tasks: []Task{{ID: "t1", TaskType: tasktype.Chat, Query: "q"}}}
	result, err := eng.Execute(context.Background(), w, onProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Results["t1"].Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, StatusCompleted)
}

func TestEngineParallelRunsAllTasks(t *testing.T) {
	reg := executor.NewRegistry(executor.WithExecutor(tasktype.Chat, echoExecutor()))
	eng := NewEngine(reg, nil)

	w := &Workflow{
		ID:   "w6",
		Mode: Parallel,
		Tasks: []Task{
			{ID: "t1", TaskType: tasktype.Chat, Query: "a"},
			{ID: "t2", TaskType: tasktype.Chat, Query: "b"},
			{ID: "t3", TaskType: tasktype.Chat, Query: "c"},
		},
	}

	result, err := eng.Execute(context.Background(), w, nil)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Len(t, result.Results, 3)
}
