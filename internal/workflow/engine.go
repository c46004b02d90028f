package workflow

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/executor"
	"github.com/coreflux-ai/agentrouter/internal/metrics"
	"github.com/coreflux-ai/agentrouter/internal/planning"
)

// Engine runs a Workflow against a registry of capability executors.
type Engine struct {
	registry *executor.Registry
	logger   *zap.Logger
}

func NewEngine(registry *executor.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{registry: registry, logger: logger}
}

// Execute runs w to completion (or failure) and returns a WorkflowResult.
// onProgress may be nil. Execute returns an error only for a workflow
// that fails Validate(); individual task failures are recorded in the
// returned WorkflowResult instead of surfacing as a Go error, so a
// partially-successful run is still inspectable.
func (e *Engine) Execute(ctx context.Context, w *Workflow, onProgress ProgressFunc) (WorkflowResult, error) {
	if err := w.Validate(); err != nil {
		return WorkflowResult{}, err
	}

	mode := string(w.Mode)
	metrics.WorkflowsStarted.WithLabelValues(mode).Inc()

	result := WorkflowResult{
		WorkflowID: w.ID,
		Results:    make(map[string]*TaskResult, len(w.Tasks)),
		StartedAt:  time.Now(),
	}
	for _, t := range w.Tasks {
		result.Results[t.ID] = &TaskResult{TaskID: t.ID, Status: StatusPending}
	}

	switch w.Mode {
	case Sequential:
		e.runSequential(ctx, w, &result, onProgress)
	case Parallel:
		e.runParallel(ctx, w, &result, onProgress)
	default:
		e.runDAG(ctx, w, &result, onProgress)
	}

	result.FinishedAt = time.Now()

	outcome := "completed"
	for _, res := range result.Results {
		if res.getStatus() != StatusCompleted {
			outcome = "partial"
			break
		}
	}
	metrics.RecordWorkflowMetrics(mode, outcome, result.FinishedAt.Sub(result.StartedAt).Seconds())

	return result, nil
}

func (e *Engine) notify(onProgress ProgressFunc, workflowID, taskID string, status TaskStatus) {
	if onProgress == nil {
		return
	}
	if err := onProgress(ProgressEvent{WorkflowID: workflowID, TaskID: taskID, Status: status, Timestamp: time.Now()}); err != nil {
		e.logger.Warn("progress callback returned an error", zap.String("task_id", taskID), zap.Error(err))
	}
}

// runSequential runs tasks in declaration order. Once a task fails or
// times out, every remaining task is marked Skipped rather than run:
// sequential mode is treated as a degenerate one-branch DAG for this
// purpose.
func (e *Engine) runSequential(ctx context.Context, w *Workflow, result *WorkflowResult, onProgress ProgressFunc) {
	stop := false
	for _, t := range w.Tasks {
		res := result.Results[t.ID]
		if stop {
			res.setStatus(StatusSkipped)
			e.notify(onProgress, w.ID, t.ID, StatusSkipped)
			continue
		}
		e.runOne(ctx, w.ID, t, result, onProgress)
		if res.getStatus() != StatusCompleted {
			stop = true
		}
	}
}

func (e *Engine) runParallel(ctx context.Context, w *Workflow, result *WorkflowResult, onProgress ProgressFunc) {
	p := pool.New().WithMaxGoroutines(w.maxParallelTasks())
	for _, t := range w.Tasks {
		t := t
		p.Go(func() {
			e.runOne(ctx, w.ID, t, result, onProgress)
		})
	}
	p.Wait()
}

// runDAG schedules tasks by dependency readiness with bounded concurrency:
// a task becomes eligible once every dependency has a terminal status,
// and it is skipped (rather than run) if any dependency did not complete.
// schedulerMu guards only the scheduler's own bookkeeping (the remaining
// set); per-task state lives in TaskResult, which synchronizes itself.
func (e *Engine) runDAG(ctx context.Context, w *Workflow, result *WorkflowResult, onProgress ProgressFunc) {
	var schedulerMu sync.Mutex
	remaining := make(map[string]Task, len(w.Tasks))
	for _, t := range w.Tasks {
		remaining[t.ID] = t
	}

	p := pool.New().WithMaxGoroutines(w.maxParallelTasks())
	var wg sync.WaitGroup

	var schedule func()
	schedule = func() {
		schedulerMu.Lock()
		var ready []Task
		for id, t := range remaining {
			if !dependenciesResolved(t, result) {
				continue
			}
			ready = append(ready, t)
			delete(remaining, id)
		}
		schedulerMu.Unlock()

		for _, t := range ready {
			t := t
			res := result.Results[t.ID]

			if !dependenciesSucceeded(t, result) {
				res.setStatus(StatusSkipped)
				e.notify(onProgress, w.ID, t.ID, StatusSkipped)
				wg.Done()
				schedule()
				continue
			}

			p.Go(func() {
				defer func() {
					wg.Done()
					schedule()
				}()
				e.runOneWithOutputs(ctx, w, t, result, onProgress)
			})
		}
	}

	wg.Add(len(w.Tasks))
	schedule()
	wg.Wait()
	p.Wait()
}

func dependenciesResolved(t Task, result *WorkflowResult) bool {
	for _, dep := range t.Dependencies {
		if res, ok := result.Results[dep]; ok {
			switch res.getStatus() {
			case StatusPending, StatusRunning:
				return false
			}
		}
	}
	return true
}

func dependenciesSucceeded(t Task, result *WorkflowResult) bool {
	for _, dep := range t.Dependencies {
		if res, ok := result.Results[dep]; ok && res.getStatus() != StatusCompleted {
			return false
		}
	}
	return true
}

// runOneWithOutputs interpolates {{variable}} references in t.Query from
// completed dependency outputs before running the task.
func (e *Engine) runOneWithOutputs(ctx context.Context, w *Workflow, t Task, result *WorkflowResult, onProgress ProgressFunc) {
	resolved := make(map[string]string)
	for _, dep := range t.Dependencies {
		depTask, ok := w.Task(dep)
		if !ok || depTask.OutputVariable == "" {
			continue
		}
		if res := result.Results[dep]; res != nil {
			if s, ok := res.getOutputString(); ok {
				resolved[depTask.OutputVariable] = s
			}
		}
	}

	t.Query = planning.Interpolate(t.Query, resolved)
	e.runOne(ctx, w.ID, t, result, onProgress)
}

// runOne runs a single task with retry, backoff, and timeout, recording
// its TaskResult in place.
func (e *Engine) runOne(ctx context.Context, workflowID string, t Task, result *WorkflowResult, onProgress ProgressFunc) {
	res := result.Results[t.ID]
	res.setStatus(StatusRunning)
	e.notify(onProgress, workflowID, t.ID, StatusRunning)

	start := time.Now()
	exec, err := e.registry.Lookup(t.TaskType)
	if err != nil {
		res.complete(StatusFailed, nil, err, 0, time.Since(start))
		metrics.RecordTaskMetrics(string(t.TaskType), string(StatusFailed), 1, time.Since(start).Seconds())
		e.notify(onProgress, workflowID, t.ID, StatusFailed)
		return
	}

	maxAttempts := t.maxRetries() + 1
	var lastErr error
	ctxCancelled := false

	for attempt := 0; attempt < maxAttempts && !ctxCancelled; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				ctxCancelled = true
				continue
			case <-time.After(backoff):
			}
		}

		taskCtx, cancel := context.WithTimeout(ctx, t.timeout())
		output, execErr := exec.Execute(taskCtx, t.Query, t.ExecutionContext)
		timedOut := taskCtx.Err() == context.DeadlineExceeded
		cancel()

		if execErr == nil {
			res.complete(StatusCompleted, output, nil, attempt+1, time.Since(start))
			metrics.RecordTaskMetrics(string(t.TaskType), string(StatusCompleted), attempt+1, time.Since(start).Seconds())
			e.notify(onProgress, workflowID, t.ID, StatusCompleted)
			return
		}
		if timedOut {
			execErr = apperrors.New(apperrors.ExecutorTimeout, "task exceeded its timeout", execErr)
		}
		lastErr = execErr
		res.complete(StatusFailed, nil, lastErr, attempt+1, time.Since(start))
	}

	metrics.RecordTaskMetrics(string(t.TaskType), string(StatusFailed), maxAttempts, time.Since(start).Seconds())
	e.notify(onProgress, workflowID, t.ID, StatusFailed)
}
