// Package orchestrator wires the Router, Task Decomposer, Workflow Engine,
// and Result Aggregator into the single ProcessQuery façade a caller
// actually uses.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/aggregation"
	"github.com/coreflux-ai/agentrouter/internal/formatting"
	"github.com/coreflux-ai/agentrouter/internal/planning"
	"github.com/coreflux-ai/agentrouter/internal/routing"
	"github.com/coreflux-ai/agentrouter/internal/streaming"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
	"github.com/coreflux-ai/agentrouter/internal/workflow"
)

// FileHandle is an uploaded file attached to a query, routed to either an
// OCR or a Vision subtask depending on the configured intake predicate.
type FileHandle struct {
	Name        string
	ContentType string
	Data        []byte
}

// ProcessResult is what ProcessQuery hands back to a caller.
type ProcessResult struct {
	Answer     string
	ToolsUsed  []string
	Sources    []string
	Details    map[string]any
	KeyPoints  []string
	Confidence float64
}

// FileIntakePredicate decides, given the query text, whether an attached
// file should be treated as an OCR target (true) or a Vision target
// (false). The default implementation is ocrKeywordHeuristic.
type FileIntakePredicate func(query string) bool

// Orchestrator is the top-level façade: Route -> Decompose -> build a
// Workflow -> Execute -> Aggregate.
type Orchestrator struct {
	router       *routing.HybridRouter
	decomposer   *planning.Decomposer
	engine       *workflow.Engine
	aggregator   *aggregation.Aggregator
	logger       *zap.Logger
	ocrPredicate FileIntakePredicate
	streamMgr    *streaming.Manager // optional; nil disables progress broadcasting
	strategy     aggregation.Strategy
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithFileIntakePredicate overrides the default OCR-vs-Vision heuristic.
func WithFileIntakePredicate(fn FileIntakePredicate) Option {
	return func(o *Orchestrator) { o.ocrPredicate = fn }
}

// WithStreamingManager attaches a progress broadcaster; Execute's progress
// events are republished there under the workflow's ID.
func WithStreamingManager(m *streaming.Manager) Option {
	return func(o *Orchestrator) { o.streamMgr = m }
}

// WithAggregationStrategy overrides the default Synthesize strategy.
func WithAggregationStrategy(s aggregation.Strategy) Option {
	return func(o *Orchestrator) { o.strategy = s }
}

func New(router *routing.HybridRouter, decomposer *planning.Decomposer, engine *workflow.Engine, aggregator *aggregation.Aggregator, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		router:       router,
		decomposer:   decomposer,
		engine:       engine,
		aggregator:   aggregator,
		logger:       logger,
		ocrPredicate: ocrKeywordHeuristic,
		strategy:     aggregation.Synthesize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessQuery runs the full pipeline for one query and returns the
// aggregated answer. A file, if present, is attached to every subtask's
// execution context under "file", and every OCR or Vision subtask in the
// decomposer's plan is switched to the one of those two types that
// o.ocrPredicate selects. The query text, the routing decision and
// subtasks of other types are left unchanged.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string, file *FileHandle) (ProcessResult, error) {
	query = strings.TrimSpace(query)

	decision, err := o.router.Route(ctx, query, nil)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("route query: %w", err)
	}
	method, _ := decision.Metadata[tasktype.MetaMethod].(string)
	o.logger.Debug("routed query", zap.String("method", method), zap.String("task_type", string(decision.PrimaryTaskType)))

	plan, err := o.decomposer.Decompose(ctx, query)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("decompose query: %w", err)
	}

	if file != nil {
		annotateFileIntake(plan, o.ocrPredicate(query))
	}

	w := o.buildWorkflow(plan, file)

	var onProgress workflow.ProgressFunc
	if o.streamMgr != nil {
		onProgress = func(evt workflow.ProgressEvent) error {
			o.streamMgr.Publish(streaming.Event{
				WorkflowID: evt.WorkflowID,
				TaskID:     evt.TaskID,
				Type:       string(evt.Status),
			})
			return nil
		}
	}

	result, err := o.engine.Execute(ctx, w, onProgress)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("execute workflow: %w", err)
	}

	sources := collectSourceResults(plan, result)
	aggregated, err := o.aggregator.Aggregate(ctx, query, sources, o.strategy)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("aggregate results: %w", err)
	}

	answer := aggregated.Content
	if len(aggregated.Sources) > 0 {
		answer = formatting.FormatReportWithCitations(answer, citationList(aggregated.Sources))
	}

	return ProcessResult{
		Answer:     answer,
		ToolsUsed:  toolsUsed(plan),
		Sources:    aggregated.Sources,
		Details:    map[string]any{"routing_method": method, "workflow_id": w.ID},
		KeyPoints:  aggregated.KeyPoints,
		Confidence: aggregated.Confidence,
	}, nil
}

// citationList renders aggregated.Sources as the numbered-line format
// formatting.FormatReportWithCitations expects, so a synthesized answer
// that cites sources inline as [1], [2] gets a matching Sources section
// appended even though the aggregator itself never generates citations.
func citationList(sources []string) string {
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, s)
	}
	return b.String()
}

// buildWorkflow turns a TaskPlan into a DAG-mode Workflow, one Task per
// SubTask, attaching the file (if any) to every task's ExecutionContext.
func (o *Orchestrator) buildWorkflow(plan *planning.TaskPlan, file *FileHandle) *workflow.Workflow {
	w := &workflow.Workflow{
		ID:   uuid.NewString(),
		Mode: workflow.DAG,
	}
	for _, st := range plan.Subtasks {
		ec := map[string]any{}
		if file != nil {
			ec["file"] = file
		}
		// Subtask IDs are already validated unique by TaskPlan.Validate,
		// called from Decompose before a plan is ever returned.
		_ = w.AddTask(workflow.Task{
			ID:               st.ID,
			TaskType:         st.TaskType,
			Query:            st.Query,
			Dependencies:     st.Dependencies,
			OutputVariable:   st.OutputVariable,
			ExecutionContext: ec,
		})
	}
	return w
}

// collectSourceResults builds one aggregation.SourceResult per completed
// task, crediting each with a fixed baseline credibility; a capability
// executor that knows its own confidence can override this by returning a
// map[string]any result containing a "credibility" key.
func collectSourceResults(plan *planning.TaskPlan, result workflow.WorkflowResult) []aggregation.SourceResult {
	var sources []aggregation.SourceResult
	for _, st := range plan.Subtasks {
		res, ok := result.Results[st.ID]
		if !ok || res.Status != workflow.StatusCompleted {
			continue
		}
		cred := 0.5
		if m, ok := res.Output.(map[string]any); ok {
			if c, ok := m["credibility"].(float64); ok {
				cred = c
			}
		}
		sources = append(sources, aggregation.SourceResult{
			Source:      st.ID,
			Content:     res.Output,
			Credibility: cred,
		})
	}
	return sources
}

func toolsUsed(plan *planning.TaskPlan) []string {
	seen := make(map[string]bool)
	var tools []string
	for _, st := range plan.Subtasks {
		for _, req := range tasktype.RequiredTools(st.TaskType) {
			if !seen[req.ToolName] {
				seen[req.ToolName] = true
				tools = append(tools, req.ToolName)
			}
		}
	}
	return tools
}

// annotateFileIntake steers every subtask whose type is OCR or Vision to
// the type the predicate selected, so a plan generated before the file's
// intake was known still lands on the right capability executor.
func annotateFileIntake(plan *planning.TaskPlan, isOCR bool) {
	target := tasktype.Vision
	if isOCR {
		target = tasktype.OCR
	}
	for i, st := range plan.Subtasks {
		if st.TaskType == tasktype.OCR || st.TaskType == tasktype.Vision {
			plan.Subtasks[i].TaskType = target
		}
	}
}

// ocrKeywordHeuristic is the default FileIntakePredicate, ported from the
// Python lineage's _is_ocr_intent: a handful of "read the text out of
// this" phrasings imply OCR; everything else attached to a query about an
// image implies Vision (describe/analyze/what's in this picture).
func ocrKeywordHeuristic(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range []string{"extract text", "read the text", "read text", "ocr", "transcribe", "what does it say", "what does the text say"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
