package planning

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/llmclient"
	"github.com/coreflux-ai/agentrouter/internal/metrics"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

const (
	decomposerTemperature = 0.2
	decomposerMaxTokens   = 1200
)

// Decomposer turns a query into a validated TaskPlan, calling out to an
// LLM Client for the actual decomposition and falling back to a single
// keyword-routed subtask when the LLM is unavailable or returns a plan
// that does not validate.
type Decomposer struct {
	client llmclient.Client
	logger *zap.Logger
}

func NewDecomposer(client llmclient.Client, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{client: client, logger: logger}
}

// Decompose returns a validated plan. On any LLM or parse failure it logs
// the cause and returns the fallback plan instead of an error, since a
// single best-guess subtask is strictly more useful to the caller than a
// failed decomposition.
func (d *Decomposer) Decompose(ctx context.Context, query string) (*TaskPlan, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.InvalidQuery, "query cannot be empty", nil)
	}

	start := time.Now()
	plan, outcome := d.decompose(ctx, query)
	metrics.DecompositionLatency.Observe(time.Since(start).Seconds())
	metrics.DecompositionsTotal.WithLabelValues(outcome).Inc()
	return plan, nil
}

func (d *Decomposer) decompose(ctx context.Context, query string) (*TaskPlan, string) {
	if d.client == nil {
		d.logger.Debug("no llm client configured, using fallback plan")
		return FallbackPlan(query), "fallback_plan"
	}

	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: decomposerSystemPrompt},
		{Role: llmclient.RoleUser, Content: buildDecompositionPrompt(query)},
	}

	reply, err := d.client.Complete(ctx, messages, decomposerTemperature, decomposerMaxTokens)
	if err != nil {
		d.logger.Warn("decomposition llm call failed, using fallback plan", zap.Error(err))
		return FallbackPlan(query), "fallback_plan"
	}

	plan, err := parsePlanReply(query, reply)
	if err != nil {
		d.logger.Warn("decomposition response did not validate, using fallback plan", zap.Error(err))
		return FallbackPlan(query), "fallback_plan"
	}
	return plan, "llm_plan"
}

const decomposerSystemPrompt = "You decompose a user query into a small DAG of subtasks for specialized " +
	"agents to execute. Respond with a single JSON object and nothing else."

// buildDecompositionPrompt mirrors the lineage's decomposition prompt:
// the available task types, the required JSON shape including
// dependencies/output_variable, the {{variable}} interpolation syntax,
// and the requirement that weather/finance/routing subtask queries be
// normalized to English regardless of the original query's language.
func buildDecompositionPrompt(query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the following query into at most %d subtasks forming a DAG.\n\n", maxSubtasks)
	b.WriteString("Available task types:\n")
	for _, tt := range tasktype.All {
		fmt.Fprintf(&b, "- %s\n", tt)
	}
	b.WriteString("\nEach subtask has: id, task_type, query, dependencies (list of subtask ids), " +
		"output_variable (a name other subtasks can reference as {{output_variable}} in their own query).\n")
	b.WriteString("Weather, finance, and routing subtask queries must be normalized to English " +
		"regardless of what language the original query used, since those tools only accept English input.\n\n")
	b.WriteString("Respond with JSON only, matching this shape:\n")
	b.WriteString(`{"subtasks": [{"id": "t1", "task_type": "research", "query": "...", ` +
		`"dependencies": [], "output_variable": "summary"}], "reasoning": "..."}` + "\n\n")
	b.WriteString("Example: \"Compare today's weather in Paris and Tokyo\" ->\n")
	b.WriteString(`{"subtasks": [` +
		`{"id": "t1", "task_type": "weather", "query": "current weather in Paris", "dependencies": [], "output_variable": "paris_weather"}, ` +
		`{"id": "t2", "task_type": "weather", "query": "current weather in Tokyo", "dependencies": [], "output_variable": "tokyo_weather"}, ` +
		`{"id": "t3", "task_type": "chat", "query": "Compare {{paris_weather}} and {{tokyo_weather}}", "dependencies": ["t1", "t2"], "output_variable": "comparison"}` +
		`], "reasoning": "two independent weather lookups feeding a comparison step"}` + "\n\n")
	fmt.Fprintf(&b, "Query: %q\n", query)
	return b.String()
}

func parsePlanReply(query, reply string) (*TaskPlan, error) {
	obj, err := firstBalancedJSONObject(reply)
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(obj) {
		return nil, apperrors.New(apperrors.MalformedLLMOutput, "response is not valid JSON", nil)
	}
	parsed := gjson.Parse(obj)

	subtasksJSON := parsed.Get("subtasks")
	if !subtasksJSON.IsArray() {
		return nil, apperrors.New(apperrors.MalformedLLMOutput, "response has no subtasks array", nil)
	}

	var subtasks []SubTask
	for _, raw := range subtasksJSON.Array() {
		ttRaw := raw.Get("task_type").String()
		tt, ok := tasktype.Parse(ttRaw)
		if !ok {
			return nil, apperrors.New(apperrors.MalformedLLMOutput, fmt.Sprintf("unknown task type %q in plan", ttRaw), nil)
		}
		id := raw.Get("id").String()
		if id == "" {
			id = "t" + strconv.Itoa(len(subtasks)+1)
		}

		var deps []string
		for _, dep := range raw.Get("dependencies").Array() {
			deps = append(deps, dep.String())
		}

		subtasks = append(subtasks, SubTask{
			ID:             id,
			TaskType:       tt,
			Query:          raw.Get("query").String(),
			Dependencies:   deps,
			OutputVariable: raw.Get("output_variable").String(),
		})
	}

	plan := &TaskPlan{
		OriginalQuery: query,
		Subtasks:      subtasks,
		Reasoning:     parsed.Get("reasoning").String(),
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// firstBalancedJSONObject is shared logic with the routing package's LLM
// reply parser; duplicated rather than imported to keep planning free of
// a dependency on routing's internals for a few dozen lines of scanning.
func firstBalancedJSONObject(s string) (string, error) {
	start := strings.IndexRune(s, '{')
	if start < 0 {
		return "", apperrors.New(apperrors.MalformedLLMOutput, "no JSON object found in response", nil)
	}
	depth := 0
	inString := false
	escaped := false
	for i, r := range s[start:] {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end := start + i + len(string(r))
				return s[start:end], nil
			}
		}
	}
	return "", apperrors.New(apperrors.MalformedLLMOutput, "unbalanced JSON object in response", nil)
}

// FallbackPlan builds the single-subtask plan used when the LLM is
// unavailable: a keyword-heuristic pass over the query in the precedence
// order weather -> finance -> routing -> ocr -> vision -> code -> rag ->
// default research, using its own short keyword lists rather than the
// Router's keyword classifier, since by this point we only need a coarse
// task type, not a justification.
func FallbackPlan(query string) *TaskPlan {
	lower := strings.ToLower(query)
	tt := tasktype.Research
	switch {
	case containsAny(lower, []string{"weather", "forecast", "天气", "气温"}):
		tt = tasktype.Weather
	case containsAny(lower, []string{"stock", "price", "market", "股票", "股价"}):
		tt = tasktype.Finance
	case containsAny(lower, []string{"route", "direction", "navigate", "路线", "导航"}):
		tt = tasktype.Routing
	case containsAny(lower, []string{"ocr", "extract text", "scan document"}):
		tt = tasktype.OCR
	case containsAny(lower, []string{"image", "picture", "photo", "vision"}):
		tt = tasktype.Vision
	case containsAny(lower, []string{"code", "calculate", "compute", "算", "代码"}):
		tt = tasktype.Code
	case containsAny(lower, []string{"document", "pdf", "文档"}):
		tt = tasktype.RAG
	}

	return &TaskPlan{
		OriginalQuery: query,
		Reasoning:     "fallback plan: single subtask selected by keyword heuristic",
		Subtasks: []SubTask{
			{
				ID:             uuid.NewString(),
				TaskType:       tt,
				Query:          query,
				OutputVariable: "result",
			},
		},
	}
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
