package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/llmclient"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

const llmClassifierTemperature = 0.1
const llmClassifierMaxTokens = 400

// LLMClassifier asks the configured LLM Client to classify a query when
// the keyword classifier's confidence is too low to trust on its own.
type LLMClassifier struct {
	client llmclient.Client
	logger *zap.Logger
}

func NewLLMClassifier(client llmclient.Client, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClassifier{client: client, logger: logger}
}

// Classify never returns a validation error for a well-formed non-empty
// query: any LLM or parse failure degrades to a low-confidence Chat
// decision carrying the failure in Metadata[tasktype.MetaLLMError], so
// callers can fall back to the keyword result instead of failing the
// whole routing pass.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (*tasktype.Decision, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.InvalidQuery, "query cannot be empty", nil)
	}

	if c.client == nil {
		return c.fallback(query, "no llm client configured", nil), nil
	}

	prompt := buildClassificationPrompt(query)
	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: classificationSystemPrompt},
		{Role: llmclient.RoleUser, Content: prompt},
	}

	reply, err := c.client.Complete(ctx, messages, llmClassifierTemperature, llmClassifierMaxTokens)
	if err != nil {
		return c.fallback(query, "llm call failed", err), nil
	}

	decision, err := parseClassificationReply(query, reply)
	if err != nil {
		return c.fallback(query, "malformed llm output", err), nil
	}
	decision.Metadata[tasktype.MetaMethod] = tasktype.MethodLLM
	return decision, nil
}

func (c *LLMClassifier) fallback(query, reason string, cause error) *tasktype.Decision {
	c.logger.Warn("llm classification fallback", zap.String("reason", reason), zap.Error(cause))
	d, _ := tasktype.NewDecision(query, tasktype.Chat, 0.3, reason)
	d.Metadata[tasktype.MetaMethod] = tasktype.MethodLLMFallback
	if cause != nil {
		d.Metadata[tasktype.MetaLLMError] = cause.Error()
	} else {
		d.Metadata[tasktype.MetaLLMError] = reason
	}
	return d
}

const classificationSystemPrompt = "You are a precise query classifier for a multi-agent orchestrator. " +
	"Respond with a single JSON object and nothing else."

// buildClassificationPrompt builds a single English prompt, used whatever
// the query's language: the task type names, the required JSON shape,
// rules for the Chinese idioms that the keyword classifier cannot reliably
// resolve on its own (是什么/什么是 -> research, 怎么走 -> routing,
// 目前/现在 + a domain word -> that domain), and two worked examples.
func buildClassificationPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Classify the following query into exactly one task type.\n\n")
	b.WriteString("Task types:\n")
	for _, tt := range tasktype.All {
		b.WriteString(fmt.Sprintf("- %s\n", tt))
	}
	b.WriteString("\nRespond with JSON only, matching this shape:\n")
	b.WriteString(`{"primary_task_type": "...", "confidence": 0.0-1.0, "reasoning": "...", ` +
		`"multi_intent": false, "alternative_task_types": []}` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- 是什么 or 什么是 in the query means research.\n")
	b.WriteString("- 怎么走 or 怎么去 means routing.\n")
	b.WriteString("- 目前 or 现在 combined with a weather or finance word means that domain, not chat.\n\n")
	b.WriteString("Examples:\n")
	b.WriteString(`Query: "What is the weather like in Tokyo tomorrow?" -> {"primary_task_type": "weather", "confidence": 0.95, "reasoning": "explicit weather request", "multi_intent": false, "alternative_task_types": []}` + "\n")
	b.WriteString(`Query: "区块链是什么" -> {"primary_task_type": "research", "confidence": 0.9, "reasoning": "是什么 pattern", "multi_intent": false, "alternative_task_types": []}` + "\n\n")
	b.WriteString("Query: \"" + query + "\"\n")
	return b.String()
}

// parseClassificationReply extracts the first balanced JSON object from
// the reply. Earlier lineages used a greedy regex (`\{.*\}`) here, which
// misparses whenever the model emits more than one brace-delimited span;
// scanning for the first balanced span is the fix.
func parseClassificationReply(query, reply string) (*tasktype.Decision, error) {
	obj, err := firstBalancedJSONObject(reply)
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(obj) {
		return nil, apperrors.New(apperrors.MalformedLLMOutput, "response is not valid JSON", err)
	}
	parsed := gjson.Parse(obj)

	ttRaw := parsed.Get("primary_task_type").String()
	tt, ok := tasktype.Parse(ttRaw)
	if !ok {
		return nil, apperrors.New(apperrors.MalformedLLMOutput, fmt.Sprintf("unknown task type %q", ttRaw), nil)
	}

	confidence := 0.5
	if c := parsed.Get("confidence"); c.Exists() {
		confidence = c.Float()
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	reasoning := parsed.Get("reasoning").String()
	if reasoning == "" {
		reasoning = "llm classification"
	}

	decision, err := tasktype.NewDecision(query, tt, confidence, reasoning)
	if err != nil {
		return nil, apperrors.New(apperrors.MalformedLLMOutput, "invalid confidence in llm response", err)
	}
	decision.ToolsNeeded = tasktype.RequiredTools(tt)
	decision.MultiIntent = parsed.Get("multi_intent").Bool()

	for _, alt := range parsed.Get("alternative_task_types").Array() {
		if altType, ok := tasktype.Parse(alt.String()); ok {
			decision.AlternativeTaskTypes = append(decision.AlternativeTaskTypes, altType)
		}
	}
	return decision, nil
}

// firstBalancedJSONObject scans s for the first '{' and returns the text
// through its matching '}', tracking string literals and escapes so that
// braces inside quoted strings do not throw off the depth count.
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
