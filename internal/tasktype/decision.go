package tasktype

import "fmt"

// Decision is the immutable (after construction) result of routing a
// query. The zero value is not useful; build one via NewDecision so the
// confidence invariant is enforced at the boundary instead of deep in a
// call stack.
type Decision struct {
	Query                string          `json:"query"`
	PrimaryTaskType      TaskType        `json:"primary_task_type"`
	Confidence           float64         `json:"confidence"`
	Reasoning            string          `json:"reasoning"`
	ToolsNeeded          []ToolRequirement `json:"tools_needed"`
	MultiIntent          bool            `json:"multi_intent"`
	AlternativeTaskTypes []TaskType      `json:"alternative_task_types"`
	Metadata             map[string]any  `json:"metadata"`
}

// Routing metadata keys of interest (spec section 3).
const (
	MetaMethod           = "method"
	MetaKeywordConfidence = "keyword_confidence"
	MetaKeywordTask      = "keyword_task"
	MetaCached           = "cached"
	MetaLanguage         = "language"
	MetaLLMError         = "llm_error"
	MetaError            = "error"
)

// Method values stored under MetaMethod.
const (
	MethodKeyword               = "keyword"
	MethodLLM                   = "llm"
	MethodLLMFallback           = "llm_fallback"
	MethodHybridKeyword         = "hybrid_keyword"
	MethodHybridLLM             = "hybrid_llm"
	MethodHybridKeywordFallback = "hybrid_keyword_fallback"
)

// NewDecision constructs a Decision, returning an error instead of
// panicking when confidence is out of [0.0, 1.0].
func NewDecision(query string, primary TaskType, confidence float64, reasoning string) (*Decision, error) {
	if confidence < 0.0 || confidence > 1.0 {
		return nil, fmt.Errorf("tasktype: confidence must be in [0.0, 1.0], got %v", confidence)
	}
	return &Decision{
		Query:           query,
		PrimaryTaskType: primary,
		Confidence:      confidence,
		Reasoning:       reasoning,
		Metadata:        make(map[string]any),
	}, nil
}

// Clone returns a deep-enough copy suitable for cache storage, so that
// mutating the returned Decision's metadata (e.g. setting "cached": true)
// never corrupts the cached original.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	cp := *d
	cp.ToolsNeeded = append([]ToolRequirement(nil), d.ToolsNeeded...)
	cp.AlternativeTaskTypes = append([]TaskType(nil), d.AlternativeTaskTypes...)
	cp.Metadata = make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
