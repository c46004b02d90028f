// Package tasktype defines the closed capability-class enumeration and the
// routing value objects built on top of it.
package tasktype

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskType is the closed set of capability classes a query can route to.
type TaskType string

const (
	Research TaskType = "research"
	Code     TaskType = "code"
	Chat     TaskType = "chat"
	RAG      TaskType = "rag"
	Weather  TaskType = "weather"
	Finance  TaskType = "finance"
	Routing  TaskType = "routing"
	OCR      TaskType = "ocr"
	Vision   TaskType = "vision"
)

// All enumerates the closed set, in catalog order.
var All = []TaskType{Research, Code, Chat, RAG, Weather, Finance, Routing, OCR, Vision}

// Valid reports whether t is one of the catalog values.
func (t TaskType) Valid() bool {
	for _, v := range All {
		if v == t {
			return true
		}
	}
	return false
}

func (t TaskType) String() string { return string(t) }

// Parse is a case-insensitive lookup from a raw string (e.g. LLM output)
// into a TaskType. Unknown values return (Chat, false) so callers that want
// an unknown-maps-to-CHAT behavior can use the zero-ok fallback directly;
// callers needing strict validation check the bool.
func Parse(s string) (TaskType, bool) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t, true
	}
	return Chat, false
}

// MarshalJSON enforces lowercase string serialization.
func (t TaskType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// UnmarshalJSON accepts case-insensitive input, coercing unknown values to
// Chat rather than failing the whole decode.
func (t *TaskType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tasktype: %w", err)
	}
	parsed, _ := Parse(s)
	*t = parsed
	return nil
}

// ToolRequirement is a purely declarative description of a tool a task
// type needs; it never holds a reference to an executor implementation.
type ToolRequirement struct {
	ToolName   string         `json:"tool_name"`
	ToolType   string         `json:"tool_type"`
	Required   bool           `json:"required"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// staticToolRequirements is the per-task-type static tool table described
// in spec section 4.1 ("Tool requirements per task type are static").
var staticToolRequirements = map[TaskType][]ToolRequirement{
	Research: {
		{ToolName: "search", ToolType: "web_search", Required: true},
		{ToolName: "scraper", ToolType: "web_scraper", Required: true},
	},
	Code:    {{ToolName: "code_executor", ToolType: "sandbox", Required: true}},
	Weather: {{ToolName: "weather_api", ToolType: "domain_api", Required: true}},
	Finance: {{ToolName: "stock_api", ToolType: "domain_api", Required: true}},
	Routing: {{ToolName: "routing_api", ToolType: "domain_api", Required: true}},
	RAG: {
		{ToolName: "vector_store", ToolType: "retrieval", Required: true},
		{ToolName: "document_processor", ToolType: "retrieval", Required: true},
	},
	OCR:    {{ToolName: "ocr", ToolType: "multimodal", Required: true}},
	Vision: {{ToolName: "vision", ToolType: "multimodal", Required: true}},
	Chat:   {},
}

// RequiredTools returns the static tool requirements for t. The returned
// slice is a copy; callers may freely mutate it.
func RequiredTools(t TaskType) []ToolRequirement {
	src := staticToolRequirements[t]
	out := make([]ToolRequirement, len(src))
	copy(out, src)
	return out
}
