// Package planning implements the Task Decomposer: an LLM-driven DAG
// plan generator with variable interpolation, Kahn's-algorithm cycle
// detection, and a keyword-heuristic fallback plan for when the LLM is
// unavailable or returns something unusable.
package planning

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

// maxSubtasks bounds the size of a single decomposition; a plan with more
// subtasks than this is rejected as a validation error rather than
// silently truncated.
const maxSubtasks = 10

// SubTask is one node of a TaskPlan's DAG.
type SubTask struct {
	ID             string          `json:"id"`
	TaskType       tasktype.TaskType `json:"task_type"`
	Query          string          `json:"query"`
	Dependencies   []string        `json:"dependencies"`
	OutputVariable string          `json:"output_variable"`
}

// TaskPlan is the full decomposition of one query into a DAG of subtasks.
type TaskPlan struct {
	OriginalQuery string    `json:"original_query"`
	Subtasks      []SubTask `json:"subtasks"`
	Reasoning     string    `json:"reasoning"`
}

var variableRef = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Validate checks the structural invariants a plan must hold before it can
// be handed to the workflow engine: unique subtask IDs, unique non-empty
// output variables, dependencies and {{variable}} references that only
// point at other subtasks in the same plan, a subtask count bound, and no
// dependency cycle.
func (p *TaskPlan) Validate() error {
	if len(p.Subtasks) == 0 {
		return apperrors.New(apperrors.PlanValidationError, "plan has no subtasks", nil)
	}
	if len(p.Subtasks) > maxSubtasks {
		return apperrors.New(apperrors.PlanValidationError,
			fmt.Sprintf("plan has %d subtasks, exceeding the maximum of %d", len(p.Subtasks), maxSubtasks), nil)
	}

	ids := make(map[string]bool, len(p.Subtasks))
	outputVars := make(map[string]bool, len(p.Subtasks))
	for _, st := range p.Subtasks {
		if st.ID == "" {
			return apperrors.New(apperrors.PlanValidationError, "subtask has an empty id", nil)
		}
		if ids[st.ID] {
			return apperrors.New(apperrors.PlanValidationError, fmt.Sprintf("duplicate subtask id %q", st.ID), nil)
		}
		ids[st.ID] = true

		if !st.TaskType.Valid() {
			return apperrors.New(apperrors.PlanValidationError, fmt.Sprintf("subtask %q has invalid task type %q", st.ID, st.TaskType), nil)
		}

		if st.OutputVariable != "" {
			if outputVars[st.OutputVariable] {
				return apperrors.New(apperrors.PlanValidationError, fmt.Sprintf("duplicate output variable %q", st.OutputVariable), nil)
			}
			outputVars[st.OutputVariable] = true
		}
	}

	for _, st := range p.Subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID {
				return apperrors.New(apperrors.PlanValidationError, fmt.Sprintf("subtask %q depends on itself", st.ID), nil)
			}
			if !ids[dep] {
				return apperrors.New(apperrors.PlanValidationError, fmt.Sprintf("subtask %q depends on unknown subtask %q", st.ID, dep), nil)
			}
		}
		for _, ref := range variableRef.FindAllStringSubmatch(st.Query, -1) {
			if !outputVars[ref[1]] {
				return apperrors.New(apperrors.PlanValidationError,
					fmt.Sprintf("subtask %q references unknown variable {{%s}}", st.ID, ref[1]), nil)
			}
		}
	}

	if err := detectCycle(p.Subtasks); err != nil {
		return err
	}
	return nil
}

// Interpolate replaces every {{variableName}} reference in query with the
// corresponding string from resolved, leaving unresolved references
// untouched (Validate guarantees every reference names a real output
// variable, but a dependency that has not executed yet has no value to
// substitute).
func Interpolate(query string, resolved map[string]string) string {
	return variableRef.ReplaceAllStringFunc(query, func(match string) string {
		name := variableRef.FindStringSubmatch(match)[1]
		if v, ok := resolved[name]; ok {
			return v
		}
		return match
	})
}

// Visualize renders a plan as indented plain text for logs and debugging,
// in execution-order-agnostic subtask-declaration order.
func (p *TaskPlan) Visualize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan for: %s\n", p.OriginalQuery)
	if p.Reasoning != "" {
		fmt.Fprintf(&b, "Reasoning: %s\n", p.Reasoning)
	}
	for i, st := range p.Subtasks {
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", i+1, st.ID, st.Query, st.TaskType)
		if len(st.Dependencies) > 0 {
			fmt.Fprintf(&b, "   depends on: %s\n", strings.Join(st.Dependencies, ", "))
		}
		if st.OutputVariable != "" {
			fmt.Fprintf(&b, "   produces: %s\n", st.OutputVariable)
		}
	}
	return b.String()
}
