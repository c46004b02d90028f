package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

func validPlan() *TaskPlan {
	return &TaskPlan{
		OriginalQuery: "compare weather in paris and tokyo",
		Subtasks: []SubTask{
			{ID: "t1", TaskType: tasktype.Weather, Query: "weather in paris", OutputVariable: "paris"},
			{ID: "t2", TaskType: tasktype.Weather, Query: "weather in tokyo", OutputVariable: "tokyo"},
			{ID: "t3", TaskType: tasktype.Chat, Query: "compare {{paris}} and {{tokyo}}", Dependencies: []string{"t1", "t2"}, OutputVariable: "result"},
		},
	}
}

func TestPlanValidateAcceptsWellFormedDAG(t *testing.T) {
	p := validPlan()
	require.NoError(t, p.Validate())
}

func TestPlanValidateRejectsCycle(t *testing.T) {
	p := validPlan()
	p.Subtasks[0].Dependencies = []string{"t3"} // t1 -> t3 -> t1
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.CycleDetected))
}

func TestPlanValidateRejectsUnknownDependency(t *testing.T) {
	p := validPlan()
	p.Subtasks[2].Dependencies = append(p.Subtasks[2].Dependencies, "ghost")
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.PlanValidationError))
}

func TestPlanValidateRejectsUnknownVariableReference(t *testing.T) {
	p := validPlan()
	p.Subtasks[2].Query = "compare {{paris}} and {{missing}}"
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.PlanValidationError))
}

func TestPlanValidateRejectsDuplicateOutputVariable(t *testing.T) {
	p := validPlan()
	p.Subtasks[1].OutputVariable = "paris"
	err := p.Validate()
	require.Error(t, err)
}

func TestPlanValidateRejectsTooManySubtasks(t *testing.T) {
	p := &TaskPlan{OriginalQuery: "q"}
	for i := 0; i < maxSubtasks+1; i++ {
		p.Subtasks = append(p.Subtasks, SubTask{ID: string(rune('a' + i)), TaskType: tasktype.Chat})
	}
	err := p.Validate()
	require.Error(t, err)
}

func TestInterpolateSubstitutesResolvedVariables(t *testing.T) {
	out := Interpolate("compare {{paris}} and {{tokyo}}", map[string]string{
		"paris": "sunny", "tokyo": "rainy",
	})
	assert.Equal(t, "compare sunny and rainy", out)
}

func TestInterpolateLeavesUnresolvedReferencesUntouched(t *testing.T) {
	out := Interpolate("compare {{paris}} and {{tokyo}}", map[string]string{"paris": "sunny"})
	assert.Equal(t, "compare sunny and {{tokyo}}", out)
}

func TestFallbackPlanPicksWeatherOverDefault(t *testing.T) {
	p := FallbackPlan("what's the weather like in Lisbon")
	require.Len(t, p.Subtasks, 1)
	assert.Equal(t, tasktype.Weather, p.Subtasks[0].TaskType)
}

func TestFallbackPlanDefaultsToResearch(t *testing.T) {
	p := FallbackPlan("tell me something interesting")
	require.Len(t, p.Subtasks, 1)
	assert.Equal(t, tasktype.Research, p.Subtasks[0].TaskType)
}
