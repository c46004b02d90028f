package planning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreflux-ai/agentrouter/internal/llmclient"
)

type fakeClient struct {
	reply string
	err   error
}

func (f *fakeClient) Complete(ctx context.Context, messages []llmclient.Message, temperature float64, maxTokens int) (string, error) {
	return f.reply, f.err
}

func TestDecomposerParsesWellFormedPlan(t *testing.T) {
	reply := `{"subtasks": [{"id": "t1", "task_type": "weather", "query": "weather in paris", ` +
		`"dependencies": [], "output_variable": "paris"}], "reasoning": "single lookup"}`
	d := NewDecomposer(&fakeClient{reply: reply}, nil)

	plan, err := d.Decompose(context.Background(), "what's the weather in paris")
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "paris", plan.Subtasks[0].OutputVariable)
}

func TestDecomposerFallsBackOnLLMError(t *testing.T) {
	d := NewDecomposer(&fakeClient{err: assertErr{}}, nil)
	plan, err := d.Decompose(context.Background(), "what's the weather in paris")
	require.NoError(t, err)
	assert.Contains(t, plan.Reasoning, "fallback")
}

func TestDecomposerFallsBackOnMalformedReply(t *testing.T) {
	d := NewDecomposer(&fakeClient{reply: "not json at all"}, nil)
	plan, err := d.Decompose(context.Background(), "what's the weather in paris")
	require.NoError(t, err)
	assert.Contains(t, plan.Reasoning, "fallback")
}

func TestDecomposerFallsBackOnInvalidPlan(t *testing.T) {
	reply := `{"subtasks": [{"id": "t1", "task_type": "weather", "query": "{{missing}}", "dependencies": [], "output_variable": "x"}]}`
	d := NewDecomposer(&fakeClient{reply: reply}, nil)
	plan, err := d.Decompose(context.Background(), "weather somewhere")
	require.NoError(t, err)
	assert.Contains(t, plan.Reasoning, "fallback")
}

type assertErr struct{}

func (assertErr) Error() string { return "provider unavailable" }
