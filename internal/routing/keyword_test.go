package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

func TestKeywordClassifierPrecedence(t *testing.T) {
	k := NewKeywordClassifier(nil)

	cases := []struct {
		name     string
		query    string
		expected tasktype.TaskType
	}{
		{"english weather", "What is the weather in Beijing today?", tasktype.Weather},
		{"chinese weather", "北京今天天气怎么样", tasktype.Weather},
		{"finance", "What is the stock price of Tesla?", tasktype.Finance},
		{"routing with location", "How do I get from Boston to New York?", tasktype.Routing},
		{"routing keyword without location falls through to question mark", "Can you give me directions?", tasktype.Research},
		{"rag document", "Please analyze document attached in this email", tasktype.RAG},
		{"explicit code keyword", "write code to sort a list", tasktype.Code},
		{"math expression", "Calculate 2^10", tasktype.Code},
		{"factorial operator", "What is 5!", tasktype.Code},
		{"unit conversion", "how many hours in a week", tasktype.Code},
		{"calculation indicator demoted by real-time marker", "How many people are here right now", tasktype.Chat},
		{"research question english", "What is blockchain?", tasktype.Research},
		{"research question chinese", "什么是区块链？", tasktype.Research},
		{"bare question mark fallback", "Is this thing on?", tasktype.Research},
		{"chat default", "Thanks for your help today", tasktype.Chat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := k.Classify(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, decision.PrimaryTaskType, "query: %q reasoning: %s", tc.query, decision.Reasoning)
			assert.GreaterOrEqual(t, decision.Confidence, 0.0)
			assert.LessOrEqual(t, decision.Confidence, 1.0)
			assert.Equal(t, tasktype.MethodKeyword, decision.Metadata[tasktype.MetaMethod])
		})
	}
}

func TestKeywordClassifierValidation(t *testing.T) {
	k := NewKeywordClassifier(nil)

	_, err := k.Classify("")
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.InvalidQuery))

	_, err = k.Classify("   ")
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.InvalidQuery))

	_, err = k.Classify(strings.Repeat("a", maxQueryLength+1))
	require.Error(t, err)
	assert.True(t, apperrors.HasKind(err, apperrors.InvalidQuery))
}

func TestKeywordClassifierAttachesRequiredTools(t *testing.T) {
	k := NewKeywordClassifier(nil)
	decision, err := k.Classify("What is the weather in Tokyo?")
	require.NoError(t, err)
	require.NotEmpty(t, decision.ToolsNeeded)
	assert.Equal(t, "weather_api", decision.ToolsNeeded[0].ToolName)
}

func TestKeywordClassifierConfidenceIncreasesWithMoreSignal(t *testing.T) {
	k := NewKeywordClassifier(nil)

	weak, err := k.Classify("write code")
	require.NoError(t, err)

	strong, err := k.Classify("write code to calculate and solve 2+2=4")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, strong.Confidence, weak.Confidence)
}
