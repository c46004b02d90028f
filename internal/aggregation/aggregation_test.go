package aggregation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreflux-ai/agentrouter/internal/llmclient"
)

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llmclient.Message, temperature float64, maxTokens int) (string, error) {
	return f.reply, f.err
}

func TestDeduplicateRemovesExactDuplicates(t *testing.T) {
	results := []SourceResult{
		{Source: "a", Content: "Paris is the capital of France."},
		{Source: "b", Content: "paris is the capital of france."},
	}
	deduped := Deduplicate(results)
	assert.Len(t, deduped, 1)
}

func TestDeduplicateRemovesNearDuplicates(t *testing.T) {
	results := []SourceResult{
		{Source: "a", Content: "The quick brown fox jumps over the lazy dog"},
		{Source: "b", Content: "The quick brown fox jumps over the lazy dog."},
		{Source: "c", Content: "Completely unrelated content about rocket engines"},
	}
	deduped := Deduplicate(results)
	assert.Len(t, deduped, 2)
}

func TestDeduplicateKeepsDistinctResults(t *testing.T) {
	results := []SourceResult{
		{Source: "a", Content: "Weather in Paris is sunny"},
		{Source: "b", Content: "Stock price of Tesla rose 3 percent"},
	}
	deduped := Deduplicate(results)
	assert.Len(t, deduped, 2)
}

func TestComputeAggregateConfidenceFormula(t *testing.T) {
	results := []SourceResult{
		{Source: "a", Credibility: 0.9},
		{Source: "b", Credibility: 0.7},
	}
	conf := ComputeAggregateConfidence(results)
	// countFactor = 2/5 = 0.4, mean credibility = 0.8
	// 0.4*0.4 + 0.6*0.8 = 0.16 + 0.48 = 0.64
	assert.InDelta(t, 0.64, conf, 0.001)
}

func TestComputeAggregateConfidenceSaturatesAtFiveSources(t *testing.T) {
	var results []SourceResult
	for i := 0; i < 8; i++ {
		results = append(results, SourceResult{Source: "s", Credibility: 1.0})
	}
	conf := ComputeAggregateConfidence(results)
	assert.InDelta(t, 1.0, conf, 0.001)
}

func TestConcatenateStrategyJoinsWithSeparator(t *testing.T) {
	agg := NewAggregator(nil, nil)
	result, err := agg.Aggregate(context.Background(), "q", []SourceResult{
		{Source: "a", Content: "first result"},
		{Source: "b", Content: "second result"},
	}, Concatenate)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "first result")
	assert.Contains(t, result.Content, "second result")
	assert.Contains(t, result.Content, "---")
}

func TestRankStrategyOrdersByCredibilityAndCapsAtThree(t *testing.T) {
	agg := NewAggregator(nil, nil)
	result, err := agg.Aggregate(context.Background(), "q", []SourceResult{
		{Source: "low", Content: "low credibility result", Credibility: 0.1},
		{Source: "high", Content: "high credibility result", Credibility: 0.9},
		{Source: "mid1", Content: "mid1", Credibility: 0.5},
		{Source: "mid2", Content: "mid2", Credibility: 0.4},
	}, Rank)
	require.NoError(t, err)
	require.Len(t, result.Sources, 3)
	assert.Equal(t, "high", result.Sources[0])
}

func TestSynthesizeFallsBackToConcatenateWithoutClient(t *testing.T) {
	agg := NewAggregator(nil, nil)
	result, err := agg.Aggregate(context.Background(), "q", []SourceResult{
		{Source: "a", Content: "some content"},
	}, Synthesize)
	require.NoError(t, err)
	assert.Equal(t, Concatenate, result.Strategy)
}

func TestSynthesizeUsesLLMWhenAvailable(t *testing.T) {
	reply := `{"summary": "a synthesized answer", "key_points": ["point one", "point two"], "confidence": 0.83}`
	agg := NewAggregator(&fakeLLM{reply: reply}, nil)
	result, err := agg.Aggregate(context.Background(), "q", []SourceResult{
		{Source: "a", Content: "some content"},
	}, Synthesize)
	require.NoError(t, err)
	assert.Equal(t, Synthesize, result.Strategy)
	assert.Equal(t, "a synthesized answer", result.Content)
	assert.Equal(t, []string{"point one", "point two"}, result.KeyPoints)
	assert.InDelta(t, 0.83, result.Confidence, 0.001)
}

func TestSynthesizeFallsBackOnLLMError(t *testing.T) {
	agg := NewAggregator(&fakeLLM{err: errors.New("down")}, nil)
	result, err := agg.Aggregate(context.Background(), "q", []SourceResult{
		{Source: "a", Content: "some content"},
	}, Synthesize)
	require.NoError(t, err)
	assert.Equal(t, Concatenate, result.Strategy)
}

func TestSynthesizeFallsBackOnMalformedJSON(t *testing.T) {
	agg := NewAggregator(&fakeLLM{reply: "not json at all"}, nil)
	result, err := agg.Aggregate(context.Background(), "q", []SourceResult{
		{Source: "a", Content: "some content"},
	}, Synthesize)
	require.NoError(t, err)
	assert.Equal(t, Concatenate, result.Strategy)
}

func TestSynthesizeFallsBackToFormulaConfidenceWhenSelfAssessmentMissing(t *testing.T) {
	reply := `{"summary": "an answer", "key_points": []}`
	agg := NewAggregator(&fakeLLM{reply: reply}, nil)
	result, err := agg.Aggregate(context.Background(), "q", []SourceResult{
		{Source: "a", Content: "some content", Credibility: 0.9},
	}, Synthesize)
	require.NoError(t, err)
	assert.InDelta(t, ComputeAggregateConfidence([]SourceResult{{Source: "a", Content: "some content", Credibility: 0.9}}), result.Confidence, 0.001)
}
