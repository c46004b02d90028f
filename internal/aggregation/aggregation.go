// Package aggregation implements the Result Aggregator: exact and
// near-duplicate result removal followed by one of three merge
// strategies, plus the aggregate confidence formula the rest of the
// pipeline reports to callers.
package aggregation

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
	"github.com/coreflux-ai/agentrouter/internal/llmclient"
	"github.com/coreflux-ai/agentrouter/internal/metrics"
	"github.com/coreflux-ai/agentrouter/internal/util"
)

// Strategy selects how deduplicated results are merged into one answer.
type Strategy string

const (
	Synthesize  Strategy = "synthesize"
	Concatenate Strategy = "concatenate"
	Rank        Strategy = "rank"
)

// nearDuplicateThreshold mirrors the lineage's SequenceMatcher-ratio cutoff.
const nearDuplicateThreshold = 0.85

// SourceResult is one capability executor's raw output, tagged with the
// task it came from.
type SourceResult struct {
	Source      string
	Content     any
	Credibility float64 // defaults to 0.5 when unset/unknown
}

// AggregatedResult is what ProcessQuery ultimately hands back to a caller.
type AggregatedResult struct {
	Content    string
	KeyPoints  []string
	Sources    []string
	Confidence float64
	Strategy   Strategy
}

// Aggregator dedupes and merges SourceResults.
type Aggregator struct {
	client llmclient.Client // may be nil; Synthesize degrades to Concatenate without one
	logger *zap.Logger
}

func NewAggregator(client llmclient.Client, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{client: client, logger: logger}
}

// Aggregate deduplicates results and merges them with strategy.
func (a *Aggregator) Aggregate(ctx context.Context, query string, results []SourceResult, strategy Strategy) (AggregatedResult, error) {
	deduped := Deduplicate(results)
	metrics.DeduplicatedResults.Add(float64(len(results) - len(deduped)))
	metrics.AggregationsTotal.WithLabelValues(string(strategy)).Inc()

	var (
		aggregated AggregatedResult
		err        error
	)
	switch strategy {
	case Concatenate:
		aggregated = a.concatenate(deduped)
	case Rank:
		aggregated = a.rank(deduped)
	default:
		aggregated, err = a.synthesize(ctx, query, deduped)
	}
	if err != nil {
		return aggregated, err
	}
	metrics.AggregateConfidence.Observe(aggregated.Confidence)
	return aggregated, nil
}

// Deduplicate removes exact (MD5 hash) and near (similarity-ratio at or
// above nearDuplicateThreshold) duplicate results, keeping the first occurrence
// of each.
func Deduplicate(results []SourceResult) []SourceResult {
	seen := make(map[string]bool, len(results))
	var kept []SourceResult
	var keptText []string

	for _, r := range results {
		text := extractContent(r.Content)
		hash := contentHash(text)
		if seen[hash] {
			continue
		}

		if lo.SomeBy(keptText, func(existing string) bool {
			return similarityRatio(existing, text) >= nearDuplicateThreshold
		}) {
			continue
		}

		seen[hash] = true
		kept = append(kept, r)
		keptText = append(keptText, text)
	}
	return kept
}

func contentHash(text string) string {
	h := md5.Sum([]byte(strings.TrimSpace(strings.ToLower(text))))
	return hex.EncodeToString(h[:])
}

// extractContent tries the well-known keys a capability executor's
// map[string]any result might use, falling back to fmt.Sprint for
// anything else (including plain strings).
func extractContent(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if m, ok := v.(map[string]any); ok {
		for _, key := range []string{"content", "text", "summary", "answer", "description", "title"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprint(v)
}

// similarityRatio is a from-scratch stand-in for Python's
// difflib.SequenceMatcher ratio: 2*M / T where M is the length of the
// longest common subsequence of the two strings (computed exactly, by
// dynamic programming) and T is their combined length, both counted in
// characters (runes). No Go standard library or examples-pack dependency provides
// this; it is short and self-contained enough not to warrant pulling in
// a diff library for.
func similarityRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matches := lcsLength(a, b)
	return 2 * float64(matches) / float64(len([]rune(a))+len([]rune(b)))
}

func lcsLength(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func (a *Aggregator) concatenate(results []SourceResult) AggregatedResult {
	var parts []string
	var keyPoints []string
	var sources []string
	for _, r := range results {
		text := extractContent(r.Content)
		parts = append(parts, text)
		sources = append(sources, r.Source)
		if title := firstSentence(text); title != "" {
			keyPoints = append(keyPoints, title)
		}
	}
	return AggregatedResult{
		Content:    strings.Join(parts, "\n---\n"),
		KeyPoints:  keyPoints,
		Sources:    sources,
		Confidence: ComputeAggregateConfidence(results),
		Strategy:   Concatenate,
	}
}

func (a *Aggregator) rank(results []SourceResult) AggregatedResult {
	type scored struct {
		result SourceResult
		score  float64
	}
	ranked := make([]scored, len(results))
	for i, r := range results {
		ranked[i] = scored{result: r, score: r.Credibility}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top := ranked
	if len(top) > 3 {
		top = top[:3]
	}

	var parts []string
	var sources []string
	for _, s := range top {
		parts = append(parts, extractContent(s.result.Content))
		sources = append(sources, s.result.Source)
	}
	return AggregatedResult{
		Content:    strings.Join(parts, "\n---\n"),
		Sources:    sources,
		Confidence: ComputeAggregateConfidence(results),
		Strategy:   Rank,
	}
}

func (a *Aggregator) synthesize(ctx context.Context, query string, results []SourceResult) (AggregatedResult, error) {
	if a.client == nil || len(results) == 0 {
		return a.concatenate(results), nil
	}

	prompt := buildSynthesisPrompt(query, results)
	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: synthesisSystemPrompt},
		{Role: llmclient.RoleUser, Content: prompt},
	}

	reply, err := a.client.Complete(ctx, messages, 0.3, 800)
	if err != nil {
		a.logger.Warn("synthesis llm call failed, falling back to concatenation", zap.Error(err))
		return a.concatenate(results), nil
	}

	parsed, err := parseSynthesisReply(reply)
	if err != nil {
		a.logger.Warn("synthesis response did not parse, falling back to concatenation", zap.Error(err))
		return a.concatenate(results), nil
	}

	confidence := ComputeAggregateConfidence(results)
	if parsed.confidence.Exists() {
		if v := parsed.confidence.Float(); v >= 0 && v <= 1 {
			confidence = v
		}
	}

	sources := lo.Map(results, func(r SourceResult, _ int) string { return r.Source })
	return AggregatedResult{
		Content:    parsed.summary,
		KeyPoints:  parsed.keyPoints,
		Sources:    sources,
		Confidence: confidence,
		Strategy:   Synthesize,
	}, nil
}

const synthesisSystemPrompt = "You synthesize multiple agent results into a single coherent answer. " +
	`Respond with a single JSON object and nothing else, shaped as {"summary": "...", ` +
	`"key_points": ["...", "..."], "confidence": 0.0}, where summary is the unified answer, ` +
	"key_points has 3 to 5 entries, and confidence is your self-assessed confidence in [0,1]."

func buildSynthesisPrompt(query string, results []SourceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\nSource results:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. (%s) %s\n", i+1, r.Source, extractContent(r.Content))
	}
	b.WriteString("\nWrite one synthesized answer drawing on all of the above.\n")
	return b.String()
}

type synthesisReply struct {
	summary    string
	keyPoints  []string
	confidence gjson.Result
}

// parseSynthesisReply extracts the synthesis JSON object from reply. Unlike
// the Decomposer and LLM Classifier, which tolerate surrounding prose around
// the JSON, a summary/key_points/confidence object is expected to be the
// entire reply per synthesisSystemPrompt, but the same balanced-brace scan
// is reused for resilience against a model that wraps it in commentary.
func parseSynthesisReply(reply string) (synthesisReply, error) {
	obj, err := firstBalancedJSONObject(reply)
	if err != nil {
		return synthesisReply{}, err
	}
	if !gjson.Valid(obj) {
		return synthesisReply{}, apperrors.New(apperrors.MalformedLLMOutput, "synthesis response is not valid JSON", nil)
	}
	parsed := gjson.Parse(obj)

	summary := strings.TrimSpace(parsed.Get("summary").String())
	if summary == "" {
		return synthesisReply{}, apperrors.New(apperrors.MalformedLLMOutput, "synthesis response has no summary", nil)
	}

	var keyPoints []string
	for _, kp := range parsed.Get("key_points").Array() {
		if s := strings.TrimSpace(kp.String()); s != "" {
			keyPoints = append(keyPoints, s)
		}
	}

	return synthesisReply{summary: summary, keyPoints: keyPoints, confidence: parsed.Get("confidence")}, nil
}

// firstBalancedJSONObject is shared logic with the planning and routing
// packages' LLM reply parsers; duplicated rather than imported to keep
// aggregation free of a dependency on their internals for a few dozen
// lines of scanning.
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

// ComputeAggregateConfidence implements the aggregate confidence
// formula: 0.4 weight on source count (saturating at 5 sources) plus
// 0.6 weight on mean source credibility (unset credibility defaults to
// 0.5, the same default a capability executor uses when it does not
// report one).
func ComputeAggregateConfidence(results []SourceResult) float64 {
	if len(results) == 0 {
		return 0
	}
	countFactor := float64(len(results)) / 5
	if countFactor > 1 {
		countFactor = 1
	}

	var total float64
	for _, r := range results {
		cred := r.Credibility
		if cred == 0 {
			cred = 0.5
		}
		total += cred
	}
	mean := total / float64(len(results))

	return 0.4*countFactor + 0.6*mean
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for _, sep := range []string{". ", "。", "\n"} {
		if idx := strings.Index(text, sep); idx > 0 {
			return text[:idx]
		}
	}
	return util.TruncateString(text, 80, true)
}
