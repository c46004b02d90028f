package routing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/metrics"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

// defaultConfidenceThreshold is the minimum keyword-classifier confidence
// accepted without an LLM fallback call.
const defaultConfidenceThreshold = 0.7

// HybridRouter is the Router: cache check, then the fast keyword
// classifier, escalating to the LLM
// classifier only when keyword confidence is below threshold, with every
// decision (but the cache hit itself) written back to the cache.
type HybridRouter struct {
	keyword             *KeywordClassifier
	llm                 *LLMClassifier
	cache               Cache
	confidenceThreshold float64
	logger              *zap.Logger
}

type HybridRouterOption func(*HybridRouter)

func WithConfidenceThreshold(threshold float64) HybridRouterOption {
	return func(h *HybridRouter) { h.confidenceThreshold = threshold }
}

func WithCache(cache Cache) HybridRouterOption {
	return func(h *HybridRouter) { h.cache = cache }
}

func NewHybridRouter(keyword *KeywordClassifier, llm *LLMClassifier, logger *zap.Logger, opts ...HybridRouterOption) *HybridRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HybridRouter{
		keyword:             keyword,
		llm:                 llm,
		cache:               NewMemoryCache(defaultCacheCapacity),
		confidenceThreshold: defaultConfidenceThreshold,
		logger:              logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Route implements the full cascade. context is opaque routing context
// (session id, locale, prior turn, ...) folded into the cache key only —
// it is never interpreted by this package.
func (h *HybridRouter) Route(ctx context.Context, query string, routingContext map[string]any) (*tasktype.Decision, error) {
	start := time.Now()
	decision, err := h.route(ctx, query, routingContext)
	metrics.RoutingLatency.Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.RoutingDecisions.WithLabelValues(decision.Metadata[tasktype.MetaMethod].(string), string(decision.PrimaryTaskType)).Inc()
	}
	return decision, err
}

func (h *HybridRouter) route(ctx context.Context, query string, routingContext map[string]any) (*tasktype.Decision, error) {
	key := h.cache.Key(query, routingContext)
	if cached, ok := h.cache.Get(key); ok {
		cached.Metadata[tasktype.MetaCached] = true
		metrics.RoutingCacheHits.Inc()
		h.logger.Debug("routing cache hit", zap.String("cache_key", key))
		return cached, nil
	}
	metrics.RoutingCacheMisses.Inc()

	decision, err := h.keyword.Classify(query)
	if err != nil {
		return nil, err
	}

	if decision.Confidence >= h.confidenceThreshold || h.llm == nil {
		decision.Metadata[tasktype.MetaMethod] = tasktype.MethodHybridKeyword
		h.cache.Put(key, decision)
		return decision, nil
	}

	keywordTask := decision.PrimaryTaskType
	keywordConfidence := decision.Confidence

	llmDecision, err := h.llm.Classify(ctx, query)
	if err != nil {
		// The LLM classifier itself only errors on an invalid query, which
		// the keyword classifier would already have rejected, but guard
		// against it anyway by falling back to the keyword decision.
		decision.Metadata[tasktype.MetaMethod] = tasktype.MethodHybridKeywordFallback
		decision.Metadata[tasktype.MetaError] = err.Error()
		h.cache.Put(key, decision)
		return decision, nil
	}

	if llmErr, ok := llmDecision.Metadata[tasktype.MetaLLMError]; ok {
		// The LLM call itself failed (timeout, transport, provider error);
		// LLMClassifier already degraded to a low-confidence guess, but the
		// keyword decision is the better fallback here since at least a
		// deterministic rule fired for it.
		decision.Metadata[tasktype.MetaMethod] = tasktype.MethodHybridKeywordFallback
		decision.Metadata[tasktype.MetaLLMError] = llmErr
		h.cache.Put(key, decision)
		return decision, nil
	}

	llmDecision.Metadata[tasktype.MetaMethod] = tasktype.MethodHybridLLM
	llmDecision.Metadata[tasktype.MetaKeywordTask] = string(keywordTask)
	llmDecision.Metadata[tasktype.MetaKeywordConfidence] = keywordConfidence
	h.cache.Put(key, llmDecision)
	return llmDecision, nil
}
