package resilience

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/llmclient"
	"github.com/coreflux-ai/agentrouter/internal/metrics"
)

// RetryConfig bounds the retry loop ResilientClient applies on top of the
// circuit breaker and rate limiter.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// ResilientClient wraps an llmclient.Client with a rate limiter, a circuit
// breaker, and bounded exponential-backoff retry, so the Router's LLM
// fallback and the Decomposer's planning call fail fast and predictably
// instead of hanging on a struggling provider.
type ResilientClient struct {
	inner   llmclient.Client
	breaker *CircuitBreaker
	limiter *RateLimiter
	retry   RetryConfig
	logger  *zap.Logger
}

func NewResilientClient(inner llmclient.Client, breaker *CircuitBreaker, limiter *RateLimiter, retry RetryConfig, logger *zap.Logger) *ResilientClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientClient{inner: inner, breaker: breaker, limiter: limiter, retry: retry, logger: logger}
}

// Complete implements llmclient.Client. A request that finds the breaker
// open fails immediately with ErrCircuitOpen, without consuming a retry
// attempt or waiting on the rate limiter.
func (c *ResilientClient) Complete(ctx context.Context, messages []llmclient.Message, temperature float64, maxTokens int) (string, error) {
	reply, err := c.complete(ctx, messages, temperature, maxTokens)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMCallsTotal.WithLabelValues("resilient_client", status).Inc()
	return reply, err
}

func (c *ResilientClient) complete(ctx context.Context, messages []llmclient.Message, temperature float64, maxTokens int) (string, error) {
	if c.breaker != nil && c.breaker.State() == StateOpen {
		return "", ErrCircuitOpen
	}

	var lastErr error
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		var reply string
		call := func() error {
			var err error
			reply, err = c.inner.Complete(ctx, messages, temperature, maxTokens)
			return err
		}

		var err error
		if c.breaker != nil {
			err = c.breaker.Execute(call)
		} else {
			err = call()
		}

		if err == nil {
			return reply, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return "", lastErr
}
