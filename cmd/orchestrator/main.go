// Command orchestrator runs a standalone demo of the query pipeline: a
// Router, a Task Decomposer, a Workflow Engine, and a Result Aggregator
// wired together behind the Orchestrator façade. It ships with no real
// capability backends or LLM provider — those are consumed through the
// llmclient.Client and executor.CapabilityExecutor interfaces, so an
// operator wires in their own implementations by replacing newLLMClient
// and the executor registrations below with real provider/tool clients.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coreflux-ai/agentrouter/internal/aggregation"
	"github.com/coreflux-ai/agentrouter/internal/config"
	"github.com/coreflux-ai/agentrouter/internal/executor"
	"github.com/coreflux-ai/agentrouter/internal/llmclient"
	_ "github.com/coreflux-ai/agentrouter/internal/metrics"
	"github.com/coreflux-ai/agentrouter/internal/orchestrator"
	"github.com/coreflux-ai/agentrouter/internal/planning"
	"github.com/coreflux-ai/agentrouter/internal/resilience"
	"github.com/coreflux-ai/agentrouter/internal/routing"
	"github.com/coreflux-ai/agentrouter/internal/streaming"
	"github.com/coreflux-ai/agentrouter/internal/tasktype"
	"github.com/coreflux-ai/agentrouter/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := newLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.Metrics.Enabled {
		go serveMetrics(cfg.Observability.Metrics.Port, logger)
	}

	client := newLLMClient(logger)

	router := routing.NewHybridRouter(
		routing.NewKeywordClassifier(logger),
		routing.NewLLMClassifier(client, logger),
		logger,
		routing.WithConfidenceThreshold(cfg.Router.ConfidenceThreshold),
		routing.WithCache(routing.NewMemoryCache(cfg.Router.CacheCapacity)),
	)
	decomposer := planning.NewDecomposer(client, logger)
	registry := executor.NewRegistry(demoExecutors(logger)...)
	engine := workflow.NewEngine(registry, logger)
	aggregator := aggregation.NewAggregator(client, logger)
	streamMgr := streaming.NewManager(64, logger)

	orch := orchestrator.New(router, decomposer, engine, aggregator, logger,
		orchestrator.WithStreamingManager(streamMgr),
		orchestrator.WithAggregationStrategy(aggregationStrategy(cfg.Aggregation.DefaultStrategy)),
	)

	logger.Info("orchestrator ready", zap.String("environment", cfg.Environment))
	runREPL(ctx, orch, logger)
}

// newLLMClient builds the resilient wrapper around an LLM provider client.
// No concrete provider ships with this module: a nil inner client makes
// every classifier and decomposer fall back to their keyword heuristics,
// which is a legitimate degraded mode rather than a startup error.
func newLLMClient(logger *zap.Logger) llmclient.Client {
	var inner llmclient.Client
	if inner == nil {
		logger.Warn("no llm provider client wired in, running on keyword fallbacks only")
		return nil
	}
	breaker := resilience.NewCircuitBreaker("llm-provider", resilience.DefaultBreakerConfig(), logger)
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{RequestsPerSecond: 5, Burst: 5})
	return resilience.NewResilientClient(inner, breaker, limiter, resilience.DefaultRetryConfig(), logger)
}

// demoExecutors registers an echo CapabilityExecutor for every task type
// so the pipeline is runnable end to end without a real search, code
// sandbox, vector retrieval, or vision/OCR backend wired in.
func demoExecutors(logger *zap.Logger) []executor.Option {
	echo := executor.CapabilityExecutorFunc(func(ctx context.Context, query string, ec map[string]any) (any, error) {
		logger.Debug("demo executor invoked", zap.String("query", query))
		return fmt.Sprintf("[demo result for: %s]", query), nil
	})
	opts := make([]executor.Option, 0, len(tasktype.All))
	for _, tt := range tasktype.All {
		opts = append(opts, executor.WithExecutor(tt, echo))
	}
	return opts
}

func aggregationStrategy(name string) aggregation.Strategy {
	switch strings.ToLower(name) {
	case "concatenate":
		return aggregation.Concatenate
	case "rank":
		return aggregation.Rank
	default:
		return aggregation.Synthesize
	}
}

func serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":" + strconv.Itoa(port)
	logger.Info("metrics server listening", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

// runREPL reads one query per line from stdin until ctx is cancelled or
// stdin closes, printing the aggregated answer for each.
func runREPL(ctx context.Context, orch *orchestrator.Orchestrator, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("query> ")
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			fmt.Print("query> ")
			continue
		}
		result, err := orch.ProcessQuery(ctx, query, nil)
		if err != nil {
			logger.Error("process query failed", zap.Error(err))
		} else {
			fmt.Printf("answer: %s\nconfidence: %.2f\ntools: %v\n", result.Answer, result.Confidence, result.ToolsUsed)
		}
		fmt.Print("query> ")
	}
}

func newLogger(level, format string) (*zap.Logger, error) {
	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}
