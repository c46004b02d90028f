package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RouterConfig controls the hybrid keyword+LLM classifier.
type RouterConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	CacheCapacity       int     `mapstructure:"cache_capacity"`
}

// DecomposerConfig holds task-plan generation settings. It is loaded and
// validated but not passed to the Decomposer, which caps plans with its
// own maxSubtasks constant.
type DecomposerConfig struct {
	MaxSubtasks int `mapstructure:"max_subtasks"`
}

// WorkflowConfig holds Workflow Engine defaults. It is loaded and
// validated but not passed to the engine, which falls back to its own
// built-in defaults wherever Task.MaxRetries, Task.Timeout or
// Workflow.MaxParallelTasks is unset.
type WorkflowConfig struct {
	MaxParallelTasks  int           `mapstructure:"max_parallel_tasks"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
}

// AggregationConfig holds Result Aggregator settings. DefaultStrategy
// selects the orchestrator's merge strategy; NearDuplicateThreshold is
// validated but not read, the aggregator using its own fixed cutoff.
type AggregationConfig struct {
	NearDuplicateThreshold float64 `mapstructure:"near_duplicate_threshold"`
	DefaultStrategy        string  `mapstructure:"default_strategy"`
}

// ResilienceConfig holds settings for the circuit breaker/rate limiter
// wrapped around outbound LLM calls. cmd/orchestrator does not read it:
// it builds the resilient client from the resilience package's defaults
// and a fixed rate limit.
type ResilienceConfig struct {
	RateLimitRPS         float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int     `mapstructure:"rate_limit_burst"`
	CircuitFailureRatio  float64 `mapstructure:"circuit_failure_ratio"`
	CircuitMinRequests   int     `mapstructure:"circuit_min_requests"`
	CircuitResetTimeout  time.Duration `mapstructure:"circuit_reset_timeout"`
	RetryMaxAttempts     int     `mapstructure:"retry_max_attempts"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
}

// ObservabilityConfig controls logging and metrics emission.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Config is the orchestrator's top-level configuration, loaded from an
// orchestrator.yaml file with environment-variable overrides.
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Router        RouterConfig        `mapstructure:"router"`
	Decomposer    DecomposerConfig    `mapstructure:"decomposer"`
	Workflow      WorkflowConfig      `mapstructure:"workflow"`
	Aggregation   AggregationConfig   `mapstructure:"aggregation"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("router.confidence_threshold", 0.7)
	v.SetDefault("router.cache_capacity", 1000)

	v.SetDefault("decomposer.max_subtasks", 10)

	v.SetDefault("workflow.max_parallel_tasks", 5)
	v.SetDefault("workflow.default_timeout", 30*time.Second)
	v.SetDefault("workflow.default_max_retries", 2)

	v.SetDefault("aggregation.near_duplicate_threshold", 0.85)
	v.SetDefault("aggregation.default_strategy", "synthesize")

	v.SetDefault("resilience.rate_limit_rps", 5.0)
	v.SetDefault("resilience.rate_limit_burst", 5)
	v.SetDefault("resilience.circuit_failure_ratio", 0.5)
	v.SetDefault("resilience.circuit_min_requests", 5)
	v.SetDefault("resilience.circuit_reset_timeout", 30*time.Second)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_base_delay", time.Second)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9090)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
}

// Load reads configuration from CONFIG_PATH (or config/orchestrator.yaml
// relative to the working directory), applying AGENTROUTER_-prefixed
// environment variable overrides on top, and falling back to defaults
// entirely when no config file is present.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/orchestrator.yaml"
	}
	if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
		cfgPath = filepath.Join(cfgPath, "orchestrator.yaml")
	}

	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			// No config file is not an error; defaults + env vars stand on their own.
		} else {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the invariants the rest of the pipeline assumes hold.
func (c *Config) Validate() error {
	if c.Router.ConfidenceThreshold < 0 || c.Router.ConfidenceThreshold > 1 {
		return fmt.Errorf("router.confidence_threshold must be in [0,1], got %f", c.Router.ConfidenceThreshold)
	}
	if c.Decomposer.MaxSubtasks <= 0 {
		return fmt.Errorf("decomposer.max_subtasks must be positive, got %d", c.Decomposer.MaxSubtasks)
	}
	if c.Workflow.MaxParallelTasks <= 0 {
		return fmt.Errorf("workflow.max_parallel_tasks must be positive, got %d", c.Workflow.MaxParallelTasks)
	}
	if c.Aggregation.NearDuplicateThreshold < 0 || c.Aggregation.NearDuplicateThreshold > 1 {
		return fmt.Errorf("aggregation.near_duplicate_threshold must be in [0,1], got %f", c.Aggregation.NearDuplicateThreshold)
	}
	return nil
}
