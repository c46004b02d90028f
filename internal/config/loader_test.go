package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 0.7, cfg.Router.ConfidenceThreshold)
	assert.Equal(t, 1000, cfg.Router.CacheCapacity)
	assert.Equal(t, 10, cfg.Decomposer.MaxSubtasks)
	assert.Equal(t, 5, cfg.Workflow.MaxParallelTasks)
	assert.Equal(t, 0.85, cfg.Aggregation.NearDuplicateThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvironmentVariableOverride(t *testing.T) {
	os.Setenv("AGENTROUTER_ROUTER_CONFIDENCE_THRESHOLD", "0.5")
	os.Setenv("AGENTROUTER_WORKFLOW_MAX_PARALLEL_TASKS", "8")
	defer func() {
		os.Unsetenv("AGENTROUTER_ROUTER_CONFIDENCE_THRESHOLD")
		os.Unsetenv("AGENTROUTER_WORKFLOW_MAX_PARALLEL_TASKS")
	}()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Router.ConfidenceThreshold)
	assert.Equal(t, 8, cfg.Workflow.MaxParallelTasks)
}

func TestLoadFromConfigFile(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "orchestrator-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString(`
environment: staging
router:
  confidence_threshold: 0.6
decomposer:
  max_subtasks: 6
`)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	os.Setenv("CONFIG_PATH", tmpfile.Name())
	defer os.Unsetenv("CONFIG_PATH")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 0.6, cfg.Router.ConfidenceThreshold)
	assert.Equal(t, 6, cfg.Decomposer.MaxSubtasks)
}

func TestValidateRejectsOutOfRangeThresholds(t *testing.T) {
	cfg := &Config{}
	applyValidDefaults(cfg)

	cfg.Router.ConfidenceThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg.Router.ConfidenceThreshold = 0.7
	cfg.Decomposer.MaxSubtasks = 0
	assert.Error(t, cfg.Validate())

	cfg.Decomposer.MaxSubtasks = 10
	cfg.Workflow.MaxParallelTasks = -1
	assert.Error(t, cfg.Validate())

	cfg.Workflow.MaxParallelTasks = 5
	cfg.Aggregation.NearDuplicateThreshold = 2
	assert.Error(t, cfg.Validate())
}

// applyValidDefaults populates a Config with valid baseline values so each
// step of TestValidateRejectsOutOfRangeThresholds only has to break one
// field at a time.
func applyValidDefaults(cfg *Config) {
	cfg.Router.ConfidenceThreshold = 0.7
	cfg.Decomposer.MaxSubtasks = 10
	cfg.Workflow.MaxParallelTasks = 5
	cfg.Aggregation.NearDuplicateThreshold = 0.85
}
