// Package config provides configuration management for waldrift.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("WALDRIFT_NODE_ID", "node-1")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "node-1", cfg.Node.ID)

	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.False(t, cfg.Storage.SyncWrites)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "stdout", cfg.Log.Output)

	assert.Equal(t, int64(256<<20), cfg.Replication.SourceTotalBufferLimit)
	assert.Equal(t, 1, cfg.Replication.ExecutorWorkers)
	assert.Equal(t, 60, cfg.Replication.SourceSyncMaxRetriesMultiplier)
	assert.False(t, cfg.Replication.BulkLoadEnabled)
	assert.Equal(t, "./peers.yaml", cfg.Replication.PeersFile)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.ListenAddr)
}

func TestLoad_MissingNodeIDFails(t *testing.T) {
	clearEnvVars(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("WALDRIFT_NODE_ID", "node-2")
	t.Setenv("WALDRIFT_STORAGE_DATA_DIR", "/tmp/waldrift-test")
	t.Setenv("WALDRIFT_LOG_LEVEL", "debug")
	t.Setenv("WALDRIFT_REPLICATION_EXECUTOR_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "node-2", cfg.Node.ID)
	assert.Equal(t, "/tmp/waldrift-test", cfg.Storage.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Replication.ExecutorWorkers)
}

func TestLoad_LegacyEnvVars(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("WALDRIFT_NODE_ID", "node-3")
	t.Setenv("WALDRIFT_DATA_DIR", "/tmp/legacy-test")
	t.Setenv("WALDRIFT_LOG_LEVEL", "warn")
	t.Setenv("WALDRIFT_EXECUTOR_WORKERS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/tmp/legacy-test", cfg.Storage.DataDir)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Replication.ExecutorWorkers)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("WALDRIFT_NODE_ID", "node-4")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "waldrift.yaml")

	configContent := `
node:
  id: node-4
storage:
  data_dir: /custom/data
log:
  level: error
  format: json
replication:
  executor_workers: 5
  bulkload_enabled: true
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	origDir, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(origDir)
	}()
	require.NoError(t, os.Chdir(tmpDir))

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/custom/data", cfg.Storage.DataDir)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Replication.ExecutorWorkers)
	assert.True(t, cfg.Replication.BulkLoadEnabled)
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	err := validConfig().Validate()
	assert.NoError(t, err)
}

func TestConfig_Validate_MissingNodeID(t *testing.T) {
	cfg := validConfig()
	cfg.Node.ID = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "node id is required")
}

func TestConfig_Validate_EmptyDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.DataDir = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "data directory is required")
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "invalid"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestConfig_Validate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestConfig_Validate_ZeroExecutorWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Replication.ExecutorWorkers = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "executor workers")
}

func TestConfig_Validate_NonPositiveBufferLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Replication.SourceTotalBufferLimit = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "total buffer")
}

func TestConfig_Validate_ZeroMaxRetriesMultiplier(t *testing.T) {
	cfg := validConfig()
	cfg.Replication.SourceSyncMaxRetriesMultiplier = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max retries multiplier")
}

func TestConfig_Validate_AllLogLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error"}
	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Log.Level = level
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := validConfig()
	str := cfg.String()
	assert.Contains(t, str, "node-1")
	assert.Contains(t, str, "./data")
	assert.Contains(t, str, "info")
}

// validConfig returns a valid configuration for testing.
func validConfig() *Config {
	return &Config{
		Node: NodeConfig{ID: "node-1"},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Replication: ReplicationConfig{
			ExecutorWorkers:                1,
			SourceTotalBufferLimit:         256 << 20,
			SourceSyncMaxRetriesMultiplier: 60,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9100",
		},
	}
}

// clearEnvVars unsets all WALDRIFT_ environment variables used by these tests.
func clearEnvVars(t *testing.T) {
	t.Helper()

	envVars := []string{
		"WALDRIFT_NODE_ID",
		"WALDRIFT_STORAGE_DATA_DIR",
		"WALDRIFT_LOG_LEVEL",
		"WALDRIFT_LOG_FORMAT",
		"WALDRIFT_REPLICATION_EXECUTOR_WORKERS",
		"WALDRIFT_DATA_DIR",
		"WALDRIFT_EXECUTOR_WORKERS",
	}

	for _, env := range envVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}
