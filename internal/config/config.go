// Package config provides configuration management for waldrift.
// It supports loading configuration from environment variables and config files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for waldrift.
type Config struct {
	// Node identifies this node within the cluster.
	Node NodeConfig `mapstructure:"node"`

	// Replication configures the source manager's component tuning knobs.
	Replication ReplicationConfig `mapstructure:"replication"`

	// Storage configures the durable queue/HFile-refs backend.
	Storage StorageConfig `mapstructure:"storage"`

	// Logging configuration
	Log LogConfig `mapstructure:"log"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	// ID is this node's identity, used as the "thisNode" argument throughout
	// the source manager (queue ownership, WAL seeding, failover claiming).
	ID string `mapstructure:"id"`
}

// ReplicationConfig configures the replication source manager (§6). Field
// tags use underscores rather than the dotted keys the original
// "replication.sleep.before.failover"-style names suggest: Viper treats a
// dotted key as a chain of nested maps, which a flat struct can't match.
type ReplicationConfig struct {
	// SleepBeforeFailover is the jitter base a Failover Claimer sleeps before
	// attempting to claim a dead node's queue.
	SleepBeforeFailover time.Duration `mapstructure:"sleep_before_failover"`
	// ExecutorWorkers sizes the Failover Claimer's fixed worker pool.
	ExecutorWorkers int `mapstructure:"executor_workers"`
	// SourceSyncSleepForRetries is the base retry interval for sync-replication
	// remote WAL deletes.
	SourceSyncSleepForRetries time.Duration `mapstructure:"source_sync_sleep_for_retries"`
	// SourceSyncMaxRetriesMultiplier caps how many multiples of the base
	// retry interval the Cleanup Engine will back off to.
	SourceSyncMaxRetriesMultiplier int `mapstructure:"source_sync_max_retries_multiplier"`
	// BulkLoadEnabled toggles HFile-refs tracking for bulk-loaded peers.
	BulkLoadEnabled bool `mapstructure:"bulkload_enabled"`
	// SourceTotalBufferLimit is the shared buffer-quota ceiling across every
	// in-flight source, in bytes.
	SourceTotalBufferLimit int64 `mapstructure:"source_total_buffer"`
	// SyncUpHost marks this node as a sync-up utility host, which skips
	// claiming queues for DISABLED peers.
	SyncUpHost bool `mapstructure:"syncup_host"`
	// PeersFile is the path to the YAML file listing configured peers,
	// loaded at startup and edited by the addpeer/removepeer CLI
	// subcommands (§1's "no wire protocol" non-goal rules out a live admin
	// RPC, so peer changes take effect on the next restart).
	PeersFile string `mapstructure:"peers_file"`
}

// StorageConfig holds durable storage backend settings.
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, file path
}

// MetricsConfig holds Prometheus metrics exposition settings.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Path       string `mapstructure:"path"`
}

// Default configuration values.
var defaults = map[string]interface{}{
	// Node defaults
	"node.id": "",

	// Replication defaults
	"replication.sleep_before_failover":             "30s",
	"replication.executor_workers":                  1,
	"replication.source_sync_sleep_for_retries":      "1s",
	"replication.source_sync_max_retries_multiplier": 60,
	"replication.bulkload_enabled":                   false,
	"replication.source_total_buffer":                int64(256 << 20),
	"replication.syncup_host":                        false,
	"replication.peers_file":                         "./peers.yaml",

	// Storage defaults
	"storage.data_dir":    "./data",
	"storage.sync_writes": false,

	// Log defaults
	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	// Metrics defaults
	"metrics.enabled":     true,
	"metrics.listen_addr": ":9100",
	"metrics.path":        "/metrics",
}

// Load loads configuration from environment variables and optional config file.
// Environment variables are prefixed with WALDRIFT_ and use underscores.
// Example: WALDRIFT_NODE_ID=node-1
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Environment variables
	v.SetEnvPrefix("WALDRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map legacy flat env vars to nested structure
	bindLegacyEnvVars(v)

	// Try to read config file (optional)
	v.SetConfigName("waldrift")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/waldrift")
	v.AddConfigPath("$HOME/.waldrift")

	// It's okay if config file doesn't exist
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnvVars maps flat WALDRIFT_* env vars to nested structure for
// backward compatibility with older deployment scripts.
func bindLegacyEnvVars(v *viper.Viper) {
	legacyMappings := map[string]string{
		"NODE_ID":               "node.id",
		"DATA_DIR":              "storage.data_dir",
		"SYNC_WRITES":           "storage.sync_writes",
		"LOG_LEVEL":             "log.level",
		"LOG_FORMAT":            "log.format",
		"SLEEP_BEFORE_FAILOVER": "replication.sleep_before_failover",
		"EXECUTOR_WORKERS":      "replication.executor_workers",
		"BULKLOAD_ENABLED":      "replication.bulkload_enabled",
		"SOURCE_TOTAL_BUFFER":   "replication.source_total_buffer",
		"METRICS_LISTEN_ADDR":   "metrics.listen_addr",
	}

	for envSuffix, configKey := range legacyMappings {
		_ = v.BindEnv(configKey, "WALDRIFT_"+envSuffix)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node id is required")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Log.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Log.Format)
	}

	if c.Replication.ExecutorWorkers < 1 {
		return fmt.Errorf("replication executor workers must be at least 1: %d", c.Replication.ExecutorWorkers)
	}
	if c.Replication.SourceTotalBufferLimit <= 0 {
		return fmt.Errorf("replication source total buffer must be positive: %d", c.Replication.SourceTotalBufferLimit)
	}
	if c.Replication.SourceSyncMaxRetriesMultiplier < 1 {
		return fmt.Errorf("replication sync max retries multiplier must be at least 1: %d", c.Replication.SourceSyncMaxRetriesMultiplier)
	}

	return nil
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Node: %s, Storage: {Dir: %s}, Log: {Level: %s}, Replication: {Workers: %d, Buffer: %d}}",
		c.Node.ID,
		c.Storage.DataDir,
		c.Log.Level,
		c.Replication.ExecutorWorkers,
		c.Replication.SourceTotalBufferLimit,
	)
}
