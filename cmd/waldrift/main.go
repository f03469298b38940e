// Command waldrift runs the replication source manager daemon and provides
// operator subcommands for managing peers and inspecting queue state.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/waldrift/waldrift/internal/config"
	"github.com/waldrift/waldrift/internal/fswal"
	"github.com/waldrift/waldrift/internal/metrics"
	"github.com/waldrift/waldrift/internal/peerfile"
	"github.com/waldrift/waldrift/internal/source"
	"github.com/waldrift/waldrift/internal/source/peerregistry"
	"github.com/waldrift/waldrift/internal/source/queuestorage"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "waldrift",
	Short: "waldrift replicates write-ahead log edits to peer clusters",
	Long: `waldrift is a per-node coordinator that ships write-ahead log (WAL)
edits to remote peer clusters, tracking per-peer shipping progress in a
durable queue store and taking over the unfinished work of peer nodes that
have died.

Run with no subcommand to start the daemon. Use the addpeer/removepeer/stats
subcommands to manage the persisted peer set and inspect durable queue depth.`,
	RunE: runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting waldrift",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
		zap.String("node_id", cfg.Node.ID),
	)

	store, err := queuestorage.Open(queuestorage.Options{
		DataDir:    cfg.Storage.DataDir,
		SyncWrites: cfg.Storage.SyncWrites,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize queue storage: %w", err)
	}
	defer func() {
		logger.Info("closing queue storage")
		if err := store.Close(); err != nil {
			logger.Error("failed to close queue storage", zap.Error(err))
		}
	}()

	m := metrics.Default()

	node := source.NewSimpleHostNode(cfg.Node.ID)
	node.OnAbort = func(reason string, cause error) {
		logger.Error("node fatally aborted", zap.String("reason", reason), zap.Error(cause))
		m.SetNodeAborted(true)
	}

	peers := peerregistry.New()
	order, loaded, err := peerfile.Load(cfg.Replication.PeersFile)
	if err != nil {
		return fmt.Errorf("failed to load peers file: %w", err)
	}
	for _, id := range order {
		if _, _, err := peers.Add(id, loaded[id]); err != nil {
			return fmt.Errorf("failed to register peer %s: %w", id, err)
		}
	}

	logDir := filepath.Join(cfg.Storage.DataDir, "wal")
	oldLogDir := filepath.Join(cfg.Storage.DataDir, "wal", "oldWALs")
	wal := fswal.New(logDir, oldLogDir)

	mgrCfg := source.ManagerConfig{
		ThisNode:                 cfg.Node.ID,
		SleepBeforeFailover:      cfg.Replication.SleepBeforeFailover,
		FailoverWorkers:          cfg.Replication.ExecutorWorkers,
		SyncSleepForRetries:      cfg.Replication.SourceSyncSleepForRetries,
		SyncMaxRetriesMultiplier: cfg.Replication.SourceSyncMaxRetriesMultiplier,
		BulkLoadEnabled:          cfg.Replication.BulkLoadEnabled,
		TotalBufferLimit:         cfg.Replication.SourceTotalBufferLimit,
		SyncUpHost:               cfg.Replication.SyncUpHost,
	}

	// remote and ship are left nil: the wire protocol to a peer cluster is
	// out of scope (SPEC_FULL.md Non-goals), so NewManager falls back to its
	// package-internal noop shipper/deleter. A real deployment wires these
	// to an actual transport here.
	publish := func(used int64) { m.SetBufferUsage(used, cfg.Replication.SourceTotalBufferLimit) }
	mgr := source.NewManager(mgrCfg, node, wal, peers, store, nil, nil, publish, m, logger)
	if err := mgr.Init(); err != nil {
		return fmt.Errorf("failed to start sources for configured peers: %w", err)
	}

	logger.Info("waldrift ready",
		zap.Int("peers", len(order)),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-node.Stopping():
		logger.Info("node stopping")
	}

	node.Stop()
	mgr.Join()

	if aborted, reason, _ := node.Aborted(); aborted {
		return fmt.Errorf("node aborted: %s", reason)
	}
	logger.Info("waldrift stopped gracefully")
	return nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Log.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Log.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build()
}
