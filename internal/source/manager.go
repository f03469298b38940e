package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ManagerConfig configures a Manager. Field names mirror the configuration
// keys in SPEC_FULL.md's ambient/domain stack sections (replication.*).
type ManagerConfig struct {
	ThisNode string

	SleepBeforeFailover      time.Duration
	FailoverWorkers          int
	SyncSleepForRetries      time.Duration
	SyncMaxRetriesMultiplier int
	BulkLoadEnabled          bool
	TotalBufferLimit         int64
	SyncUpHost               bool
}

// DefaultManagerConfig returns the configuration documented as the package
// default (§6).
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SleepBeforeFailover:      30 * time.Second,
		FailoverWorkers:          1,
		SyncSleepForRetries:      time.Second,
		SyncMaxRetriesMultiplier: 60,
		BulkLoadEnabled:          false,
		TotalBufferLimit:         256 << 20,
	}
}

// Manager is the public core of the replication source manager: the single
// object the surrounding WAL subsystem and cluster membership watcher talk
// to (§6 provided interface). It wires together the Source Registry, WAL
// Index, Latest-Path Table, Log-Roll Handler, Cleanup Engine, Peer Lifecycle
// Controller, Failover Claimer, and Buffer Quota components.
type Manager struct {
	cfg ManagerConfig

	node    HostNode
	wal     WALProvider
	peers   PeerRegistry
	storage QueueStorage

	registry   *Registry
	latestPath *LatestPathTable

	logRoll   *LogRollHandler
	cleanup   *CleanupEngine
	lifecycle *PeerLifecycleController
	failover  *FailoverClaimer
	quota     *BufferQuota

	logger *zap.Logger
}

// NewManager builds a Manager and every component it owns. ship is the
// pluggable shipping function each source's background loop uses; publish,
// if non-nil, receives the buffer quota's value on every mutation (wired to
// the metrics sink by cmd/waldrift). metrics, if non-nil, receives shipping,
// failover, cleanup, and peer-lifecycle observability signals from every
// component that produces them; nil disables all of it.
func NewManager(cfg ManagerConfig, node HostNode, wal WALProvider, peers PeerRegistry, storage QueueStorage, remote RemoteWALDeleter, ship ShipFunc, publish func(int64), metrics MetricsSink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	normalIndex := NewWALIndex()
	recoveredIndex := NewWALIndex()
	latestPath := NewLatestPathTable()
	quota := NewBufferQuota(cfg.TotalBufferLimit, logger, publish)

	m := &Manager{
		cfg:        cfg,
		node:       node,
		wal:        wal,
		peers:      peers,
		storage:    storage,
		latestPath: latestPath,
		quota:      quota,
		logger:     logger,
	}

	factory := func(peer *Peer, queue QueueID, recovered bool) Source {
		return NewDefaultSource(peer.ID, queue, recovered, shipperOptions{
			Ship:            ship,
			OnBatch:         m.onBatch,
			SyncReplication: peer.Config.Mode == ModeSync,
			Logger:          logger,
			Metrics:         metrics,
		})
	}

	m.registry = NewRegistry(cfg.ThisNode, normalIndex, recoveredIndex, latestPath, storage, node, factory, logger)
	m.logRoll = NewLogRollHandler(cfg.ThisNode, m.registry, latestPath, normalIndex, storage, node, logger)
	m.cleanup = NewCleanupEngine(cfg.ThisNode, m.registry, storage, node, peers, CleanupEngineOptions{
		SleepForRetries:      cfg.SyncSleepForRetries,
		MaxRetriesMultiplier: cfg.SyncMaxRetriesMultiplier,
		Remote:               remote,
		Logger:               logger,
		Metrics:              metrics,
	})
	m.lifecycle = NewPeerLifecycleController(cfg.ThisNode, peers, m.registry, latestPath, storage, node, factory, PeerLifecycleOptions{
		BulkLoadEnabled: cfg.BulkLoadEnabled,
		Logger:          logger,
		Metrics:         metrics,
	})
	m.failover = NewFailoverClaimer(cfg.ThisNode, peers, m.registry, storage, node, factory, FailoverClaimerOptions{
		SleepBeforeFailover: cfg.SleepBeforeFailover,
		Workers:             cfg.FailoverWorkers,
		SyncUpHost:          cfg.SyncUpHost,
		Logger:              logger,
		Metrics:             metrics,
	})

	return m
}

func (m *Manager) onBatch(src Source, batch Batch) error {
	return m.cleanup.LogPositionAndCleanOldLogs(context.Background(), src, batch)
}

// Init starts a source for every peer registered at construction time.
func (m *Manager) Init() error { return m.lifecycle.Init() }

// AddPeer registers peerID with cfg (§4.6).
func (m *Manager) AddPeer(peerID PeerID, cfg PeerConfig) error {
	return m.lifecycle.AddPeer(peerID, cfg)
}

// RemovePeer unregisters peerID and tears down every source it owns (§4.6).
func (m *Manager) RemovePeer(peerID PeerID) error { return m.lifecycle.RemovePeer(peerID) }

// RefreshSources swaps in freshly created sources for peerID after a
// configuration or sync-state change (§4.6).
func (m *Manager) RefreshSources(peerID PeerID) error { return m.lifecycle.RefreshSources(peerID) }

// DrainSources hands peerID off to a replacement source and discards its
// outstanding WALs, used on a transition to STANDBY (§4.6).
func (m *Manager) DrainSources(peerID PeerID) error { return m.lifecycle.DrainSources(peerID) }

// PreLogRoll is invoked by the WAL subsystem before the old log is closed (§4.4).
func (m *Manager) PreLogRoll(newLog WALRef) error { return m.logRoll.PreLogRoll(newLog) }

// PostLogRoll is invoked by the WAL subsystem after the old log is closed (§4.4).
func (m *Manager) PostLogRoll(newLog WALRef) { m.logRoll.PostLogRoll(newLog) }

// LogPositionAndCleanOldLogs records shipping progress and prunes WALs a
// source no longer needs (§4.5). Exposed directly so test doubles and
// alternative shipper implementations can drive cleanup without going
// through a Source's background loop.
func (m *Manager) LogPositionAndCleanOldLogs(ctx context.Context, src Source, batch Batch) error {
	return m.cleanup.LogPositionAndCleanOldLogs(ctx, src, batch)
}

// CleanOldLogs prunes everything at or before log under src's queue (§4.5).
func (m *Manager) CleanOldLogs(ctx context.Context, log string, inclusive bool, src Source) error {
	return m.cleanup.CleanOldLogs(ctx, log, inclusive, src)
}

// FinishRecoveredSource is called once a recovered source has shipped its
// entire claimed WAL set: it terminates the source and removes it from the
// recovered list, storage, and the recovered WAL Index.
func (m *Manager) FinishRecoveredSource(src Source) error {
	src.Terminate("recovered source exhausted its claim", nil, false)

	m.registry.LockRecovered()
	defer m.registry.UnlockRecovered()
	return m.registry.RemoveRecoveredSource(src)
}

// AcquireBufferQuota adds size to the shared buffer counter (§4.8).
func (m *Manager) AcquireBufferQuota(size int64) bool { return m.quota.AcquireBufferQuota(size) }

// ReleaseBufferQuota subtracts size from the shared buffer counter (§4.8).
func (m *Manager) ReleaseBufferQuota(size int64) { m.quota.ReleaseBufferQuota(size) }

// AcquireWALEntryBufferQuota adds an entry's size to batch's running total
// and delegates to AcquireBufferQuota (§4.8).
func (m *Manager) AcquireWALEntryBufferQuota(batch *EntryBatchSize, entrySize int64) bool {
	return m.quota.AcquireWALEntryBufferQuota(batch, entrySize)
}

// ReleaseWALEntryBatchBufferQuota releases everything batch has accumulated (§4.8).
func (m *Manager) ReleaseWALEntryBatchBufferQuota(batch *EntryBatchSize) {
	m.quota.ReleaseWALEntryBatchBufferQuota(batch)
}

// CheckBufferQuota is an advisory read for peerID (§4.8).
func (m *Manager) CheckBufferQuota(peerID PeerID) bool { return m.quota.CheckBufferQuota(peerID) }

// ClaimQueue submits a (deadNode, queueName) pair to the failover worker
// pool (§4.7), invoked by the cluster's node-death watcher.
func (m *Manager) ClaimQueue(deadNode, queueName string) { m.failover.ClaimQueue(deadNode, queueName) }

// ActiveFailoverTaskCount returns the number of in-flight failover claims.
func (m *Manager) ActiveFailoverTaskCount() int64 { return m.failover.ActiveFailoverTaskCount() }

// GetWALs returns every WAL name tracked for peerID's normal source.
func (m *Manager) GetWALs(peerID PeerID) []string {
	return m.registry.NormalIndex().All(QueueIDFor(peerID))
}

// GetWalsByIdRecoveredQueues returns every WAL name tracked for a recovered queue.
func (m *Manager) GetWalsByIdRecoveredQueues(queue QueueID) []string {
	return m.registry.RecoveredIndex().All(queue)
}

// GetSources returns every live normal source.
func (m *Manager) GetSources() []Source { return m.registry.GetSources() }

// GetOldSources returns every recovered source.
func (m *Manager) GetOldSources() []Source { return m.registry.GetOldSources() }

// GetSource returns the live normal source for peerID, if any.
func (m *Manager) GetSource(peerID PeerID) (Source, bool) { return m.registry.GetSource(peerID) }

// GetAllQueues returns every queue this node owns, from durable storage.
func (m *Manager) GetAllQueues() (map[QueueID][]string, error) {
	return m.storage.GetAllQueues(m.cfg.ThisNode)
}

// GetSizeOfLatestPath returns the number of log-group prefixes tracked in
// the Latest-Path Table.
func (m *Manager) GetSizeOfLatestPath() int { return m.latestPath.Size() }

// GetLatestPaths returns a snapshot of the Latest-Path Table.
func (m *Manager) GetLatestPaths() map[string]WALRef { return m.latestPath.Snapshot() }

// GetTotalBufferUsed returns the current buffer-quota counter value.
func (m *Manager) GetTotalBufferUsed() int64 { return m.quota.TotalBufferUsed() }

// GetTotalBufferLimit returns the configured buffer-quota limit.
func (m *Manager) GetTotalBufferLimit() int64 { return m.quota.TotalBufferLimit() }

// GetOldLogDir returns the WAL subsystem's archived-log directory.
func (m *Manager) GetOldLogDir() string { return m.wal.OldLogDir() }

// GetLogDir returns the WAL subsystem's active-log directory.
func (m *Manager) GetLogDir() string { return m.wal.LogDir() }

// GetFs returns the WAL subsystem this manager is embedded in.
func (m *Manager) GetFs() WALProvider { return m.wal }

// GetReplicationPeers returns every registered peer.
func (m *Manager) GetReplicationPeers() []*Peer { return m.peers.List() }

// GetStats returns a snapshot of shipping progress for every live and
// recovered source.
func (m *Manager) GetStats() []Stats {
	sources := m.registry.GetSources()
	old := m.registry.GetOldSources()
	out := make([]Stats, 0, len(sources)+len(old))
	for _, s := range sources {
		out = append(out, s.GetStats())
	}
	for _, s := range old {
		out = append(out, s.GetStats())
	}
	return out
}

// AddHFileRefs registers every currently bulk-load-eligible peer as
// interested in table/family's bulk-loaded pairs. Which files map to which
// store/region, and pruning them as compactions obsolete them, is real
// HFile-tracking logic this package does not implement (§1 Non-goals); only
// the storage interface boundary (peer registration) is wired.
func (m *Manager) AddHFileRefs(table, family string, pairs []string) error {
	if !m.cfg.BulkLoadEnabled || len(pairs) == 0 {
		return nil
	}
	for _, peer := range m.peers.List() {
		if err := m.storage.AddPeerToHFileRefs(peer.ID); err != nil {
			return fmt.Errorf("manager: addHFileRefs %s/%s peer %s: %w", table, family, peer.ID, err)
		}
	}
	return nil
}

// CleanUpHFileRefs removes files from peerID's HFile-refs section.
func (m *Manager) CleanUpHFileRefs(peerID PeerID, files []string) error {
	if err := m.storage.RemoveHFileRefs(peerID, files); err != nil {
		return fmt.Errorf("manager: cleanUpHFileRefs %s: %w", peerID, err)
	}
	return nil
}

// Join is the terminal shutdown sequence (§5): stop the failover worker
// pool, terminate every normal source, then every recovered source. It does
// not wait for storage to be emptied — durable queues persist for another
// node to claim.
func (m *Manager) Join() {
	m.failover.Shutdown()

	for _, src := range m.registry.GetSources() {
		src.Terminate("node shutting down", nil, false)
	}

	m.registry.LockRecovered()
	defer m.registry.UnlockRecovered()
	for _, src := range m.registry.GetOldSources() {
		src.Terminate("node shutting down", nil, false)
	}
}
