package source

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PeerLifecycleController is the Peer Lifecycle Controller (§4.6, component
// F): it drives peer registration, removal, and the source replacement
// needed when a peer's configuration or sync-replication state changes.
type PeerLifecycleController struct {
	thisNode   string
	peers      PeerRegistry
	registry   *Registry
	latestPath *LatestPathTable
	storage    QueueStorage
	node       HostNode
	newSource  SourceFactory
	bulkload   bool
	syncPeers  syncReplicationMap
	logger     *zap.Logger
	metrics    MetricsSink
}

// PeerLifecycleOptions configures NewPeerLifecycleController.
type PeerLifecycleOptions struct {
	BulkLoadEnabled bool
	Logger          *zap.Logger
	// Metrics receives peer-count and per-peer queue-depth gauges on every
	// registration change. Nil is valid and disables reporting.
	Metrics MetricsSink
}

// syncReplicationMap tracks which peers are currently sync-replication
// peers, the "sync-replication mapping component" referenced by removePeer
// step 4 (§4.6).
type syncReplicationMap struct {
	mu    sync.Mutex
	peers map[PeerID]struct{}
}

func newSyncReplicationMap() syncReplicationMap {
	return syncReplicationMap{peers: make(map[PeerID]struct{})}
}

func (m *syncReplicationMap) set(id PeerID, sync bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sync {
		m.peers[id] = struct{}{}
	} else {
		delete(m.peers, id)
	}
}

func (m *syncReplicationMap) remove(id PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
}

func (m *syncReplicationMap) has(id PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[id]
	return ok
}

// NewPeerLifecycleController wires a PeerLifecycleController to the shared
// peer registry, source registry, and durable storage.
func NewPeerLifecycleController(thisNode string, peers PeerRegistry, registry *Registry, latestPath *LatestPathTable, storage QueueStorage, node HostNode, factory SourceFactory, opts PeerLifecycleOptions) *PeerLifecycleController {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeerLifecycleController{
		thisNode:   thisNode,
		peers:      peers,
		registry:   registry,
		latestPath: latestPath,
		storage:    storage,
		node:       node,
		newSource:  factory,
		bulkload:   opts.BulkLoadEnabled,
		syncPeers:  newSyncReplicationMap(),
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// Init starts a source for every peer already registered at startup.
func (c *PeerLifecycleController) Init() error {
	for _, peer := range c.peers.List() {
		if err := c.addSourceFor(peer); err != nil {
			return err
		}
	}
	c.publishPeerMetrics()
	return nil
}

// publishPeerMetrics recomputes and reports every peer-scoped gauge: total
// and sync-replication peer counts, active source counts split by
// recovered/normal, and per-peer queue depth. Called after every
// registration change so the metrics sink never drifts from live state.
func (c *PeerLifecycleController) publishPeerMetrics() {
	if c.metrics == nil {
		return
	}

	peers := c.peers.List()
	syncCount := 0
	for _, peer := range peers {
		if peer.Config.Mode == ModeSync {
			syncCount++
		}
	}
	c.metrics.SetPeersRegistered(len(peers), syncCount)

	sources := c.registry.GetSources()
	old := c.registry.GetOldSources()
	c.metrics.SetSourcesActive(len(sources), len(old))

	oldByPeer := make(map[PeerID]int)
	pendingByPeer := make(map[PeerID]int)
	for _, src := range old {
		oldByPeer[src.PeerID()]++
	}
	for _, peer := range peers {
		queueID := QueueIDFor(peer.ID)
		pendingByPeer[peer.ID] = len(c.registry.NormalIndex().All(queueID))
	}
	for _, peer := range peers {
		queues := 1 + oldByPeer[peer.ID]
		c.metrics.SetQueueDepth(string(peer.ID), queues, pendingByPeer[peer.ID])
	}
}

// AddPeer registers peerID with cfg. If the peer is newly added (not
// already present, §7 category 4), a normal source is created for it and it
// is optionally registered in the bulk-load HFile-refs section.
func (c *PeerLifecycleController) AddPeer(peerID PeerID, cfg PeerConfig) error {
	peer, added, err := c.peers.Add(peerID, cfg)
	if err != nil {
		return err
	}
	if !added {
		c.logger.Info("addPeer: peer already registered, no-op", zap.String("peer_id", string(peerID)))
		return nil
	}
	if err := c.addSourceFor(peer); err != nil {
		return err
	}
	c.publishPeerMetrics()
	return nil
}

func (c *PeerLifecycleController) addSourceFor(peer *Peer) error {
	if _, err := c.registry.AddSource(peer); err != nil {
		return err
	}
	c.syncPeers.set(peer.ID, peer.Config.Mode == ModeSync)
	if c.bulkload {
		if err := c.storage.AddPeerToHFileRefs(peer.ID); err != nil {
			return fmt.Errorf("peerlifecycle: addPeerToHFileRefs %s: %w", peer.ID, err)
		}
	}
	return nil
}

// RemovePeer unregisters peerID, terminating every source — recovered and
// normal — associated with it, and drops its durable and in-memory
// footprint entirely (§4.6, §8 "addPeer; removePeer leaves no trace").
func (c *PeerLifecycleController) RemovePeer(peerID PeerID) error {
	cfg, ok := c.peers.Remove(peerID)
	if !ok {
		return fmt.Errorf("peerlifecycle: removePeer %s: %w", peerID, ErrPeerNotFound)
	}

	c.registry.LockRecovered()
	for _, old := range c.registry.OldSourcesForPeerLocked(peerID) {
		old.Terminate("peer removed", nil, true)
		if err := c.registry.RemoveRecoveredSource(old); err != nil {
			c.registry.UnlockRecovered()
			return err
		}
	}
	c.registry.UnlockRecovered()

	if src, ok := c.registry.GetSource(peerID); ok {
		src.Terminate("peer removed", nil, true)
		if err := c.registry.RemoveSource(src); err != nil {
			return err
		}
	} else {
		// Startup race (§7 category 5): no source exists yet for this peer.
		// Delete the queue directly from storage and drop any WAL Index entry.
		queueID := QueueIDFor(peerID)
		if err := c.storage.RemoveQueue(c.thisNode, queueID); err != nil {
			return fmt.Errorf("peerlifecycle: removeQueue (startup race) %s: %w", queueID, err)
		}
		c.registry.NormalIndex().Clear(queueID)
	}

	if cfg.Mode == ModeSync {
		c.syncPeers.remove(peerID)
	}

	if c.bulkload {
		if err := c.storage.RemovePeerFromHFileRefs(peerID); err != nil {
			wrapped := fmt.Errorf("peerlifecycle: removePeerFromHFileRefs %s: %w", peerID, err)
			return handleStorageErr(c.node, PolicyAbortAndThrowIO, "failed to remove peer from HFile refs", wrapped, false, nil)
		}
	}
	c.publishPeerMetrics()
	return nil
}

// RefreshSources swaps in a freshly created normal source and recovered
// sources for peerID, used on a peer configuration or sync-state change
// (§4.6). The old normal source is terminated without clearing its metrics
// so statistics survive the reconfigure.
func (c *PeerLifecycleController) RefreshSources(peerID PeerID) error {
	peer, ok := c.peers.Get(peerID)
	if !ok {
		return fmt.Errorf("peerlifecycle: refreshSources %s: %w", peerID, ErrPeerNotFound)
	}
	queueID := QueueIDFor(peerID)

	c.latestPath.Lock()
	oldSrc, hadOld := c.registry.GetSource(peerID)
	newSrc := c.newSource(peer, queueID, false)
	toEnqueue := c.registry.NormalIndex().All(queueID)
	c.latestPath.Unlock()

	for _, name := range toEnqueue {
		newSrc.EnqueueLog(WALRef{Name: name})
	}
	if err := newSrc.Startup(); err != nil {
		return fmt.Errorf("peerlifecycle: refreshSources startup %s: %w", peerID, err)
	}
	if hadOld {
		oldSrc.Terminate("refreshing source", nil, false)
	}
	c.registry.ReplaceSource(peerID, newSrc)

	c.registry.LockRecovered()
	defer c.registry.UnlockRecovered()
	for _, old := range c.registry.OldSourcesForPeerLocked(peerID) {
		recoveredQueue := old.QueueID()
		names := c.registry.RecoveredIndex().All(recoveredQueue)
		replacement := c.newSource(peer, recoveredQueue, true)
		for _, name := range names {
			replacement.EnqueueLog(WALRef{Name: name})
		}
		if err := replacement.Startup(); err != nil {
			return fmt.Errorf("peerlifecycle: refreshSources recovered startup %s: %w", recoveredQueue, err)
		}
		old.Terminate("refreshing recovered source", nil, false)
		c.registry.RemoveRecoveredLocked(old)
		c.registry.AppendRecoveredLocked(replacement)
	}

	c.syncPeers.set(peerID, peer.Config.Mode == ModeSync)
	c.publishPeerMetrics()
	return nil
}

// DrainSources is used when a sync-replication peer transitions to STANDBY
// (§4.6): it hands off to a replacement normal source, deletes the drained
// peer's outstanding WALs from durable storage, and tears down every
// recovered source for the peer.
func (c *PeerLifecycleController) DrainSources(peerID PeerID) error {
	peer, ok := c.peers.Get(peerID)
	if !ok {
		return fmt.Errorf("peerlifecycle: drainSources %s: %w", peerID, ErrPeerNotFound)
	}
	queueID := QueueIDFor(peerID)

	c.latestPath.Lock()
	oldSrc, hadOld := c.registry.GetSource(peerID)
	newSrc := c.newSource(peer, queueID, false)
	snapshot := c.registry.NormalIndex().All(queueID)
	c.latestPath.Unlock()

	if err := newSrc.Startup(); err != nil {
		return fmt.Errorf("peerlifecycle: drainSources startup %s: %w", peerID, err)
	}
	if hadOld {
		oldSrc.Terminate("draining to standby", nil, false)
	}
	c.registry.ReplaceSource(peerID, newSrc)

	for _, name := range snapshot {
		if err := c.storage.RemoveWAL(c.thisNode, queueID, name); err != nil {
			wrapped := fmt.Errorf("peerlifecycle: drainSources removeWAL %s/%s: %w", queueID, name, err)
			return handleStorageErr(c.node, PolicyAbortAndThrowIO, "failed to remove drained WAL from storage", wrapped, false, nil)
		}
	}
	c.registry.NormalIndex().RemoveNames(queueID, snapshot)

	c.registry.LockRecovered()
	defer c.registry.UnlockRecovered()
	for _, old := range c.registry.OldSourcesForPeerLocked(peerID) {
		old.Terminate("draining to standby", nil, false)
		if err := c.registry.RemoveRecoveredSource(old); err != nil {
			return err
		}
	}
	c.publishPeerMetrics()
	return nil
}

// IsSyncReplicationPeer reports whether peerID is currently registered as a
// sync-replication peer.
func (c *PeerLifecycleController) IsSyncReplicationPeer(peerID PeerID) bool {
	return c.syncPeers.has(peerID)
}
