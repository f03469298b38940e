package source

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// SourceFactory builds a new Source for a peer/queue pair. Supplied by the
// Manager so the registry never depends on a concrete shipper implementation.
type SourceFactory func(peer *Peer, queue QueueID, recovered bool) Source

// Registry is the Source Registry (§4.1, component A): it holds the single
// normal source per live peer plus the list of recovered sources claimed
// from dead nodes, and owns the seed-and-start sequence a brand new normal
// source must go through.
type Registry struct {
	mu      sync.RWMutex
	sources map[PeerID]Source

	oldMu      sync.Mutex
	oldSources []Source
	// recoveredIndex is mutated under oldMu by claimQueue, removePeer,
	// refreshSources and drainSources; cleanOldLogs's recovered branch prunes
	// it without oldMu and relies on WALIndex's own internal locking.
	recoveredIndex *WALIndex

	walIndex   *WALIndex
	latestPath *LatestPathTable
	storage    QueueStorage
	node       HostNode
	newSource  SourceFactory
	logger     *zap.Logger
	thisNode   string
}

// NewRegistry builds a Registry wired to its collaborators.
func NewRegistry(thisNode string, walIndex *WALIndex, recoveredIndex *WALIndex, latestPath *LatestPathTable, storage QueueStorage, node HostNode, factory SourceFactory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sources:        make(map[PeerID]Source),
		recoveredIndex: recoveredIndex,
		walIndex:       walIndex,
		latestPath:     latestPath,
		storage:        storage,
		node:           node,
		newSource:      factory,
		logger:         logger,
		thisNode:       thisNode,
	}
}

// AddSource creates and starts the normal source for peer (§4.1). It
// short-circuits and logs if the peer's endpoint is the retired legacy
// region-replication endpoint. The new source is seeded with the current
// Latest-Path Table under the table's lock, so a concurrent log roll cannot
// open a gap between "what the new source was told about" and "what
// preLogRoll is about to add". If durable registration fails mid-seed, the
// node is fatally aborted: the in-memory WAL Index must never diverge
// persistently from storage (§4.1, §7 category 1).
func (r *Registry) AddSource(peer *Peer) (Source, error) {
	if peer.Config.IsLegacyEndpoint() {
		r.logger.Info("skipping source for legacy region-replication endpoint peer",
			zap.String("peer_id", string(peer.ID)))
		return nil, nil
	}

	queueID := QueueIDFor(peer.ID)
	src := r.newSource(peer, queueID, false)

	r.latestPath.Lock()
	snap := r.latestPath.SnapshotLocked()
	for _, ref := range snap {
		if err := r.storage.AddWAL(r.thisNode, queueID, ref.Name); err != nil {
			r.latestPath.Unlock()
			wrapped := fmt.Errorf("source: seed addWAL for peer %s: %w", peer.ID, err)
			return nil, handleStorageErr(r.node, PolicyAbortAndThrowIO, "addSource: durable WAL seed registration failed", wrapped, false, nil)
		}
		r.walIndex.Add(queueID, ref.Name)
	}
	r.latestPath.Unlock()

	for _, ref := range snap {
		src.EnqueueLog(ref)
	}

	if err := src.Startup(); err != nil {
		return nil, fmt.Errorf("source: startup for peer %s: %w", peer.ID, err)
	}

	r.mu.Lock()
	r.sources[peer.ID] = src
	r.mu.Unlock()

	return src, nil
}

// ReplaceSource installs src as the live normal source for peer, overwriting
// whatever was there before without touching storage or the WAL Index
// (refreshSources/drainSources have already migrated those; the caller is
// responsible for terminating the displaced source).
func (r *Registry) ReplaceSource(peer PeerID, src Source) {
	r.mu.Lock()
	r.sources[peer] = src
	r.mu.Unlock()
}

// RemoveSource drops src from the registry, deletes its queue from storage,
// then drops its WAL Index entry. The caller must have already terminated
// src (§4.1).
func (r *Registry) RemoveSource(src Source) error {
	r.mu.Lock()
	delete(r.sources, src.PeerID())
	r.mu.Unlock()

	if err := r.storage.RemoveQueue(r.thisNode, src.QueueID()); err != nil {
		return fmt.Errorf("source: removeQueue for %s: %w", src.QueueID(), err)
	}
	r.walIndex.Clear(src.QueueID())
	return nil
}

// RemoveRecoveredSource drops src from the recovered list, deletes its
// queue from storage, then drops its recovered WAL Index entry. The caller
// must have already terminated src and must hold the recovered-sources lock
// (LockRecovered) across this call together with the list mutation.
func (r *Registry) RemoveRecoveredSource(src Source) error {
	r.removeRecoveredLocked(src)

	if err := r.storage.RemoveQueue(r.thisNode, src.QueueID()); err != nil {
		return fmt.Errorf("source: removeQueue for recovered %s: %w", src.QueueID(), err)
	}
	r.recoveredIndex.Clear(src.QueueID())
	return nil
}

// GetSource returns the live normal source for peer, if any.
func (r *Registry) GetSource(peer PeerID) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[peer]
	return s, ok
}

// GetSources returns every live normal source.
func (r *Registry) GetSources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// IsEmpty reports whether the registry has no normal sources. (The log-roll
// empty shortcut checks the length of GetSources instead of calling this.)
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources) == 0
}

// GetOldSources returns every recovered source across all peers.
func (r *Registry) GetOldSources() []Source {
	r.oldMu.Lock()
	defer r.oldMu.Unlock()
	out := make([]Source, len(r.oldSources))
	copy(out, r.oldSources)
	return out
}

// LockRecovered acquires the recovered-sources lock (§5 "oldsources" row).
// Every mutator of the recovered source list must hold this lock for the
// whole of its critical section; the recovered WAL Index is also mutated
// under it, except by cleanOldLogs's recovered-branch prune.
func (r *Registry) LockRecovered() { r.oldMu.Lock() }

// UnlockRecovered releases the recovered-sources lock.
func (r *Registry) UnlockRecovered() { r.oldMu.Unlock() }

// AppendRecoveredLocked adds src to the recovered list. Caller holds
// LockRecovered.
func (r *Registry) AppendRecoveredLocked(src Source) {
	r.oldSources = append(r.oldSources, src)
}

// OldSourcesForPeerLocked returns the recovered sources currently tracked
// for peer. Caller holds LockRecovered.
func (r *Registry) OldSourcesForPeerLocked(peer PeerID) []Source {
	var out []Source
	for _, s := range r.oldSources {
		if s.PeerID() == peer {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) removeRecoveredLocked(src Source) {
	for i, s := range r.oldSources {
		if s == src {
			r.oldSources = append(r.oldSources[:i], r.oldSources[i+1:]...)
			return
		}
	}
}

// RemoveRecoveredLocked removes src from the recovered list without
// touching storage or the WAL Index (used by refreshSources, which carries
// the queue's state over to a replacement source). Caller holds
// LockRecovered.
func (r *Registry) RemoveRecoveredLocked(src Source) {
	r.removeRecoveredLocked(src)
}

// RecoveredIndex exposes the recovered-queue WAL Index.
func (r *Registry) RecoveredIndex() *WALIndex { return r.recoveredIndex }

// NormalIndex exposes the normal-queue WAL Index.
func (r *Registry) NormalIndex() *WALIndex { return r.walIndex }
