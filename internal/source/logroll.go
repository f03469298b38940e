package source

import (
	"fmt"

	"go.uber.org/zap"
)

// LogRollHandler keeps storage, the WAL Index, and the Latest-Path Table in
// lockstep with the surrounding WAL subsystem's rotations (§4.4).
type LogRollHandler struct {
	thisNode   string
	registry   *Registry
	latestPath *LatestPathTable
	walIndex   *WALIndex
	storage    QueueStorage
	node       HostNode
	logger     *zap.Logger
}

// NewLogRollHandler wires a LogRollHandler to the shared registry, index,
// and latest-path state it mutates in lockstep.
func NewLogRollHandler(thisNode string, registry *Registry, latestPath *LatestPathTable, walIndex *WALIndex, storage QueueStorage, node HostNode, logger *zap.Logger) *LogRollHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRollHandler{
		thisNode:   thisNode,
		registry:   registry,
		latestPath: latestPath,
		walIndex:   walIndex,
		storage:    storage,
		node:       node,
		logger:     logger,
	}
}

// PreLogRoll is called before the old log is closed. It durably registers
// newLog for every live normal source, updates the in-memory WAL Index, and
// advances the Latest-Path Table — all under the Latest-Path lock so that a
// source seeded by addSource concurrently with a roll never misses a WAL.
func (h *LogRollHandler) PreLogRoll(newLog WALRef) error {
	h.latestPath.Lock()
	defer h.latestPath.Unlock()

	sources := h.registry.GetSources()
	for _, src := range sources {
		if err := h.storage.AddWAL(h.thisNode, src.QueueID(), newLog.Name); err != nil {
			wrapped := fmt.Errorf("logroll: addWAL %s/%s: %w", src.QueueID(), newLog.Name, err)
			return handleStorageErr(h.node, PolicyAbortAndThrowIO, "failed to register rolled WAL in storage", wrapped, false, nil)
		}
	}

	if len(sources) == 0 {
		// Empty shortcut (§4.2): no consumer, so any stale per-prefix sets
		// left over are dropped rather than retained indefinitely.
		for _, q := range h.walIndex.Queues() {
			h.walIndex.Clear(q)
		}
	} else {
		for _, src := range sources {
			h.walIndex.EnsureAndAppend(src.QueueID(), newLog.Name)
		}
	}

	h.latestPath.SetLocked(newLog)
	return nil
}

// PostLogRoll is called after the old log is closed. It hands newLog to
// every live normal source. Recovered sources are never notified — they
// replay a fixed claimed set established at claim time.
func (h *LogRollHandler) PostLogRoll(newLog WALRef) {
	for _, src := range h.registry.GetSources() {
		src.EnqueueLog(newLog)
	}
}
