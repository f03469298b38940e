package source

// MetricsSink receives the observability signals the Failover Claimer,
// Cleanup Engine, Peer Lifecycle Controller, and default shipper produce as
// a side effect of their normal work. It is satisfied structurally by
// *metrics.Metrics; this package never imports internal/metrics so that
// metrics stays a pure consumer of source, not a dependency of it.
type MetricsSink interface {
	// RecordShip records the outcome of one shipping attempt for peerID.
	RecordShip(peerID string, success bool, entries, bytes int64)
	// SetSourcesActive records the number of live sources, split by whether
	// they are recovered or normal.
	SetSourcesActive(normal, recovered int)
	// SetQueueDepth records the number of durable queues and pending WALs
	// tracked for peerID.
	SetQueueDepth(peerID string, queues, pendingWALs int)
	// RecordWALPruned records one WAL pruned from durable storage.
	RecordWALPruned(recovered bool)
	// RecordRemoteDeleteRetry records one retry of a sync-replication
	// remote WAL delete for peerID.
	RecordRemoteDeleteRetry(peerID string)
	// RecordFailoverClaim records the outcome of a failover claim attempt:
	// "claimed", "dropped", or "abandoned".
	RecordFailoverClaim(outcome string)
	// SetFailoverTasksActive records the number of in-flight failover
	// claims.
	SetFailoverTasksActive(count int64)
	// SetPeersRegistered records the number of registered peers and how
	// many of them are in sync-replication mode.
	SetPeersRegistered(total, syncReplicas int)
}
