package source

// QueueStorage is the durable queue store (§3): a transactional registry of
// {node -> queueId -> ordered WAL names + per-WAL byte position + per-WAL
// last-seen sequence ids}, plus the claim primitive that atomically moves a
// dead node's queue to a live one. Implementations live outside this
// package (internal/source/queuestorage has a BadgerDB-backed one); this
// package only depends on the interface.
//
// QueueStorage itself does not know about source cancellation; the Cleanup
// Engine distinguishes "this storage error is because the calling source
// was concurrently terminated" from "this is a genuine storage fault" by
// checking the source's IsActive() around the call and wrapping the error
// with ErrCancelled when it is not (§5 cancellation, §7 category 2).
type QueueStorage interface {
	// AddWAL registers wal under node/queue.
	AddWAL(node string, queue QueueID, wal string) error
	// RemoveWAL removes wal from node/queue.
	RemoveWAL(node string, queue QueueID, wal string) error
	// SetWALPosition records shipping progress for wal under node/queue.
	SetWALPosition(node string, queue QueueID, wal string, bytePos int64, lastSeqIds map[string]uint64) error
	// RemoveQueue deletes every entry for node/queue.
	RemoveQueue(node string, queue QueueID) error
	// ClaimQueue atomically transfers queue from deadNode to thisNode,
	// returning a new queue id and the WAL names it owned. Implementations
	// must make this exclusive across every node in the cluster.
	ClaimQueue(deadNode string, queue QueueID, thisNode string) (QueueID, []string, error)
	// GetAllQueues returns every queue owned by node and the WAL names each holds.
	GetAllQueues(node string) (map[QueueID][]string, error)

	// AddPeerToHFileRefs registers peer in the bulk-load HFile reference
	// section of storage (§1 Non-goals: tracking logic is out of scope,
	// only this interface boundary is wired).
	AddPeerToHFileRefs(peer PeerID) error
	// RemovePeerFromHFileRefs removes peer's HFile reference registration.
	RemovePeerFromHFileRefs(peer PeerID) error
	// RemoveHFileRefs removes specific HFile references for peer.
	RemoveHFileRefs(peer PeerID, files []string) error
}
