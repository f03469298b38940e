package source

import "time"

// WALRef names a single WAL file owned by a queue, relative to a log
// directory the caller already knows (logDir for normal sources, oldLogDir
// for recovered sources).
type WALRef struct {
	Name string
	Path string
}

// Batch describes the outcome of a shipper finishing a slice of a WAL, as
// reported through Manager.LogPositionAndCleanOldLogs (§4.5).
type Batch struct {
	LastWalName  string
	LastPosition int64
	// LastSeqIds maps region name to the last sequence id shipped for it,
	// used by QueueStorage.SetWALPosition for downstream dedup on the peer.
	LastSeqIds map[string]uint64
	// IsEndOfFile is true when the shipper has shipped the whole file (as
	// opposed to stopping mid-file because it hit the currently-open tail).
	IsEndOfFile bool
}

// Stats is a point-in-time snapshot of a source's shipping progress,
// surfaced through Manager.GetStats / getStats (§1, §6).
type Stats struct {
	PeerID        PeerID
	QueueID       QueueID
	Recovered     bool
	Active        bool
	AgeOfLastShip time.Duration
	EntriesShipped int64
	BytesShipped   int64
	LastError      error
}

// Source is the capability interface the manager drives a shipper through.
// The shipper's own internals (reading a WAL, batching entries, pushing them
// to a remote cluster over the wire) are out of this package's scope; see
// SPEC_FULL.md's Non-goals. shipper.go provides a minimal, pluggable,
// testable implementation behind this interface.
type Source interface {
	// PeerID is the peer this source ships to.
	PeerID() PeerID
	// QueueID is this source's immutable queue identity.
	QueueID() QueueID
	// Recovered reports whether this is a transient recovered source (true)
	// or the single permanent normal source for its peer (false).
	Recovered() bool

	// Startup begins the source's background shipping loop and returns
	// immediately; shipping happens on a goroutine. Non-blocking.
	Startup() error
	// Terminate stops the source. clearMetrics controls whether cumulative
	// shipping statistics are reset (refreshSources preserves them across a
	// reconfigure; removePeer does not need to care either way). Blocking.
	Terminate(reason string, cause error, clearMetrics bool)

	// EnqueueLog hands a newly rolled (or, for recovered sources, claimed)
	// WAL to the source for shipping.
	EnqueueLog(ref WALRef)

	// IsActive reports whether the source's shipping loop is still running.
	IsActive() bool
	// IsRecovered is equivalent to Recovered; kept distinct per spec.md §1's
	// operation list, which names both isActive and isRecovered as peers.
	IsRecovered() bool
	// IsSyncReplication reports whether this source ships to a sync-replication peer.
	IsSyncReplication() bool

	// GetStats returns a snapshot of shipping progress.
	GetStats() Stats
}
