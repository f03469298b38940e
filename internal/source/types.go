// Package source implements the per-node replication source manager: it owns
// the per-peer WAL shipping pipelines, tracks which WAL files each pipeline
// still has to process, and takes over the unfinished work of peer nodes
// that have died.
package source

import (
	"errors"
	"strings"
)

// PeerID identifies a remote peer cluster.
type PeerID string

// QueueID identifies a unit of shipping work. A normal queue's id equals its
// peer id; a recovered queue's id encodes the owning peer id, the dead node
// it was claimed from, and a disambiguating suffix.
type QueueID string

// ReplicationMode is the data-transfer mode negotiated with a peer.
type ReplicationMode string

const (
	// ModeAsync ships edits without waiting for the peer to stage them.
	ModeAsync ReplicationMode = "async"
	// ModeSync requires the peer to stage WAL edits before shipping proceeds.
	ModeSync ReplicationMode = "sync"
)

// SyncState is the sync-replication state machine position of a peer (§4.6).
type SyncState string

const (
	SyncStateActive             SyncState = "active"
	SyncStateDowngradeActive    SyncState = "downgrade_active"
	SyncStateStandby            SyncState = "standby"
	SyncStateTransitioningToSBY SyncState = "transitioning_to_standby"
)

// legacyRegionReplicationEndpoint is the retired endpoint identity that
// addSource refuses to start a shipper for (§4.1).
const legacyRegionReplicationEndpoint = "org.apache.hadoop.hbase.replication.regionserver.RegionReplicaReplicationEndpoint"

// PeerConfig is the configuration carried by a Peer (§3).
type PeerConfig struct {
	// Endpoint is the shipper endpoint identity (an implementation class name
	// or transport identifier; never dialed directly by this package).
	Endpoint string
	// Enabled toggles whether the peer accepts new shipped edits.
	Enabled bool
	// Mode is this peer's replication mode.
	Mode ReplicationMode
	// RemoteWALDir is the peer-side staging directory; only meaningful when
	// Mode == ModeSync.
	RemoteWALDir string
	// SyncState is the sync-replication state machine position; only
	// meaningful when Mode == ModeSync.
	SyncState SyncState
}

// IsLegacyEndpoint reports whether cfg names the retired region-replication
// endpoint, which addSource must refuse to start a shipper for.
func (c PeerConfig) IsLegacyEndpoint() bool {
	return c.Endpoint == legacyRegionReplicationEndpoint
}

// Peer is a registered remote cluster. Peer values are never mutated in
// place by PeerRegistry: a config change produces a new *Peer, so pointer
// identity distinguishes "the peer I looked up a moment ago" from "a peer
// with the same id that was removed and re-added since" (§4.7 step 5).
type Peer struct {
	ID     PeerID
	Config PeerConfig
}

// QueueIDFor builds the normal queue id for a peer: queueId == peerId (§3).
func QueueIDFor(peer PeerID) QueueID {
	return QueueID(peer)
}

// recoveredQueueSep separates the components of a recovered queue id.
const recoveredQueueSep = "-"

// NewRecoveredQueueID builds a recovered queue id encoding the owning peer,
// the dead node it was claimed from, and a disambiguating token (§3, §4.7).
func NewRecoveredQueueID(peer PeerID, deadNode, token string) QueueID {
	return QueueID(string(peer) + recoveredQueueSep + deadNode + recoveredQueueSep + token)
}

// PeerIDFromQueueID recovers the owning peer id from any queue id, normal or
// recovered (§3 invariant: "peerId(queueId) is recoverable from the queueId
// string").
func PeerIDFromQueueID(q QueueID) PeerID {
	s := string(q)
	if i := strings.Index(s, recoveredQueueSep); i >= 0 {
		return PeerID(s[:i])
	}
	return PeerID(s)
}

// Prefix returns the log group a WAL name belongs to: the name with its
// trailing rotation-sequence suffix (a dot followed by digits) stripped.
// WALs sharing a prefix form a strictly ordered sequence by lexicographic
// name (§3); see SPEC_FULL.md for why this matches HBase's WAL naming.
func Prefix(walName string) string {
	i := strings.LastIndexByte(walName, '.')
	if i < 0 {
		return walName
	}
	suffix := walName[i+1:]
	if suffix == "" {
		return walName
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return walName
		}
	}
	return walName[:i]
}

// Errors surfaced across the package. See SPEC_FULL.md's error-handling
// section for the policy each is used under.
var (
	// ErrCancelled marks a storage call that failed because the calling
	// source was concurrently terminated. It unwinds the shipper loop
	// cleanly and must never trigger a fatal node abort (§4.5, §5 cancellation).
	ErrCancelled = errors.New("source: storage call cancelled by source termination")

	// ErrPeerNotFound is returned by PeerRegistry/Manager lookups.
	ErrPeerNotFound = errors.New("source: peer not found")
	// ErrPeerExists names an already registered peer id. AddPeer does not
	// return it (re-adding a peer is a no-op) and no function here does.
	ErrPeerExists = errors.New("source: peer already exists")
	// ErrQueueNotFound names a queue with no entry. The QueueStorage
	// implementations in this module do not return it.
	ErrQueueNotFound = errors.New("source: queue not found")
	// ErrEmptyClaim names a claimed queue that carries no WALs. The failover
	// claim drops such a queue without returning it.
	ErrEmptyClaim = errors.New("source: claimed queue is empty")
	// ErrNegativeQuota is the buffer-quota precondition violation (§4.8).
	ErrNegativeQuota = errors.New("source: buffer quota size must be >= 0")
)
