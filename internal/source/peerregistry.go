package source

// PeerRegistry is the peer registry (§1, §3): add/remove/lookup peers and
// their configuration. Implementations live outside this package
// (internal/source/peerregistry has an in-memory one); Manager depends only
// on this interface.
//
// Peer identity matters beyond configuration equality: Add of an id that is
// not registered always creates a brand new *Peer, so that a caller holding a *Peer from before a
// Remove+Add cycle can tell, by pointer comparison, that the peer it is
// looking at is not the one it originally observed (§4.7 step 5's
// re-check).
type PeerRegistry interface {
	// Add registers peer with cfg. Returns (peer, true, nil) if newly
	// created, or (existing, false, nil) if peer already existed — a no-op,
	// per §7 category 4.
	Add(id PeerID, cfg PeerConfig) (peer *Peer, added bool, err error)
	// Remove unregisters id, returning its final config. ok is false if id
	// was not registered.
	Remove(id PeerID) (cfg PeerConfig, ok bool)
	// Get returns the current peer for id, if registered. The returned
	// pointer is stable across config updates that do not go through
	// Replace (see Replace's doc).
	Get(id PeerID) (peer *Peer, ok bool)
	// List returns every registered peer.
	List() []*Peer
	// Replace installs a new config for id, producing a new *Peer value so
	// that holders of the old pointer observe the identity change
	// (refreshSources/drainSources use this for reconfiguration; a plain
	// in-place mutation would let a stale failover task believe it still
	// has the current peer).
	Replace(id PeerID, cfg PeerConfig) (peer *Peer, ok bool)
}
