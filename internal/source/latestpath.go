package source

import "sync"

// LatestPathTable tracks, per log-group prefix, the most recent WAL path
// known on this node (§3, §4.3). Its single mutation point is preLogRoll;
// addSource reads it to seed a newly added peer so that the peer starts
// from "now" rather than replaying every WAL ever rolled.
//
// Lock/Unlock are exported (rather than wrapped behind a closure-taking
// method) because the lock-ordering rule in §5 requires several
// multi-component critical sections — preLogRoll, addSource, drainSources,
// refreshSources — to hold this lock across operations on other components
// (the WAL Index, durable storage) before releasing it. A closure API would
// force all of those call sites to nest inside this package, which is where
// they already live; Lock/Unlock keeps the critical section visible at the
// call site instead of hidden inside a helper.
type LatestPathTable struct {
	mu    sync.Mutex
	paths map[string]WALRef
}

// NewLatestPathTable creates an empty table.
func NewLatestPathTable() *LatestPathTable {
	return &LatestPathTable{paths: make(map[string]WALRef)}
}

// Lock acquires the table's lock. Must precede the WAL-Index lock per §5's
// ordering (latestPaths -> walsById).
func (t *LatestPathTable) Lock() { t.mu.Lock() }

// Unlock releases the table's lock.
func (t *LatestPathTable) Unlock() { t.mu.Unlock() }

// Set records newLog as the latest WAL for its prefix. Safe to call without
// holding Lock.
func (t *LatestPathTable) Set(newLog WALRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths[Prefix(newLog.Name)] = newLog
}

// SetLocked is Set's body for callers already holding Lock (preLogRoll,
// §4.4 step 4).
func (t *LatestPathTable) SetLocked(newLog WALRef) {
	t.paths[Prefix(newLog.Name)] = newLog
}

// Snapshot returns a copy of every prefix -> latest-WAL mapping.
func (t *LatestPathTable) Snapshot() map[string]WALRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// SnapshotLocked is Snapshot's body for callers already holding Lock
// (addSource, drainSources).
func (t *LatestPathTable) SnapshotLocked() map[string]WALRef {
	return t.snapshotLocked()
}

func (t *LatestPathTable) snapshotLocked() map[string]WALRef {
	out := make(map[string]WALRef, len(t.paths))
	for k, v := range t.paths {
		out[k] = v
	}
	return out
}

// Size returns the number of tracked prefixes (getSizeOfLatestPath, §6).
func (t *LatestPathTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}
