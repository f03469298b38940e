package source

import (
	"sort"
	"sync"
)

// WALIndex is the in-memory model of which WALs a set of queues still has to
// ship, grouped by log-group prefix (§3, §4.2). It is a pure data structure:
// callers supply whatever external locking discipline their call site
// requires (§5's lock-ordering table); WALIndex additionally serializes its
// own mutations so a caller that forgets to take an external lock cannot
// corrupt it, it can only race on ordering.
type WALIndex struct {
	mu   sync.Mutex
	data map[QueueID]map[string][]string // prefix -> ascending WAL names
}

// NewWALIndex creates an empty index.
func NewWALIndex() *WALIndex {
	return &WALIndex{data: make(map[QueueID]map[string][]string)}
}

// Add inserts name into queue's prefix set, keeping it ascending. It is a
// no-op if name is already present.
func (w *WALIndex) Add(queue QueueID, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addLocked(queue, name)
}

func (w *WALIndex) addLocked(queue QueueID, name string) {
	prefixes, ok := w.data[queue]
	if !ok {
		prefixes = make(map[string][]string)
		w.data[queue] = prefixes
	}
	p := Prefix(name)
	set := prefixes[p]
	i := sort.SearchStrings(set, name)
	if i < len(set) && set[i] == name {
		return
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = name
	prefixes[p] = set
}

// Remove deletes name from queue's prefix set, pruning the prefix and queue
// entries once empty.
func (w *WALIndex) Remove(queue QueueID, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(queue, name)
}

func (w *WALIndex) removeLocked(queue QueueID, name string) {
	prefixes, ok := w.data[queue]
	if !ok {
		return
	}
	p := Prefix(name)
	set := prefixes[p]
	i := sort.SearchStrings(set, name)
	if i >= len(set) || set[i] != name {
		return
	}
	set = append(set[:i], set[i+1:]...)
	if len(set) == 0 {
		delete(prefixes, p)
	} else {
		prefixes[p] = set
	}
	if len(prefixes) == 0 {
		delete(w.data, queue)
	}
}

// HeadSet returns the names in queue's prefix(log) set that are <= log, or
// < log when inclusive is false. The returned slice is a copy.
func (w *WALIndex) HeadSet(queue QueueID, log string, inclusive bool) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := w.data[queue][Prefix(log)]
	return headSetLocked(set, log, inclusive)
}

func headSetLocked(set []string, log string, inclusive bool) []string {
	n := sort.SearchStrings(set, log)
	if inclusive && n < len(set) && set[n] == log {
		n++
	}
	out := make([]string, n)
	copy(out, set[:n])
	return out
}

// RemoveNames removes every name in names from queue (used after a cleanup
// snapshot has been durably deleted, §4.5).
func (w *WALIndex) RemoveNames(queue QueueID, names []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range names {
		w.removeLocked(queue, n)
	}
}

// EnsureAndAppend implements preLogRoll's per-queue step (§4.4 step 3): if a
// set for prefix(name) exists, append name to it; otherwise create one
// containing only name. Unlike Add, this assumes name sorts after
// everything already present (true for a freshly rolled WAL) and is O(1).
func (w *WALIndex) EnsureAndAppend(queue QueueID, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prefixes, ok := w.data[queue]
	if !ok {
		prefixes = make(map[string][]string)
		w.data[queue] = prefixes
	}
	p := Prefix(name)
	prefixes[p] = append(prefixes[p], name)
}

// Clear drops every prefix set tracked for queue (the "empty shortcut":
// during a log roll, if no source exists, history is not retained, §4.2).
func (w *WALIndex) Clear(queue QueueID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.data, queue)
}

// Queues returns every queue id currently tracked.
func (w *WALIndex) Queues() []QueueID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]QueueID, 0, len(w.data))
	for q := range w.data {
		out = append(out, q)
	}
	return out
}

// IsEmpty reports whether queue has no tracked WALs.
func (w *WALIndex) IsEmpty(queue QueueID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.data[queue]) == 0
}

// Snapshot returns a deep copy of queue's prefix -> names map, used by
// drainSources/refreshSources to re-enqueue without holding the index lock
// (§4.6).
func (w *WALIndex) Snapshot(queue QueueID) map[string][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	prefixes := w.data[queue]
	out := make(map[string][]string, len(prefixes))
	for p, set := range prefixes {
		cp := make([]string, len(set))
		copy(cp, set)
		out[p] = cp
	}
	return out
}

// All returns every WAL name tracked for queue, across all prefixes.
func (w *WALIndex) All(queue QueueID) []string {
	snap := w.Snapshot(queue)
	var out []string
	for _, set := range snap {
		out = append(out, set...)
	}
	return out
}
