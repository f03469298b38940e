package source

import (
	"sort"
	"sync"
)

// memStorage is an in-memory QueueStorage test double, grounded on the same
// {node, queue, wal} shape queuestorage.Store persists durably.
type memStorage struct {
	mu      sync.Mutex
	queues  map[string]map[QueueID]map[string]struct{}
	hfPeers map[PeerID]struct{}
	hfFiles map[PeerID]map[string]struct{}

	failAddWAL    bool
	failRemoveWAL bool
	failClaim     bool
}

func newMemStorage() *memStorage {
	return &memStorage{
		queues:  make(map[string]map[QueueID]map[string]struct{}),
		hfPeers: make(map[PeerID]struct{}),
		hfFiles: make(map[PeerID]map[string]struct{}),
	}
}

func (s *memStorage) AddWAL(node string, queue QueueID, wal string) error {
	if s.failAddWAL {
		return errMemStorage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(node, queue)
	s.queues[node][queue][wal] = struct{}{}
	return nil
}

func (s *memStorage) RemoveWAL(node string, queue QueueID, wal string) error {
	if s.failRemoveWAL {
		return errMemStorage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[node][queue]; ok {
		delete(q, wal)
	}
	return nil
}

func (s *memStorage) SetWALPosition(node string, queue QueueID, wal string, bytePos int64, lastSeqIds map[string]uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(node, queue)
	s.queues[node][queue][wal] = struct{}{}
	return nil
}

func (s *memStorage) RemoveQueue(node string, queue QueueID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qs, ok := s.queues[node]; ok {
		delete(qs, queue)
	}
	return nil
}

func (s *memStorage) ClaimQueue(deadNode string, queue QueueID, thisNode string) (QueueID, []string, error) {
	if s.failClaim {
		return "", nil, errMemStorage
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wals := s.queues[deadNode][queue]
	names := make([]string, 0, len(wals))
	for w := range wals {
		names = append(names, w)
	}
	sort.Strings(names)
	delete(s.queues[deadNode], queue)

	peer := PeerIDFromQueueID(queue)
	newQueue := NewRecoveredQueueID(peer, deadNode, "test-token")
	s.ensure(thisNode, newQueue)
	for _, n := range names {
		s.queues[thisNode][newQueue][n] = struct{}{}
	}
	return newQueue, names, nil
}

func (s *memStorage) GetAllQueues(node string) (map[QueueID][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[QueueID][]string)
	for q, wals := range s.queues[node] {
		names := make([]string, 0, len(wals))
		for w := range wals {
			names = append(names, w)
		}
		sort.Strings(names)
		out[q] = names
	}
	return out, nil
}

func (s *memStorage) AddPeerToHFileRefs(peer PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hfPeers[peer] = struct{}{}
	return nil
}

func (s *memStorage) RemovePeerFromHFileRefs(peer PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hfPeers, peer)
	delete(s.hfFiles, peer)
	return nil
}

func (s *memStorage) RemoveHFileRefs(peer PeerID, files []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		delete(s.hfFiles[peer], f)
	}
	return nil
}

func (s *memStorage) queuesFor(node, queue string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	wals := s.queues[node][QueueID(queue)]
	names := make([]string, 0, len(wals))
	for w := range wals {
		names = append(names, w)
	}
	sort.Strings(names)
	return names
}

func (s *memStorage) ensure(node string, queue QueueID) {
	if _, ok := s.queues[node]; !ok {
		s.queues[node] = make(map[QueueID]map[string]struct{})
	}
	if _, ok := s.queues[node][queue]; !ok {
		s.queues[node][queue] = make(map[string]struct{})
	}
}

var errMemStorage = &memStorageError{"mem storage error"}

type memStorageError struct{ msg string }

func (e *memStorageError) Error() string { return e.msg }

var _ QueueStorage = (*memStorage)(nil)
