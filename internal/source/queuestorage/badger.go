// Package queuestorage provides a BadgerDB-backed source.QueueStorage,
// grounded on the teacher's internal/storage/badger package: the same
// db.Update(func(txn *badger.Txn) error {...}) transaction idiom and
// key-prefix scheme, repurposed from {memory, namespace} entities to the
// {node, queueId, wal} registry this spec needs.
package queuestorage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/waldrift/waldrift/internal/source"
)

// Key layout:
//
//	q:{node}\x00{queue}\x00{wal}        -> json(walEntry)
//	hf:{peer}                          -> 0x01                (peer registered for bulk-load refs)
//	hfr:{peer}\x00{file}                -> "1"                 (individual HFile reference)
const (
	sep          = "\x00"
	prefixQueue  = "q:"
	prefixHFPeer = "hf:"
	prefixHFFile = "hfr:"
)

type walEntry struct {
	BytePos    int64             `json:"byte_pos"`
	LastSeqIds map[string]uint64 `json:"last_seq_ids,omitempty"`
}

// Store implements source.QueueStorage using BadgerDB. It holds no lock of
// its own: every method is a single Badger transaction, and Badger
// serializes writers internally.
type Store struct {
	db *badger.DB
}

// Options configures Store.
type Options struct {
	DataDir    string
	SyncWrites bool
}

// Open creates (or reopens) a Store rooted at opts.DataDir.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("queuestorage: data directory is required")
	}
	bo := badger.DefaultOptions(opts.DataDir)
	bo.SyncWrites = opts.SyncWrites
	bo.Logger = nil
	bo.ValueLogFileSize = 64 << 20

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("queuestorage: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func queueKey(node string, queue source.QueueID, wal string) []byte {
	return []byte(prefixQueue + node + sep + string(queue) + sep + wal)
}

func queuePrefix(node string, queue source.QueueID) []byte {
	return []byte(prefixQueue + node + sep + string(queue) + sep)
}

func nodePrefix(node string) []byte {
	return []byte(prefixQueue + node + sep)
}

// AddWAL registers wal under node/queue with a fresh (zero) position.
func (s *Store) AddWAL(node string, queue source.QueueID, wal string) error {
	data, err := json.Marshal(walEntry{})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(node, queue, wal), data)
	})
	if err != nil {
		return fmt.Errorf("queuestorage: addWAL %s/%s/%s: %w", node, queue, wal, err)
	}
	return nil
}

// RemoveWAL deletes wal from node/queue.
func (s *Store) RemoveWAL(node string, queue source.QueueID, wal string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(queueKey(node, queue, wal))
	})
	if err != nil {
		return fmt.Errorf("queuestorage: removeWAL %s/%s/%s: %w", node, queue, wal, err)
	}
	return nil
}

// SetWALPosition records shipping progress for wal under node/queue.
func (s *Store) SetWALPosition(node string, queue source.QueueID, wal string, bytePos int64, lastSeqIds map[string]uint64) error {
	entry := walEntry{BytePos: bytePos, LastSeqIds: lastSeqIds}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(node, queue, wal), data)
	})
	if err != nil {
		return fmt.Errorf("queuestorage: setWALPosition %s/%s/%s: %w", node, queue, wal, err)
	}
	return nil
}

// RemoveQueue deletes every entry for node/queue.
func (s *Store) RemoveQueue(node string, queue source.QueueID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		prefix := queuePrefix(node, queue)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, k)
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queuestorage: removeQueue %s/%s: %w", node, queue, err)
	}
	return nil
}

// GetAllQueues returns every queue owned by node and the WAL names each holds.
func (s *Store) GetAllQueues(node string) (map[source.QueueID][]string, error) {
	out := make(map[source.QueueID][]string)
	prefix := nodePrefix(node)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, string(prefix))
			parts := strings.SplitN(rest, sep, 2)
			if len(parts) != 2 {
				continue
			}
			q := source.QueueID(parts[0])
			out[q] = append(out[q], parts[1])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queuestorage: getAllQueues %s: %w", node, err)
	}
	for q := range out {
		sort.Strings(out[q])
	}
	return out, nil
}

// ClaimQueue atomically transfers queue from deadNode to thisNode within a
// single Badger transaction, returning a new queue id (encoding the
// original peer, the dead node, and a fresh disambiguating token) and the
// WAL names it owned.
func (s *Store) ClaimQueue(deadNode string, queue source.QueueID, thisNode string) (source.QueueID, []string, error) {
	peer := source.PeerIDFromQueueID(queue)
	token := uuid.New().String()[:8]
	newQueue := source.NewRecoveredQueueID(peer, deadNode, token)

	var wals []string
	err := s.db.Update(func(txn *badger.Txn) error {
		prefix := queuePrefix(deadNode, queue)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		type kv struct {
			wal  string
			data []byte
		}
		var entries []kv
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			wal := strings.TrimPrefix(string(item.Key()), string(prefix))
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, kv{wal: wal, data: data})
		}

		for _, e := range entries {
			if err := txn.Delete(queueKey(deadNode, queue, e.wal)); err != nil {
				return err
			}
			if err := txn.Set(queueKey(thisNode, newQueue, e.wal), e.data); err != nil {
				return err
			}
			wals = append(wals, e.wal)
		}
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("queuestorage: claimQueue %s/%s -> %s: %w", deadNode, queue, thisNode, err)
	}
	sort.Strings(wals)
	return newQueue, wals, nil
}

// AddPeerToHFileRefs registers peer in the bulk-load HFile reference section.
func (s *Store) AddPeerToHFileRefs(peer source.PeerID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixHFPeer+string(peer)), []byte{1})
	})
	if err != nil {
		return fmt.Errorf("queuestorage: addPeerToHFileRefs %s: %w", peer, err)
	}
	return nil
}

// RemovePeerFromHFileRefs removes peer's HFile reference registration and
// every file reference registered under it.
func (s *Store) RemovePeerFromHFileRefs(peer source.PeerID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixHFPeer + string(peer))); err != nil {
			return err
		}
		prefix := []byte(prefixHFFile + string(peer) + sep)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queuestorage: removePeerFromHFileRefs %s: %w", peer, err)
	}
	return nil
}

// RemoveHFileRefs removes specific HFile references for peer.
func (s *Store) RemoveHFileRefs(peer source.PeerID, files []string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, f := range files {
			if err := txn.Delete([]byte(prefixHFFile + string(peer) + sep + f)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queuestorage: removeHFileRefs %s: %w", peer, err)
	}
	return nil
}

var _ source.QueueStorage = (*Store)(nil)
