package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RemoteWALDeleter deletes a sync-replication peer's copy of a WAL from its
// remote filesystem. "Not found" must be reported via os.ErrNotExist (or a
// wrapped equivalent detectable by errors.Is) so CleanupEngine can treat it
// as success.
type RemoteWALDeleter interface {
	DeleteRemoteWAL(ctx context.Context, peer *Peer, walName string) error
}

// CleanupEngine is the Cleanup Engine (§4.5, component E): it records
// shipping progress and prunes WALs a source no longer needs, including the
// indefinite-retry remote delete a sync-replication peer requires before its
// local bookkeeping can be dropped.
type CleanupEngine struct {
	thisNode    string
	registry    *Registry
	storage     QueueStorage
	node        HostNode
	remote      RemoteWALDeleter
	peers       PeerRegistry
	sleepBase   time.Duration
	maxMultiple int
	logger      *zap.Logger
	metrics     MetricsSink
}

// CleanupEngineOptions configures NewCleanupEngine. SleepForRetries and
// MaxRetriesMultiplier correspond to replication.source.sync.sleepforretries
// and replication.source.sync.maxretriesmultiplier.
type CleanupEngineOptions struct {
	SleepForRetries      time.Duration
	MaxRetriesMultiplier int
	Remote               RemoteWALDeleter
	Logger               *zap.Logger
	// Metrics receives pruned-WAL counts and remote-delete retry counts.
	// Nil is valid and disables reporting.
	Metrics MetricsSink
}

// NewCleanupEngine builds a CleanupEngine wired to the shared registry and
// durable storage.
func NewCleanupEngine(thisNode string, registry *Registry, storage QueueStorage, node HostNode, peers PeerRegistry, opts CleanupEngineOptions) *CleanupEngine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleepBase := opts.SleepForRetries
	if sleepBase <= 0 {
		sleepBase = time.Second
	}
	maxMultiple := opts.MaxRetriesMultiplier
	if maxMultiple <= 0 {
		maxMultiple = 60
	}
	return &CleanupEngine{
		thisNode:    thisNode,
		registry:    registry,
		storage:     storage,
		node:        node,
		remote:      opts.Remote,
		peers:       peers,
		sleepBase:   sleepBase,
		maxMultiple: maxMultiple,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// LogPositionAndCleanOldLogs records shipping progress for src and then
// prunes everything it no longer needs (§4.5). If the position write fails
// because src was concurrently terminated, it returns ErrCancelled so the
// shipper loop can unwind cleanly instead of tearing down the node.
func (c *CleanupEngine) LogPositionAndCleanOldLogs(ctx context.Context, src Source, batch Batch) error {
	err := c.storage.SetWALPosition(c.thisNode, src.QueueID(), batch.LastWalName, batch.LastPosition, batch.LastSeqIds)
	if err != nil {
		wrapped := fmt.Errorf("cleanup: setWALPosition for %s: %w", src.QueueID(), err)
		cancelledErr := fmt.Errorf("cleanup: setWALPosition for %s: %w", src.QueueID(), ErrCancelled)
		return handleStorageErr(c.node, PolicyAbortOrInterrupt, "failed to persist shipping position", wrapped, !src.IsActive(), cancelledErr)
	}
	return c.CleanOldLogs(ctx, batch.LastWalName, batch.IsEndOfFile, src)
}

// CleanOldLogs prunes every WAL name at or before log (strictly before, if
// !inclusive) under src's queue, from both the WAL Index and durable
// storage. Sync-replication peers additionally require their remote copies
// be deleted first.
func (c *CleanupEngine) CleanOldLogs(ctx context.Context, log string, inclusive bool, src Source) error {
	if src.IsRecovered() {
		names := c.registry.RecoveredIndex().HeadSet(src.QueueID(), log, inclusive)
		if len(names) == 0 {
			return nil
		}
		return c.prune(ctx, src, names, c.registry.RecoveredIndex())
	}

	names := c.registry.NormalIndex().HeadSet(src.QueueID(), log, inclusive)
	if len(names) == 0 {
		return nil
	}
	return c.prune(ctx, src, names, c.registry.NormalIndex())
}

func (c *CleanupEngine) prune(ctx context.Context, src Source, names []string, idx *WALIndex) error {
	if src.IsSyncReplication() {
		if err := c.deleteRemoteCopies(ctx, src, names); err != nil {
			return err
		}
	}

	for _, name := range names {
		if err := c.storage.RemoveWAL(c.thisNode, src.QueueID(), name); err != nil {
			wrapped := fmt.Errorf("cleanup: removeWAL %s/%s: %w", src.QueueID(), name, err)
			return handleStorageErr(c.node, PolicyAbortAndThrowIO, "failed to durably remove cleaned-up WAL", wrapped, false, nil)
		}
	}

	idx.RemoveNames(src.QueueID(), names)
	if c.metrics != nil {
		for range names {
			c.metrics.RecordWALPruned(src.IsRecovered())
		}
	}
	return nil
}

// deleteRemoteCopies deletes, on the sync-replication peer's remote
// filesystem, every name whose embedded peer id matches src's peer.
// "Not found" counts as success. Any other failure retries with a
// multiplicatively-increasing backoff capped at maxMultiple*sleepBase,
// indefinitely, as long as src stays active; it abandons cleanup the moment
// src goes inactive between retries (§4.5, §7 category 3).
func (c *CleanupEngine) deleteRemoteCopies(ctx context.Context, src Source, names []string) error {
	if c.remote == nil {
		return nil
	}
	peer, ok := c.peers.Get(src.PeerID())
	if !ok {
		return nil
	}

	for _, name := range names {
		if !strings.Contains(name, string(src.PeerID())) {
			continue
		}
		if err := c.deleteOne(ctx, src, peer, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *CleanupEngine) deleteOne(ctx context.Context, src Source, peer *Peer, name string) error {
	bo := &capMultiplierBackOff{base: c.sleepBase, max: c.maxMultiple, multiplier: 1}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if attempt > 1 && !src.IsActive() {
			c.logger.Info("abandoning remote WAL delete: source no longer active",
				zap.String("queue_id", string(src.QueueID())), zap.String("wal", name))
			return struct{}{}, nil
		}

		err := c.remote.DeleteRemoteWAL(ctx, peer, name)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return struct{}{}, nil
		}
		c.logger.Warn("remote WAL delete failed, retrying",
			zap.String("queue_id", string(src.QueueID())), zap.String("wal", name), zap.Error(err))
		if c.metrics != nil {
			c.metrics.RecordRemoteDeleteRetry(string(src.PeerID()))
		}
		return struct{}{}, handleStorageErr(c.node, PolicyThrowAsIO, "", err, false, nil)
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0))
	return err
}

// capMultiplierBackOff implements backoff.BackOff with the spec's exact
// shape: a fixed base sleep scaled by an integer multiplier that increments
// by one per failure up to max, rather than the library's default
// exponential curve.
type capMultiplierBackOff struct {
	base       time.Duration
	max        int
	multiplier int
}

func (b *capMultiplierBackOff) NextBackOff() time.Duration {
	d := b.base * time.Duration(b.multiplier)
	if b.multiplier < b.max {
		b.multiplier++
	}
	return d
}

func (b *capMultiplierBackOff) Reset() { b.multiplier = 1 }
