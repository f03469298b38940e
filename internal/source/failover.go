package source

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FailoverClaimer is the Failover Claimer (§4.7, component G): it adopts the
// unfinished WAL queues of a node the cluster has declared dead, dispatching
// each (deadNode, queueName) pair to a small fixed worker pool.
type FailoverClaimer struct {
	thisNode  string
	peers     PeerRegistry
	registry  *Registry
	storage   QueueStorage
	node      HostNode
	newSource SourceFactory

	sleepBefore time.Duration
	workers     int

	group      *errgroup.Group
	ctx        context.Context
	cancel     context.CancelFunc
	active     atomic.Int64
	entropyMu  sync.Mutex
	entropy    *ulid.MonotonicEntropy
	logger     *zap.Logger
	syncUpHost bool
	metrics    MetricsSink
}

// FailoverClaimerOptions configures NewFailoverClaimer.
type FailoverClaimerOptions struct {
	// SleepBeforeFailover is replication.sleep.before.failover: the jitter
	// base, doubled to form the jitter window [base, 2*base).
	SleepBeforeFailover time.Duration
	// Workers is replication.executor.workers: the fixed pool size.
	Workers int
	// SyncUpHost marks this node as a sync-up utility host, which skips
	// claiming queues for DISABLED peers (§4.7 step 6).
	SyncUpHost bool
	Logger     *zap.Logger
	// Metrics receives failover claim outcomes and active-task counts.
	// Nil is valid and disables reporting.
	Metrics MetricsSink
}

// NewFailoverClaimer builds a FailoverClaimer wired to the shared peer and
// source registries.
func NewFailoverClaimer(thisNode string, peers PeerRegistry, registry *Registry, storage QueueStorage, node HostNode, factory SourceFactory, opts FailoverClaimerOptions) *FailoverClaimer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleepBefore := opts.SleepBeforeFailover
	if sleepBefore <= 0 {
		sleepBefore = 30 * time.Second
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

	return &FailoverClaimer{
		thisNode:    thisNode,
		peers:       peers,
		registry:    registry,
		storage:     storage,
		node:        node,
		newSource:   factory,
		sleepBefore: sleepBefore,
		workers:     workers,
		group:       group,
		ctx:         gctx,
		cancel:      cancel,
		entropy:     entropy,
		logger:      logger,
		syncUpHost:  opts.SyncUpHost,
		metrics:     opts.Metrics,
	}
}

// ClaimQueue submits a (deadNode, queueName) pair to the worker pool (§4.7).
// It blocks while every pool worker is busy and returns once the task is
// accepted; the claim procedure itself runs asynchronously.
func (c *FailoverClaimer) ClaimQueue(deadNode, queueName string) {
	c.active.Add(1)
	c.reportActive()
	c.group.Go(func() error {
		defer func() {
			c.active.Add(-1)
			c.reportActive()
		}()
		c.claim(deadNode, QueueID(queueName))
		return nil
	})
}

func (c *FailoverClaimer) reportActive() {
	if c.metrics != nil {
		c.metrics.SetFailoverTasksActive(c.active.Load())
	}
}

func (c *FailoverClaimer) recordOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordFailoverClaim(outcome)
	}
}

// ActiveFailoverTaskCount returns the number of in-flight claim tasks.
func (c *FailoverClaimer) ActiveFailoverTaskCount() int64 { return c.active.Load() }

func (c *FailoverClaimer) claim(deadNode string, queueName QueueID) {
	// Step 1: jittered sleep in [sleepBefore, 2*sleepBefore) to smear
	// thundering herds; abort early if the node is stopping.
	jitter := c.sleepBefore + time.Duration(rand.Int63n(int64(c.sleepBefore)))
	select {
	case <-time.After(jitter):
	case <-c.node.Stopping():
		return
	case <-c.ctx.Done():
		return
	}

	// Step 2: parse peerId from queueName; drop if the peer no longer exists.
	peerID := PeerIDFromQueueID(queueName)
	peer, ok := c.peers.Get(peerID)
	if !ok {
		c.logger.Debug("failover: peer no longer exists, dropping claim",
			zap.String("peer_id", string(peerID)), zap.String("queue", string(queueName)))
		c.recordOutcome("dropped")
		return
	}

	// Step 3: atomically transfer ownership.
	newQueueID, wals, err := c.storage.ClaimQueue(deadNode, queueName, c.thisNode)
	if err != nil {
		wrapped := fmt.Errorf("failover: claimQueue %s/%s -> %s: %w", deadNode, queueName, c.thisNode, err)
		_ = handleStorageErr(c.node, PolicyAbortOnFail, "failover claim violated exclusive-ownership assumption", wrapped, false, nil)
		return
	}

	// Step 4: nothing to inherit.
	if len(wals) == 0 {
		return
	}

	// Step 5: re-check peer identity — must still exist and be the same
	// instance seen in step 2.
	current, stillExists := c.peers.Get(peerID)
	if !stillExists || current != peer {
		if err := c.storage.RemoveQueue(c.thisNode, newQueueID); err != nil {
			_ = handleStorageErr(c.node, PolicyAbortOnFail, "failed to remove orphaned claim after peer identity race", err, false, nil)
		}
		c.recordOutcome("abandoned")
		return
	}

	// Step 6: sync-up utility hosts skip DISABLED peers.
	if c.syncUpHost && !peer.Config.Enabled {
		if err := c.storage.RemoveQueue(c.thisNode, newQueueID); err != nil {
			_ = handleStorageErr(c.node, PolicyAbortOnFail, "failed to remove skipped claim on sync-up host", err, false, nil)
		}
		c.recordOutcome("dropped")
		return
	}

	// Step 7: create the recovered source.
	src := c.newSource(peer, newQueueID, true)

	// Step 8: final re-check under the recovered-sources lock.
	c.registry.LockRecovered()
	defer c.registry.UnlockRecovered()

	finalPeer, stillExists := c.peers.Get(peerID)
	if !stillExists || finalPeer != peer {
		if err := c.storage.RemoveQueue(c.thisNode, newQueueID); err != nil {
			_ = handleStorageErr(c.node, PolicyAbortOnFail, "failed to remove orphaned claim after second identity race", err, false, nil)
		}
		c.recordOutcome("abandoned")
		return
	}
	if peer.Config.Mode == ModeSync && isStandbyTransition(peer.Config.SyncState) {
		src.Terminate("peer transitioned to standby during claim", nil, true)
		if err := c.storage.RemoveQueue(c.thisNode, newQueueID); err != nil {
			_ = handleStorageErr(c.node, PolicyAbortOnFail, "failed to remove claim abandoned for standby transition", err, false, nil)
		}
		c.recordOutcome("abandoned")
		return
	}

	for _, name := range wals {
		c.registry.RecoveredIndex().Add(newQueueID, name)
	}
	c.registry.AppendRecoveredLocked(src)
	for _, name := range wals {
		src.EnqueueLog(WALRef{Name: name})
	}
	if err := src.Startup(); err != nil {
		c.logger.Error("failover: recovered source failed to start",
			zap.String("queue_id", string(newQueueID)), zap.Error(err))
	}
	c.recordOutcome("claimed")
}

// isStandbyTransition reports whether state is STANDBY or transitioning to
// it, excluding the STANDBY->DOWNGRADE_ACTIVE path (§4.7 step 8).
func isStandbyTransition(state SyncState) bool {
	return state == SyncStateStandby || state == SyncStateTransitioningToSBY
}

// NextAuditID mints a monotonic id suitable for correlating failover claim
// events in logs (no audit persistence is implemented, §1 Non-goals; this is
// purely a log-correlation aid).
func (c *FailoverClaimer) NextAuditID() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), c.entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

// Shutdown stops accepting new claims and waits for in-flight ones to finish.
func (c *FailoverClaimer) Shutdown() {
	c.cancel()
	_ = c.group.Wait()
}
