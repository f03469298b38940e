package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFailoverClaimer(t *testing.T, opts FailoverClaimerOptions) (*FailoverClaimer, *Registry, *memStorage, *memPeerRegistry) {
	t.Helper()
	reg, storage, node := newTestRegistry(t)
	peers := newMemPeerRegistry()
	factory := func(peer *Peer, queue QueueID, recovered bool) Source {
		return NewDefaultSource(peer.ID, queue, recovered, shipperOptions{})
	}
	if opts.SleepBeforeFailover <= 0 {
		opts.SleepBeforeFailover = time.Millisecond
	}
	claimer := NewFailoverClaimer("node-1", peers, reg, storage, node, factory, opts)
	return claimer, reg, storage, peers
}

func waitForIdle(t *testing.T, c *FailoverClaimer) {
	t.Helper()
	require.Eventually(t, func() bool { return c.ActiveFailoverTaskCount() == 0 }, time.Second, time.Millisecond)
}

func TestFailoverClaimer_ClaimQueueInstallsRecoveredSource(t *testing.T) {
	claimer, reg, storage, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{})
	peers.Add("peer-a", PeerConfig{Enabled: true})
	require.NoError(t, storage.AddWAL("dead-node", "peer-a", "wal.1"))

	claimer.ClaimQueue("dead-node", "peer-a")
	waitForIdle(t, claimer)

	assert.Len(t, reg.GetOldSources(), 1)
}

func TestFailoverClaimer_ClaimQueueDropsWhenPeerGone(t *testing.T) {
	claimer, reg, storage, _ := newTestFailoverClaimer(t, FailoverClaimerOptions{})
	require.NoError(t, storage.AddWAL("dead-node", "ghost-peer", "wal.1"))

	claimer.ClaimQueue("dead-node", "ghost-peer")
	waitForIdle(t, claimer)

	assert.Empty(t, reg.GetOldSources())
	assert.NotEmpty(t, storage.queuesFor("dead-node", "ghost-peer"))
}

func TestFailoverClaimer_ClaimQueueNoOpWhenNothingToInherit(t *testing.T) {
	claimer, reg, _, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{})
	peers.Add("peer-a", PeerConfig{Enabled: true})

	claimer.ClaimQueue("dead-node", "peer-a")
	waitForIdle(t, claimer)

	assert.Empty(t, reg.GetOldSources())
}

func TestFailoverClaimer_SyncUpHostSkipsDisabledPeer(t *testing.T) {
	claimer, reg, storage, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{SyncUpHost: true})
	peers.Add("peer-a", PeerConfig{Enabled: false})
	require.NoError(t, storage.AddWAL("dead-node", "peer-a", "wal.1"))

	claimer.ClaimQueue("dead-node", "peer-a")
	waitForIdle(t, claimer)

	assert.Empty(t, reg.GetOldSources())
	assert.Empty(t, storage.queuesFor("node-1", "peer-a"))
}

func TestFailoverClaimer_AbandonsClaimOnStandbyTransition(t *testing.T) {
	claimer, reg, storage, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{})
	peers.Add("peer-a", PeerConfig{Enabled: true, Mode: ModeSync, SyncState: SyncStateStandby})
	require.NoError(t, storage.AddWAL("dead-node", "peer-a", "wal.1"))

	claimer.ClaimQueue("dead-node", "peer-a")
	waitForIdle(t, claimer)

	assert.Empty(t, reg.GetOldSources())
}

func TestFailoverClaimer_ActiveTaskCountTracksInFlightClaims(t *testing.T) {
	claimer, _, storage, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{SleepBeforeFailover: 50 * time.Millisecond, Workers: 2})
	peers.Add("peer-a", PeerConfig{Enabled: true})
	require.NoError(t, storage.AddWAL("dead-node", "peer-a", "wal.1"))

	claimer.ClaimQueue("dead-node", "peer-a")
	assert.Equal(t, int64(1), claimer.ActiveFailoverTaskCount())
	waitForIdle(t, claimer)
}

func TestFailoverClaimer_NextAuditIDIsMonotonicallyIncreasing(t *testing.T) {
	claimer, _, _, _ := newTestFailoverClaimer(t, FailoverClaimerOptions{})
	first := claimer.NextAuditID()
	second := claimer.NextAuditID()
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestFailoverClaimer_RecordsClaimedOutcome(t *testing.T) {
	metrics := newFakeMetricsSink()
	claimer, _, storage, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{Metrics: metrics})
	peers.Add("peer-a", PeerConfig{Enabled: true})
	require.NoError(t, storage.AddWAL("dead-node", "peer-a", "wal.1"))

	claimer.ClaimQueue("dead-node", "peer-a")
	waitForIdle(t, claimer)

	assert.Equal(t, 1, metrics.claimOutcomeCount("claimed"))
	assert.Equal(t, int64(0), metrics.tasksActive)
}

func TestFailoverClaimer_RecordsDroppedOutcomeWhenPeerGone(t *testing.T) {
	metrics := newFakeMetricsSink()
	claimer, _, storage, _ := newTestFailoverClaimer(t, FailoverClaimerOptions{Metrics: metrics})
	require.NoError(t, storage.AddWAL("dead-node", "ghost-peer", "wal.1"))

	claimer.ClaimQueue("dead-node", "ghost-peer")
	waitForIdle(t, claimer)

	assert.Equal(t, 1, metrics.claimOutcomeCount("dropped"))
}

func TestFailoverClaimer_RecordsAbandonedOutcomeOnStandbyTransition(t *testing.T) {
	metrics := newFakeMetricsSink()
	claimer, _, storage, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{Metrics: metrics})
	peers.Add("peer-a", PeerConfig{Enabled: true, Mode: ModeSync, SyncState: SyncStateStandby})
	require.NoError(t, storage.AddWAL("dead-node", "peer-a", "wal.1"))

	claimer.ClaimQueue("dead-node", "peer-a")
	waitForIdle(t, claimer)

	assert.Equal(t, 1, metrics.claimOutcomeCount("abandoned"))
}

func TestFailoverClaimer_ShutdownWaitsForInFlightClaims(t *testing.T) {
	claimer, _, storage, peers := newTestFailoverClaimer(t, FailoverClaimerOptions{})
	peers.Add("peer-a", PeerConfig{Enabled: true})
	require.NoError(t, storage.AddWAL("dead-node", "peer-a", "wal.1"))

	claimer.ClaimQueue("dead-node", "peer-a")
	claimer.Shutdown()

	assert.Equal(t, int64(0), claimer.ActiveFailoverTaskCount())
}
