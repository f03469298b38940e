package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogRollHandler(t *testing.T) (*LogRollHandler, *Registry, *memStorage) {
	t.Helper()
	reg, storage, node := newTestRegistry(t)
	handler := NewLogRollHandler("node-1", reg, reg.latestPath, reg.NormalIndex(), storage, node, nil)
	return handler, reg, storage
}

func TestLogRollHandler_PreLogRollSeedsLiveSources(t *testing.T) {
	handler, reg, storage := newTestLogRollHandler(t)
	peer := &Peer{ID: "peer-a"}
	_, err := reg.AddSource(peer)
	require.NoError(t, err)

	require.NoError(t, handler.PreLogRoll(WALRef{Name: "wal.100"}))

	assert.Contains(t, storage.queuesFor("node-1", "peer-a"), "wal.100")
	assert.Contains(t, reg.NormalIndex().All("peer-a"), "wal.100")
	assert.Equal(t, WALRef{Name: "wal.100"}, reg.latestPath.Snapshot()["wal"])
}

func TestLogRollHandler_PreLogRollClearsWhenRegistryEmpty(t *testing.T) {
	handler, reg, _ := newTestLogRollHandler(t)
	reg.NormalIndex().Add("stale-queue", "wal.1")

	require.NoError(t, handler.PreLogRoll(WALRef{Name: "wal.200"}))

	assert.True(t, reg.NormalIndex().IsEmpty("stale-queue"))
}

func TestLogRollHandler_PostLogRollEnqueuesLiveSourcesOnly(t *testing.T) {
	handler, reg, _ := newTestLogRollHandler(t)
	peer := &Peer{ID: "peer-a"}
	src, err := reg.AddSource(peer)
	require.NoError(t, err)

	handler.PostLogRoll(WALRef{Name: "wal.100"})

	ds := src.(*DefaultSource)
	select {
	case ref := <-ds.queue:
		assert.Equal(t, "wal.100", ref.Name)
	default:
		t.Fatal("expected wal.100 to be enqueued")
	}
}

func TestLogRollHandler_PreLogRollAbortsNodeOnStorageFailure(t *testing.T) {
	reg, storage, node := newTestRegistry(t)
	handler := NewLogRollHandler("node-1", reg, reg.latestPath, reg.NormalIndex(), storage, node, nil)
	peer := &Peer{ID: "peer-a"}
	_, err := reg.AddSource(peer)
	require.NoError(t, err)

	storage.failAddWAL = true
	err = handler.PreLogRoll(WALRef{Name: "wal.200"})
	require.Error(t, err)

	aborted, _, _ := node.Aborted()
	assert.True(t, aborted)
}
