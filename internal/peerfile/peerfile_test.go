package peerfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waldrift/waldrift/internal/source"
)

func TestLoad_MissingFileReturnsEmptySet(t *testing.T) {
	order, peers, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, order)
	assert.Empty(t, peers)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")

	order := []source.PeerID{"peer-a", "peer-b"}
	peers := map[source.PeerID]source.PeerConfig{
		"peer-a": {Endpoint: "ep-a", Enabled: true, Mode: source.ModeAsync},
		"peer-b": {Endpoint: "ep-b", Enabled: false, Mode: source.ModeSync, RemoteWALDir: "/remote/b"},
	}

	require.NoError(t, Save(path, order, peers))

	gotOrder, gotPeers, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, order, gotOrder)
	assert.Equal(t, peers, gotPeers)
}

func TestLoad_DefaultsUnknownModeToAsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	require.NoError(t, Save(path, []source.PeerID{"peer-a"}, map[source.PeerID]source.PeerConfig{
		"peer-a": {Endpoint: "ep-a", Enabled: true},
	}))

	_, peers, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, source.ModeAsync, peers["peer-a"].Mode)
}
