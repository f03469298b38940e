package peerregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waldrift/waldrift/internal/source"
)

func TestRegistry_AddIsNoopOnSecondCall(t *testing.T) {
	r := New()

	first, added, err := r.Add("peer-a", source.PeerConfig{Endpoint: "ep-1"})
	require.NoError(t, err)
	assert.True(t, added)

	second, added, err := r.Add("peer-a", source.PeerConfig{Endpoint: "ep-2"})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Same(t, first, second)
	assert.Equal(t, "ep-1", second.Config.Endpoint)
}

func TestRegistry_RemoveUnknownReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Remove("missing")
	assert.False(t, ok)
}

func TestRegistry_RemoveReturnsFinalConfig(t *testing.T) {
	r := New()
	_, _, err := r.Add("peer-a", source.PeerConfig{Endpoint: "ep-1", Enabled: true})
	require.NoError(t, err)

	cfg, ok := r.Remove("peer-a")
	require.True(t, ok)
	assert.Equal(t, "ep-1", cfg.Endpoint)
	assert.True(t, cfg.Enabled)

	_, ok = r.Get("peer-a")
	assert.False(t, ok)
}

func TestRegistry_List(t *testing.T) {
	r := New()
	_, _, _ = r.Add("peer-a", source.PeerConfig{})
	_, _, _ = r.Add("peer-b", source.PeerConfig{})

	peers := r.List()
	assert.Len(t, peers, 2)
}

func TestRegistry_ReplaceChangesPointerIdentity(t *testing.T) {
	r := New()
	original, _, err := r.Add("peer-a", source.PeerConfig{Mode: source.ModeAsync})
	require.NoError(t, err)

	replaced, ok := r.Replace("peer-a", source.PeerConfig{Mode: source.ModeSync})
	require.True(t, ok)
	assert.NotSame(t, original, replaced)
	assert.Equal(t, source.ModeSync, replaced.Config.Mode)

	current, ok := r.Get("peer-a")
	require.True(t, ok)
	assert.Same(t, replaced, current)
}

func TestRegistry_ReplaceUnknownReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Replace("missing", source.PeerConfig{})
	assert.False(t, ok)
}
