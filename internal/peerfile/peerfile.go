// Package peerfile loads and saves the YAML file listing configured peers,
// the persisted source of truth the addpeer/removepeer CLI subcommands edit
// and the daemon reads at startup (internal/config's ReplicationConfig.PeersFile).
package peerfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/waldrift/waldrift/internal/source"
)

// Entry is one peer's on-disk representation.
type Entry struct {
	ID           string `yaml:"id"`
	Endpoint     string `yaml:"endpoint"`
	Enabled      bool   `yaml:"enabled"`
	Mode         string `yaml:"mode"` // "async" or "sync"
	RemoteWALDir string `yaml:"remote_wal_dir,omitempty"`
}

// file is the root document shape.
type file struct {
	Peers []Entry `yaml:"peers"`
}

// Load reads path and returns its peers in file order, alongside each
// peer's config. A missing file is treated as an empty peer set so a fresh
// deployment can start without one.
func Load(path string) ([]source.PeerID, map[source.PeerID]source.PeerConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, map[source.PeerID]source.PeerConfig{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("peerfile: read %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("peerfile: parse %s: %w", path, err)
	}

	order := make([]source.PeerID, 0, len(f.Peers))
	peers := make(map[source.PeerID]source.PeerConfig, len(f.Peers))
	for _, e := range f.Peers {
		id := source.PeerID(e.ID)
		mode := source.ModeAsync
		if e.Mode == string(source.ModeSync) {
			mode = source.ModeSync
		}
		order = append(order, id)
		peers[id] = source.PeerConfig{
			Endpoint:     e.Endpoint,
			Enabled:      e.Enabled,
			Mode:         mode,
			RemoteWALDir: e.RemoteWALDir,
		}
	}
	return order, peers, nil
}

// Save writes order/peers back to path, overwriting it.
func Save(path string, order []source.PeerID, peers map[source.PeerID]source.PeerConfig) error {
	f := file{Peers: make([]Entry, 0, len(order))}
	for _, id := range order {
		cfg, ok := peers[id]
		if !ok {
			continue
		}
		f.Peers = append(f.Peers, Entry{
			ID:           string(id),
			Endpoint:     cfg.Endpoint,
			Enabled:      cfg.Enabled,
			Mode:         string(cfg.Mode),
			RemoteWALDir: cfg.RemoteWALDir,
		})
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("peerfile: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("peerfile: write %s: %w", path, err)
	}
	return nil
}
