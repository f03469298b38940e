package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waldrift/waldrift/internal/config"
	"github.com/waldrift/waldrift/internal/peerfile"
	"github.com/waldrift/waldrift/internal/source"
	"github.com/waldrift/waldrift/internal/source/queuestorage"
)

var (
	peerEndpoint     string
	peerMode         string
	peerRemoteWALDir string
	peerDisabled     bool
)

func init() {
	addPeerCmd.Flags().StringVar(&peerEndpoint, "endpoint", "", "shipper endpoint identity for this peer")
	addPeerCmd.Flags().StringVar(&peerMode, "mode", "async", "replication mode: async or sync")
	addPeerCmd.Flags().StringVar(&peerRemoteWALDir, "remote-wal-dir", "", "peer-side staging directory (sync mode only)")
	addPeerCmd.Flags().BoolVar(&peerDisabled, "disabled", false, "register the peer without enabling it")

	rootCmd.AddCommand(addPeerCmd, removePeerCmd, statsCmd)
}

var addPeerCmd = &cobra.Command{
	Use:   "addpeer <peer-id>",
	Short: "Add a peer to the persisted peers file",
	Long: `Registers a new peer in the peers file the daemon loads at startup.
Changes take effect the next time waldrift is restarted, since adding a peer
to a live node requires a running admin channel this package does not
implement (see SPEC_FULL.md's wire-protocol non-goal).`,
	Args: cobra.ExactArgs(1),
	RunE: runAddPeer,
}

var removePeerCmd = &cobra.Command{
	Use:   "removepeer <peer-id>",
	Short: "Remove a peer from the persisted peers file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemovePeer,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show durable queue depth for every peer this node owns",
	Long: `Opens the queue store directly and reports how many WALs are
durably queued per peer. This reflects persisted state, not a running
daemon's live shipping progress (getStats/getWALs are also available as
plain Go accessors on Manager for in-process callers).`,
	RunE: runStats,
}

func runAddPeer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	id := source.PeerID(args[0])
	mode := source.ModeAsync
	if peerMode == string(source.ModeSync) {
		mode = source.ModeSync
	}

	order, peers, err := peerfile.Load(cfg.Replication.PeersFile)
	if err != nil {
		return fmt.Errorf("failed to load peers file: %w", err)
	}
	if _, exists := peers[id]; !exists {
		order = append(order, id)
	}
	peers[id] = source.PeerConfig{
		Endpoint:     peerEndpoint,
		Enabled:      !peerDisabled,
		Mode:         mode,
		RemoteWALDir: peerRemoteWALDir,
	}

	if err := peerfile.Save(cfg.Replication.PeersFile, order, peers); err != nil {
		return fmt.Errorf("failed to save peers file: %w", err)
	}

	fmt.Printf("added peer %s (mode=%s enabled=%t)\n", id, mode, !peerDisabled)
	return nil
}

func runRemovePeer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	id := source.PeerID(args[0])
	order, peers, err := peerfile.Load(cfg.Replication.PeersFile)
	if err != nil {
		return fmt.Errorf("failed to load peers file: %w", err)
	}
	if _, ok := peers[id]; !ok {
		return fmt.Errorf("peer %s is not registered", id)
	}
	delete(peers, id)
	order = removePeerID(order, id)

	if err := peerfile.Save(cfg.Replication.PeersFile, order, peers); err != nil {
		return fmt.Errorf("failed to save peers file: %w", err)
	}

	fmt.Printf("removed peer %s\n", id)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := queuestorage.Open(queuestorage.Options{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return fmt.Errorf("failed to open queue storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	queues, err := store.GetAllQueues(cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("failed to read queues: %w", err)
	}

	if len(queues) == 0 {
		fmt.Printf("node %s: no durable queues\n", cfg.Node.ID)
		return nil
	}

	fmt.Printf("node %s\n", cfg.Node.ID)
	for queue, wals := range queues {
		fmt.Printf("  %-32s %d WAL(s)\n", queue, len(wals))
	}
	return nil
}

func removePeerID(order []source.PeerID, id source.PeerID) []source.PeerID {
	out := order[:0]
	for _, existing := range order {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
