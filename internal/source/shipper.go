package source

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ShipFunc ships one WAL reference for a queue and reports the batch that
// resulted. It is the pluggable seam where a real wire protocol would live;
// this package never implements one (§1 Non-goals). The default used in
// production wiring (noopShip) reads nothing: it reports each WAL as shipped
// to end of file at position 0, which is enough to exercise the whole
// manager around it.
type ShipFunc func(ctx context.Context, peer PeerID, queue QueueID, ref WALRef) (Batch, error)

// BatchFunc is invoked after every batch a shipper finishes, standing in for
// Manager.LogPositionAndCleanOldLogs (§4.5). A non-nil error that wraps
// ErrCancelled is expected whenever the source was terminated mid-flight and
// must not be treated as a shipping failure.
type BatchFunc func(src Source, batch Batch) error

// shipperOptions configures a DefaultSource.
type shipperOptions struct {
	Ship            ShipFunc
	OnBatch         BatchFunc
	SyncReplication bool
	Logger          *zap.Logger
	// Metrics receives per-ship-attempt outcomes. Nil is valid and
	// disables reporting.
	Metrics MetricsSink
}

// DefaultSource is the package's own minimal Source implementation: a
// single-worker loop draining an enqueue channel, grounded on the teacher's
// pushToFollower/pullFromLeader batching loops (manager.go) but generalized
// to the peer/queue/WAL-ref vocabulary of this spec.
type DefaultSource struct {
	peerID    PeerID
	queueID   QueueID
	recovered bool
	sync      bool
	ship      ShipFunc
	onBatch   BatchFunc
	logger    *zap.Logger
	metrics   MetricsSink

	queue  chan WALRef
	stopCh chan struct{}
	active atomic.Bool
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// NewDefaultSource creates a Source for peer/queue. recovered distinguishes
// a transient recovered source from the single permanent normal source.
func NewDefaultSource(peer PeerID, queue QueueID, recovered bool, opts shipperOptions) *DefaultSource {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ship := opts.Ship
	if ship == nil {
		ship = noopShip
	}
	return &DefaultSource{
		peerID:    peer,
		queueID:   queue,
		recovered: recovered,
		sync:      opts.SyncReplication,
		ship:      ship,
		onBatch:   opts.OnBatch,
		logger:    logger,
		metrics:   opts.Metrics,
		queue:     make(chan WALRef, 4096),
		stopCh:    make(chan struct{}),
		stats:     Stats{PeerID: peer, QueueID: queue, Recovered: recovered},
	}
}

func noopShip(_ context.Context, _ PeerID, _ QueueID, ref WALRef) (Batch, error) {
	return Batch{LastWalName: ref.Name, IsEndOfFile: true}, nil
}

func (s *DefaultSource) PeerID() PeerID  { return s.peerID }
func (s *DefaultSource) QueueID() QueueID { return s.queueID }
func (s *DefaultSource) Recovered() bool  { return s.recovered }
func (s *DefaultSource) IsRecovered() bool { return s.recovered }
func (s *DefaultSource) IsSyncReplication() bool { return s.sync }

// Startup begins the background shipping loop.
func (s *DefaultSource) Startup() error {
	if !s.active.CompareAndSwap(false, true) {
		return nil
	}
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Terminate stops the shipping loop and waits for it to exit.
func (s *DefaultSource) Terminate(reason string, cause error, clearMetrics bool) {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("source terminated",
		zap.String("peer_id", string(s.peerID)),
		zap.String("queue_id", string(s.queueID)),
		zap.String("reason", reason),
		zap.Error(cause),
	)

	if clearMetrics {
		s.mu.Lock()
		s.stats.EntriesShipped = 0
		s.stats.BytesShipped = 0
		s.mu.Unlock()
	}
}

// IsActive reports whether the shipping loop is still running.
func (s *DefaultSource) IsActive() bool { return s.active.Load() }

// EnqueueLog hands a WAL to the source. A full queue blocks the caller
// (preLogRoll/claimQueue are expected to keep up); a closed/terminated
// source drops the entry instead of blocking forever.
func (s *DefaultSource) EnqueueLog(ref WALRef) {
	select {
	case s.queue <- ref:
	case <-s.stopCh:
		s.logger.Warn("dropping enqueued WAL on terminated source",
			zap.String("queue_id", string(s.queueID)), zap.String("wal", ref.Name))
	}
}

// GetStats returns a snapshot of shipping progress.
func (s *DefaultSource) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Active = s.active.Load()
	return stats
}

func (s *DefaultSource) loop() {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.stopCh:
			return
		case ref := <-s.queue:
			s.shipOne(ctx, ref)
		}
	}
}

func (s *DefaultSource) shipOne(ctx context.Context, ref WALRef) {
	batch, err := s.ship(ctx, s.peerID, s.queueID, ref)
	if err != nil {
		s.mu.Lock()
		s.stats.LastError = err
		s.mu.Unlock()
		s.logger.Error("shipper failed to ship WAL",
			zap.String("queue_id", string(s.queueID)), zap.String("wal", ref.Name), zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordShip(string(s.peerID), false, 0, 0)
		}
		return
	}

	s.mu.Lock()
	s.stats.EntriesShipped++
	s.stats.BytesShipped += batch.LastPosition
	s.stats.AgeOfLastShip = 0
	s.stats.LastError = nil
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordShip(string(s.peerID), true, 1, batch.LastPosition)
	}

	if s.onBatch == nil {
		return
	}
	if err := s.onBatch(s, batch); err != nil {
		s.logger.Debug("batch callback returned error",
			zap.String("queue_id", string(s.queueID)), zap.Error(err))
	}
}
