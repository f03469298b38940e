// Package metrics provides Prometheus metrics for waldrift.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all waldrift metrics.
type Metrics struct {
	// Buffer quota
	BufferUsedBytes  prometheus.Gauge
	BufferLimitBytes prometheus.Gauge

	// Source Registry
	SourcesActive     *prometheus.GaugeVec
	QueuesPerPeer     *prometheus.GaugeVec
	WALsPendingByPeer *prometheus.GaugeVec

	// Shipping
	EntriesShippedTotal *prometheus.CounterVec
	BytesShippedTotal   *prometheus.CounterVec
	ShipErrorsTotal     *prometheus.CounterVec

	// Cleanup Engine
	WALsPrunedTotal          *prometheus.CounterVec
	RemoteDeleteRetriesTotal *prometheus.CounterVec

	// Failover Claimer
	FailoverClaimsTotal *prometheus.CounterVec
	FailoverTasksActive prometheus.Gauge

	// Peer Lifecycle Controller
	PeersRegistered   prometheus.Gauge
	SyncReplicaPeers  prometheus.Gauge

	// Node health
	NodeAborted prometheus.Gauge
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "waldrift"
	}

	return &Metrics{
		BufferUsedBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffer_used_bytes",
				Help:      "Current bytes held by the shared buffer quota across all in-flight sources",
			},
		),
		BufferLimitBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffer_limit_bytes",
				Help:      "Configured ceiling of the shared buffer quota",
			},
		),

		SourcesActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sources_active",
				Help:      "Number of active shipping sources",
			},
			[]string{"recovered"},
		),
		QueuesPerPeer: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queues_per_peer",
				Help:      "Number of durable queues tracked per peer",
			},
			[]string{"peer_id"},
		),
		WALsPendingByPeer: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "wals_pending_by_peer",
				Help:      "Number of WALs awaiting shipment per peer",
			},
			[]string{"peer_id"},
		),

		EntriesShippedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_shipped_total",
				Help:      "Total WAL batches shipped to peers",
			},
			[]string{"peer_id"},
		),
		BytesShippedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_shipped_total",
				Help:      "Total bytes shipped to peers",
			},
			[]string{"peer_id"},
		),
		ShipErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ship_errors_total",
				Help:      "Total shipping failures",
			},
			[]string{"peer_id"},
		),

		WALsPrunedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wals_pruned_total",
				Help:      "Total WALs pruned from durable storage once shipped",
			},
			[]string{"queue_type"}, // normal, recovered
		),
		RemoteDeleteRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_delete_retries_total",
				Help:      "Total retries attempting to delete a WAL's remote sync-replication copy",
			},
			[]string{"peer_id"},
		),

		FailoverClaimsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failover_claims_total",
				Help:      "Total failover claim outcomes",
			},
			[]string{"outcome"}, // claimed, dropped, abandoned
		),
		FailoverTasksActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failover_tasks_active",
				Help:      "Number of in-flight failover claim tasks",
			},
		),

		PeersRegistered: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "peers_registered",
				Help:      "Total number of registered replication peers",
			},
		),
		SyncReplicaPeers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_replica_peers",
				Help:      "Number of peers currently in sync-replication mode",
			},
		),

		NodeAborted: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "node_aborted",
				Help:      "1 if this node has fatally aborted, 0 otherwise",
			},
		),
	}
}

// defaultMetrics is the lazily created instance Default returns.
var defaultMetrics *Metrics

// Default returns the default metrics instance, creating it if needed.
func Default() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = New("waldrift")
	}
	return defaultMetrics
}

// SetBufferUsage records the current and limit values of the shared buffer
// quota; wired to BufferQuota's publish callback.
func (m *Metrics) SetBufferUsage(used, limit int64) {
	m.BufferUsedBytes.Set(float64(used))
	m.BufferLimitBytes.Set(float64(limit))
}

// SetSourcesActive records the number of active sources, split by whether
// they are recovered or normal.
func (m *Metrics) SetSourcesActive(normal, recovered int) {
	m.SourcesActive.WithLabelValues("false").Set(float64(normal))
	m.SourcesActive.WithLabelValues("true").Set(float64(recovered))
}

// SetQueueDepth records the number of durable queues and pending WALs tracked
// for peerID.
func (m *Metrics) SetQueueDepth(peerID string, queues, pendingWALs int) {
	m.QueuesPerPeer.WithLabelValues(peerID).Set(float64(queues))
	m.WALsPendingByPeer.WithLabelValues(peerID).Set(float64(pendingWALs))
}

// RecordShip records the outcome of one shipping attempt.
func (m *Metrics) RecordShip(peerID string, success bool, entries, bytes int64) {
	if !success {
		m.ShipErrorsTotal.WithLabelValues(peerID).Inc()
		return
	}
	m.EntriesShippedTotal.WithLabelValues(peerID).Add(float64(entries))
	m.BytesShippedTotal.WithLabelValues(peerID).Add(float64(bytes))
}

// RecordWALPruned records one WAL pruned from durable storage.
func (m *Metrics) RecordWALPruned(recovered bool) {
	queueType := "normal"
	if recovered {
		queueType = "recovered"
	}
	m.WALsPrunedTotal.WithLabelValues(queueType).Inc()
}

// RecordRemoteDeleteRetry records one retry of a sync-replication remote
// WAL delete for peerID.
func (m *Metrics) RecordRemoteDeleteRetry(peerID string) {
	m.RemoteDeleteRetriesTotal.WithLabelValues(peerID).Inc()
}

// RecordFailoverClaim records the outcome of a failover claim attempt.
func (m *Metrics) RecordFailoverClaim(outcome string) {
	m.FailoverClaimsTotal.WithLabelValues(outcome).Inc()
}

// SetFailoverTasksActive records the number of in-flight failover claims.
func (m *Metrics) SetFailoverTasksActive(count int64) {
	m.FailoverTasksActive.Set(float64(count))
}

// SetPeersRegistered records the number of registered peers and how many of
// them are in sync-replication mode.
func (m *Metrics) SetPeersRegistered(total, syncReplicas int) {
	m.PeersRegistered.Set(float64(total))
	m.SyncReplicaPeers.Set(float64(syncReplicas))
}

// SetNodeAborted records whether this node has fatally aborted.
func (m *Metrics) SetNodeAborted(aborted bool) {
	if aborted {
		m.NodeAborted.Set(1)
	} else {
		m.NodeAborted.Set(0)
	}
}
