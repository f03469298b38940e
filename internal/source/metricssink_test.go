package source

import "sync"

// fakeMetricsSink records every call made through MetricsSink for test
// assertions, grounded on the same record-and-assert shape as SimpleHostNode.
type fakeMetricsSink struct {
	mu sync.Mutex

	shipCalls []struct {
		peerID         string
		success        bool
		entries, bytes int64
	}
	sourcesActive struct{ normal, recovered int }
	queueDepth    map[string]struct{ queues, pendingWALs int }
	walsPruned    []bool
	remoteRetries []string
	claimOutcomes []string
	tasksActive   int64
	peersReg      struct{ total, sync int }
}

func newFakeMetricsSink() *fakeMetricsSink {
	return &fakeMetricsSink{queueDepth: make(map[string]struct{ queues, pendingWALs int })}
}

func (f *fakeMetricsSink) RecordShip(peerID string, success bool, entries, bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipCalls = append(f.shipCalls, struct {
		peerID         string
		success        bool
		entries, bytes int64
	}{peerID, success, entries, bytes})
}

func (f *fakeMetricsSink) SetSourcesActive(normal, recovered int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourcesActive.normal = normal
	f.sourcesActive.recovered = recovered
}

func (f *fakeMetricsSink) SetQueueDepth(peerID string, queues, pendingWALs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueDepth[peerID] = struct{ queues, pendingWALs int }{queues, pendingWALs}
}

func (f *fakeMetricsSink) RecordWALPruned(recovered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.walsPruned = append(f.walsPruned, recovered)
}

func (f *fakeMetricsSink) RecordRemoteDeleteRetry(peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteRetries = append(f.remoteRetries, peerID)
}

func (f *fakeMetricsSink) RecordFailoverClaim(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimOutcomes = append(f.claimOutcomes, outcome)
}

func (f *fakeMetricsSink) SetFailoverTasksActive(count int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasksActive = count
}

func (f *fakeMetricsSink) SetPeersRegistered(total, syncReplicas int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peersReg.total = total
	f.peersReg.sync = syncReplicas
}

func (f *fakeMetricsSink) claimOutcomeCount(outcome string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.claimOutcomes {
		if o == outcome {
			n++
		}
	}
	return n
}
