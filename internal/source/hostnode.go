package source

import (
	"sync"
)

// HostNode is the host node object the manager is embedded in (§1): it
// names the server, signals cooperative shutdown, and provides the fatal
// abort hook storage-failure handling escalates to (§7, §9 design note:
// "fatal abort the whole node on storage failure" is not exception-driven
// control flow, it is the intentional failure-containment policy).
type HostNode interface {
	// ServerName identifies this node, e.g. for QueueStorage's node key.
	ServerName() string
	// Stopping is closed once the node begins shutting down.
	Stopping() <-chan struct{}
	// Abort fatally aborts the node. reason is a human-readable summary;
	// cause is the triggering error, if any.
	Abort(reason string, cause error)
}

// SimpleHostNode is a minimal HostNode for production wiring and tests: it
// records the last abort (tests assert on it) instead of calling os.Exit,
// because killing the test process would defeat the purpose of testing the
// abort path.
type SimpleHostNode struct {
	name string

	mu       sync.Mutex
	stopCh   chan struct{}
	stopped  bool
	aborted  bool
	abortMsg string
	abortErr error

	// OnAbort, if set, is invoked synchronously from Abort after recording
	// the abort. cmd/waldrift sets it to log the abort and flag it in
	// metrics; because Abort also closes Stopping(), the daemon then shuts
	// down and exits with an error.
	OnAbort func(reason string, cause error)
}

// NewSimpleHostNode creates a HostNode identified by name.
func NewSimpleHostNode(name string) *SimpleHostNode {
	return &SimpleHostNode{name: name, stopCh: make(chan struct{})}
}

func (n *SimpleHostNode) ServerName() string { return n.name }

func (n *SimpleHostNode) Stopping() <-chan struct{} { return n.stopCh }

// Stop signals cooperative shutdown. Idempotent.
func (n *SimpleHostNode) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	n.stopped = true
	close(n.stopCh)
}

func (n *SimpleHostNode) Abort(reason string, cause error) {
	n.mu.Lock()
	n.aborted = true
	n.abortMsg = reason
	n.abortErr = cause
	onAbort := n.OnAbort
	n.mu.Unlock()

	n.Stop()
	if onAbort != nil {
		onAbort(reason, cause)
	}
}

// Aborted reports whether Abort has been called, and with what.
func (n *SimpleHostNode) Aborted() (bool, string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aborted, n.abortMsg, n.abortErr
}
