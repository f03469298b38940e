package source

// FailurePolicy selects how a storage-mutation failure is handled, one of
// the four named in spec.md §7: each call site picks the policy matching
// who is positioned to recover from the failure.
type FailurePolicy int

const (
	// PolicyAbortOnFail fatally aborts the node; the caller does not
	// propagate the error further (it runs inside a goroutine with no
	// caller waiting on a return value, e.g. the failover claimer).
	PolicyAbortOnFail FailurePolicy = iota
	// PolicyAbortOrInterrupt aborts the node unless the failure was caused
	// by a concurrently-terminated source, in which case it returns a
	// cancellation error instead of aborting (§7 category 2).
	PolicyAbortOrInterrupt
	// PolicyThrowAsIO wraps and returns the error without aborting the
	// node; used where the caller retries or otherwise recovers (§7
	// category 3).
	PolicyThrowAsIO
	// PolicyAbortAndThrowIO aborts the node and returns the wrapped error
	// to a caller that propagates it further (§7 category 1).
	PolicyAbortAndThrowIO
)

// handleStorageErr applies policy to a storage-mutation failure: decide
// whether to invoke the host's fatal-abort hook, and return what the call
// site should hand back to its own caller. cancelled and cancelledErr are
// only consulted under PolicyAbortOrInterrupt; pass false/nil otherwise.
func handleStorageErr(node HostNode, policy FailurePolicy, reason string, err error, cancelled bool, cancelledErr error) error {
	if policy == PolicyAbortOrInterrupt && cancelled {
		return cancelledErr
	}
	if policy == PolicyThrowAsIO {
		return err
	}
	node.Abort(reason, err)
	return err
}
