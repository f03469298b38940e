package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleStorageErr_AbortOnFail_AbortsAndReturnsErr(t *testing.T) {
	node := NewSimpleHostNode("node-1")
	cause := errors.New("boom")

	got := handleStorageErr(node, PolicyAbortOnFail, "reason", cause, false, nil)

	aborted, reason, abortErr := node.Aborted()
	assert.True(t, aborted)
	assert.Equal(t, "reason", reason)
	assert.Equal(t, cause, abortErr)
	assert.Equal(t, cause, got)
}

func TestHandleStorageErr_AbortAndThrowIO_AbortsAndReturnsErr(t *testing.T) {
	node := NewSimpleHostNode("node-1")
	cause := errors.New("boom")

	got := handleStorageErr(node, PolicyAbortAndThrowIO, "reason", cause, false, nil)

	aborted, _, _ := node.Aborted()
	assert.True(t, aborted)
	assert.Equal(t, cause, got)
}

func TestHandleStorageErr_ThrowAsIO_NeverAborts(t *testing.T) {
	node := NewSimpleHostNode("node-1")
	cause := errors.New("boom")

	got := handleStorageErr(node, PolicyThrowAsIO, "reason", cause, false, nil)

	aborted, _, _ := node.Aborted()
	assert.False(t, aborted)
	assert.Equal(t, cause, got)
}

func TestHandleStorageErr_AbortOrInterrupt_AbortsWhenNotCancelled(t *testing.T) {
	node := NewSimpleHostNode("node-1")
	cause := errors.New("boom")

	got := handleStorageErr(node, PolicyAbortOrInterrupt, "reason", cause, false, ErrCancelled)

	aborted, _, _ := node.Aborted()
	assert.True(t, aborted)
	assert.Equal(t, cause, got)
}

func TestHandleStorageErr_AbortOrInterrupt_SkipsAbortWhenCancelled(t *testing.T) {
	node := NewSimpleHostNode("node-1")
	cause := errors.New("boom")

	got := handleStorageErr(node, PolicyAbortOrInterrupt, "reason", cause, true, ErrCancelled)

	aborted, _, _ := node.Aborted()
	assert.False(t, aborted)
	assert.Equal(t, ErrCancelled, got)
}
