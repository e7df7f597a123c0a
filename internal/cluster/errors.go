// Package cluster holds the pieces shared by the orchestrator and the node
// agents: the error taxonomy and the coordination key layout.
package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is returned for a malformed or unexpected control message.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout is returned when no acknowledgment arrived before the deadline.
	ErrTimeout = errors.New("timeout")

	// ErrNodeUnreachable is returned when a node is absent or refuses connections.
	ErrNodeUnreachable = errors.New("node unreachable")

	// ErrRingInconsistency is returned when an operation is invalid for the
	// current ring state, e.g. stop() on an empty ring.
	ErrRingInconsistency = errors.New("ring inconsistency")

	// ErrTransferFailure is returned when any step of a range handoff fails.
	ErrTransferFailure = errors.New("transfer failure")

	// ErrRejected is returned when a node answered a request with an error ack.
	ErrRejected = errors.New("request rejected")

	// ErrLocked is returned for writes against a node that is LOCKED.
	ErrLocked = errors.New("node locked")

	// ErrNotOwner is returned when a key is sent to a node that does not own it.
	ErrNotOwner = errors.New("key not owned by node")

	// ErrNotServing is returned for data requests to a node that is not RUNNING.
	ErrNotServing = errors.New("node not serving")
)

// NodeError ties a failure to the node and verb that produced it.
type NodeError struct {
	Node string
	Verb string
	Err  error
}

func (e *NodeError) Error() string {
	if e.Verb == "" {
		return fmt.Sprintf("node %s: %v", e.Node, e.Err)
	}
	return fmt.Sprintf("node %s: %s: %v", e.Node, e.Verb, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError wraps err with the node and verb it relates to.
func NewNodeError(node, verb string, err error) error {
	return &NodeError{Node: node, Verb: verb, Err: err}
}
