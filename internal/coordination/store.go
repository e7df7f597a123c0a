// Package coordination abstracts the watchable key-value service that the
// orchestrator and the node agents share: last-write-wins values, revision
// ordered change watches, and ephemeral keys bound to the writer's liveness.
package coordination

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a key that does not exist.
var ErrNotFound = errors.New("key not found")

// EventType distinguishes writes from deletions.
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

func (t EventType) String() string {
	if t == EventDelete {
		return "DELETE"
	}
	return "PUT"
}

// Event is one change to a watched key.
type Event struct {
	Type     EventType
	Key      string
	Value    []byte
	Revision int64
}

// Lease keeps an ephemeral key alive. The key disappears when the lease is
// released or when its holder stops refreshing it.
type Lease interface {
	// Done is closed once the lease is lost or released.
	Done() <-chan struct{}
	// Release deletes the key and ends the lease.
	Release(ctx context.Context) error
}

// Store is the coordination service contract.
//
// Revisions are store-wide and strictly increasing. Watch and WatchPrefix
// deliver every change with a revision greater than afterRev, so a caller
// that arms a watch with the revision returned by its own Put cannot miss a
// reply written after it. afterRev 0 means "changes from now on".
// Watch channels are closed when ctx ends or the watch breaks.
type Store interface {
	Put(ctx context.Context, key string, value []byte) (int64, error)
	Get(ctx context.Context, key string) ([]byte, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	CreateEphemeral(ctx context.Context, key string, value []byte, ttl time.Duration) (Lease, error)
	Watch(ctx context.Context, key string, afterRev int64) <-chan Event
	WatchPrefix(ctx context.Context, prefix string, afterRev int64) <-chan Event
	// Done is closed once the store is closed; watches are not re-armed
	// after that.
	Done() <-chan struct{}
	Close() error
}
