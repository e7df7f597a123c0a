// Package registry publishes and discovers node registrations: lease-bound
// keys under <prefix>/nodes that exist only while the node process is alive.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
)

// DefaultTTL is the registration lease TTL
const DefaultTTL = 10 * time.Second

const reregisterDelay = 2 * time.Second

// Info is the value of a registration key
type Info struct {
	Name            string    `json:"name"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	ReplicationAddr string    `json:"replication_addr,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}

// Address returns host:port
func (i Info) Address() string {
	return hashring.JoinHostPort(i.Host, i.Port)
}

// NodeRegistration keeps a node's registration key alive
type NodeRegistration struct {
	store  coordination.Store
	key    string
	info   Info
	ttl    time.Duration
	logger *logging.Logger

	mu       sync.Mutex
	lease    coordination.Lease
	released bool
}

// NewNodeRegistration creates a registration for info
func NewNodeRegistration(store coordination.Store, keys cluster.Keys, info Info, ttl time.Duration, logger *logging.Logger) *NodeRegistration {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &NodeRegistration{
		store:  store,
		key:    keys.Registration(info.Name),
		info:   info,
		ttl:    ttl,
		logger: logger.With("component", "registry", "node", info.Name),
	}
}

// Register creates the ephemeral key. If the lease is lost later the node
// registers again until Deregister is called.
func (r *NodeRegistration) Register(ctx context.Context) error {
	if r.info.StartedAt.IsZero() {
		r.info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(r.info)
	if err != nil {
		return fmt.Errorf("failed to marshal node info: %w", err)
	}

	lease, err := r.store.CreateEphemeral(ctx, r.key, data, r.ttl)
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return lease.Release(ctx)
	}
	r.lease = lease
	r.mu.Unlock()

	r.logger.Info("Node registered", "key", r.key, "address", r.info.Address(), "ttl", r.ttl)
	go r.keepAlive(ctx, lease)
	return nil
}

func (r *NodeRegistration) keepAlive(ctx context.Context, lease coordination.Lease) {
	select {
	case <-ctx.Done():
		return
	case <-lease.Done():
	}

	r.mu.Lock()
	released := r.released
	r.mu.Unlock()
	if released {
		return
	}

	r.logger.Warn("Registration lease lost, re-registering")
	select {
	case <-time.After(reregisterDelay):
	case <-ctx.Done():
		return
	}
	if err := r.Register(ctx); err != nil {
		r.logger.Error("Failed to re-register", "error", err)
	}
}

// Deregister deletes the key and stops re-registration
func (r *NodeRegistration) Deregister(ctx context.Context) error {
	r.mu.Lock()
	r.released = true
	lease := r.lease
	r.lease = nil
	r.mu.Unlock()

	if lease == nil {
		return nil
	}
	if err := lease.Release(ctx); err != nil {
		return fmt.Errorf("failed to deregister node: %w", err)
	}
	r.logger.Info("Node deregistered")
	return nil
}

// Decode parses a registration value
func Decode(data []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("%w: registration: %v", cluster.ErrProtocol, err)
	}
	return info, nil
}

// Lookup returns the registration of node, if present
func Lookup(ctx context.Context, store coordination.Store, keys cluster.Keys, node string) (Info, bool, error) {
	data, _, err := store.Get(ctx, keys.Registration(node))
	if errors.Is(err, coordination.ErrNotFound) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, err
	}
	info, err := Decode(data)
	if err != nil {
		return Info{}, false, err
	}
	return info, true, nil
}

// WaitFor blocks until node registers or ctx ends. A context deadline is
// reported as cluster.ErrTimeout.
func WaitFor(ctx context.Context, store coordination.Store, keys cluster.Keys, node string) (Info, error) {
	key := keys.Registration(node)
	data, rev, err := store.Get(ctx, key)
	switch {
	case err == nil:
		return Decode(data)
	case !errors.Is(err, coordination.ErrNotFound):
		return Info{}, err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for ev := range store.Watch(wctx, key, rev) {
		if ev.Type == coordination.EventPut {
			return Decode(ev.Value)
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Info{}, cluster.NewNodeError(node, "REGISTER", cluster.ErrTimeout)
	}
	if ctx.Err() != nil {
		return Info{}, ctx.Err()
	}
	return Info{}, cluster.NewNodeError(node, "REGISTER", cluster.ErrNodeUnreachable)
}
