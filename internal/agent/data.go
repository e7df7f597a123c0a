package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/storage"
)

// Get reads key. The node must own it and be RUNNING or draining.
func (a *Agent) Get(ctx context.Context, key string) ([]byte, error) {
	if err := a.admit(key, false); err != nil {
		a.metrics.ObserveData("get", outcome(err))
		return nil, err
	}
	value, err := a.engine.Get(ctx, key)
	a.metrics.ObserveData("get", outcome(err))
	return value, err
}

// Put writes key and forwards the record to the backups.
func (a *Agent) Put(ctx context.Context, key string, value []byte) error {
	if err := a.admit(key, true); err != nil {
		a.metrics.ObserveData("put", outcome(err))
		return err
	}
	err := a.engine.Put(ctx, key, value)
	a.metrics.ObserveData("put", outcome(err))
	if err != nil {
		return err
	}
	a.replicate(storage.Record{Key: key, Value: value})
	return nil
}

// Delete tombstones key and forwards the tombstone to the backups.
func (a *Agent) Delete(ctx context.Context, key string) error {
	if err := a.admit(key, true); err != nil {
		a.metrics.ObserveData("delete", outcome(err))
		return err
	}
	err := a.engine.Delete(ctx, key)
	a.metrics.ObserveData("delete", outcome(err))
	if err != nil {
		return err
	}
	a.replicate(storage.Record{Key: key, Tombstone: true})
	return nil
}

// Owner returns the node the routing ring assigns key to.
func (a *Agent) Owner(key string) (hashring.Node, bool) {
	ring := a.ring.Load()
	if ring == nil {
		return hashring.Node{}, false
	}
	return ring.OwnerOfKey(key)
}

func (a *Agent) admit(key string, write bool) error {
	a.mu.RLock()
	status, locked := a.status, a.locked
	a.mu.RUnlock()

	switch status {
	case hashring.StatusRunning:
	case hashring.StatusStopping:
		if write {
			return cluster.ErrNotServing
		}
	default:
		return cluster.ErrNotServing
	}
	if write && locked {
		return cluster.ErrLocked
	}

	owner, ok := a.Owner(key)
	if !ok || owner.Name != a.opts.Name {
		return cluster.ErrNotOwner
	}
	return nil
}

func (a *Agent) replicate(rec storage.Record) {
	if a.repl != nil {
		a.repl.Replicate(rec)
	}
}

// ConfigureBackups replaces the node's backup set.
func (a *Agent) ConfigureBackups(ctx context.Context, backups []string) error {
	if a.repl == nil {
		return fmt.Errorf("replication is not enabled on %s", a.opts.Name)
	}
	return a.repl.Configure(ctx, backups)
}

// Backups returns the connected backups.
func (a *Agent) Backups() []string {
	if a.repl == nil {
		return nil
	}
	return a.repl.Peers()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, cluster.ErrLocked):
		return "locked"
	case errors.Is(err, cluster.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, cluster.ErrNotServing):
		return "not_serving"
	default:
		return "error"
	}
}
