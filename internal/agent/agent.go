// Package agent is the node side of the cluster: it answers the
// orchestrator's control verbs, runs its half of range transfers, and gates
// client reads and writes on ring ownership and the write lock.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/control"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
	"github.com/soltixdb/ringkv/internal/registry"
	"github.com/soltixdb/ringkv/internal/replication"
	"github.com/soltixdb/ringkv/internal/storage"
	"github.com/soltixdb/ringkv/internal/transfer"
)

const watchRearmDelay = 200 * time.Millisecond

// Options identifies the node and bounds its side of a transfer.
type Options struct {
	Name string
	// Host and Port are the advertised data address; the node's ring hash
	// is derived from them.
	Host string
	Port int
	// TransferHost is the interface intake sockets bind to. Defaults to Host.
	TransferHost string
	// ReplicationAddr is advertised in the registration when set.
	ReplicationAddr string
	// TransferTimeout bounds one Send or Receive.
	TransferTimeout time.Duration
	// AcceptTimeout bounds the wait for the source to connect once
	// TRANSFER_BEGIN arrives. Keep it within the orchestrator's control
	// timeout so an aborted handoff frees the mailbox before UNLOCK.
	AcceptTimeout time.Duration
	LeaseTTL        time.Duration
}

// moveOrder is the pending MOVE_DATA of a source node.
type moveOrder struct {
	addr string
	rng  hashring.Range
}

// Agent runs one node.
type Agent struct {
	opts    Options
	store   coordination.Store
	keys    cluster.Keys
	engine  storage.Engine
	repl    *replication.Manager
	logger  *logging.Logger
	metrics *metrics.Metrics

	mailbox      *control.Mailbox
	registration *registry.NodeRegistration
	ring         atomic.Pointer[hashring.Ring]

	mu       sync.RWMutex
	status   hashring.Status
	locked   bool
	receiver *transfer.Receiver
	move     *moveOrder

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New creates an agent over engine. repl may be nil when the node has no
// backups.
func New(store coordination.Store, keys cluster.Keys, opts Options, engine storage.Engine,
	repl *replication.Manager, logger *logging.Logger, m *metrics.Metrics) *Agent {
	if opts.TransferHost == "" {
		opts.TransferHost = opts.Host
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 2 * time.Hour
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = 30 * time.Second
	}
	logger = logger.With("node", opts.Name)

	a := &Agent{
		opts:     opts,
		store:    store,
		keys:     keys,
		engine:   engine,
		repl:     repl,
		logger:   logger,
		metrics:  m,
		mailbox:  control.NewMailbox(store, keys, opts.Name, logger),
		status:   hashring.StatusOffline,
		shutdown: make(chan struct{}),
	}
	a.registration = registry.NewNodeRegistration(store, keys, registry.Info{
		Name:            opts.Name,
		Host:            opts.Host,
		Port:            opts.Port,
		ReplicationAddr: opts.ReplicationAddr,
	}, opts.LeaseTTL, logger)
	a.mailbox.OnReplied(a.afterReply)
	return a
}

// Start loads the committed ring, starts serving the mailbox and registers
// the node. The node is INACTIVE until the orchestrator INITs it.
func (a *Agent) Start(ctx context.Context) error {
	rev, err := a.loadRing(ctx)
	if err != nil {
		return err
	}
	go a.watchRing(ctx, rev)

	if err := a.mailbox.Start(ctx, a.handle); err != nil {
		return err
	}

	a.setStatus(hashring.StatusInactive)
	if err := a.registration.Register(ctx); err != nil {
		return err
	}
	a.logger.Info("Node agent started", "address", hashring.JoinHostPort(a.opts.Host, a.opts.Port))
	return nil
}

// Name returns the node name.
func (a *Agent) Name() string { return a.opts.Name }

// Status returns the lifecycle status.
func (a *Agent) Status() hashring.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Locked reports whether writes are gated.
func (a *Agent) Locked() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.locked
}

// Ring returns the ring the node routes by, or nil before the first one.
func (a *Agent) Ring() *hashring.Ring {
	return a.ring.Load()
}

// ShutdownRequested is closed once a SHUTDOWN has been acknowledged.
func (a *Agent) ShutdownRequested() <-chan struct{} {
	return a.shutdown
}

// Done is closed when the mailbox loop exits.
func (a *Agent) Done() <-chan struct{} {
	return a.mailbox.Done()
}

// Close deregisters the node and drops any pending intake socket. The
// engine is left open for its owner to close.
func (a *Agent) Close(ctx context.Context) error {
	a.dropIntake()
	return a.registration.Deregister(ctx)
}

func (a *Agent) setStatus(s hashring.Status) {
	a.mu.Lock()
	prev := a.status
	a.status = s
	a.mu.Unlock()
	if prev != s {
		a.logger.Info("Node status changed", "from", prev.String(), "to", s.String())
	}
}

func (a *Agent) loadRing(ctx context.Context) (int64, error) {
	data, rev, err := a.store.Get(ctx, a.keys.Ring())
	if errors.Is(err, coordination.ErrNotFound) {
		return rev, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read committed ring: %w", err)
	}
	a.adoptRing(data, "committed")
	return rev, nil
}

func (a *Agent) adoptRing(data []byte, source string) bool {
	ring, err := hashring.ParseMetadata(data)
	if err != nil {
		a.logger.Warn("Ignoring unparseable ring", "source", source, "error", err)
		return false
	}
	a.ring.Store(ring)
	a.logger.Debug("Ring adopted", "source", source, "members", ring.Len())
	return true
}

// watchRing follows the committed ring key for the life of ctx.
func (a *Agent) watchRing(ctx context.Context, rev int64) {
	for {
		for ev := range a.store.Watch(ctx, a.keys.Ring(), rev) {
			rev = ev.Revision
			if ev.Type == coordination.EventPut {
				a.adoptRing(ev.Value, "committed")
			}
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(watchRearmDelay):
		case <-ctx.Done():
			return
		case <-a.store.Done():
			a.logger.Debug("Ring watch stopped, store closed")
			return
		}
	}
}
