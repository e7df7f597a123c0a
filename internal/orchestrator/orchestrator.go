// Package orchestrator drives cluster membership changes.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/control"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/events"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
	"github.com/soltixdb/ringkv/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Orchestrator
// ============================================================================
//
// Owns the committed ring and is the only writer of it.
//
// Flow of a cluster operation:
//  1. Take opMu; operations never overlap
//  2. Copy the committed ring into a candidate Builder
//  3. Talk to nodes step by step; every step fans out to its nodes and
//     settles completely before the next one starts
//  4. Nodes that fail a step leave the candidate, never the committed ring
//  5. Publish the candidate under <prefix>/ring, release the write locks
//     taken during transfers, and swap the candidate in
//
// Readers get the committed ring through Ring() without locking.
//
// ============================================================================

// Options configures an Orchestrator.
type Options struct {
	// Name is the sender id written into control messages.
	Name                string
	ControlTimeout      time.Duration
	TransferTimeout     time.Duration
	RegistrationTimeout time.Duration
	// RecoveryPolicy is config.RecoveryMarkUnavailable or config.RecoveryEvict.
	RecoveryPolicy string
}

func (o *Options) applyDefaults() {
	if o.Name == "" {
		o.Name = "orchestrator"
	}
	if o.ControlTimeout <= 0 {
		o.ControlTimeout = 5 * time.Second
	}
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = 2 * time.Hour
	}
	if o.RegistrationTimeout <= 0 {
		o.RegistrationTimeout = 30 * time.Second
	}
	if o.RecoveryPolicy == "" {
		o.RecoveryPolicy = config.RecoveryMarkUnavailable
	}
}

// Orchestrator runs cluster operations against the nodes of one ring.
type Orchestrator struct {
	opts        Options
	store       coordination.Store
	keys        cluster.Keys
	channel     *control.Channel
	coord       *transfer.Coordinator
	provisioner Provisioner
	emitter     *events.Emitter
	logger      *logging.Logger
	metrics     *metrics.Metrics

	opMu    sync.Mutex
	current atomic.Pointer[hashring.Ring]

	poolMu sync.Mutex
	pool   []hashring.Node
}

// New creates an orchestrator with an empty ring and an empty seed pool.
// emitter and m may be nil.
func New(store coordination.Store, keys cluster.Keys, opts Options, provisioner Provisioner,
	emitter *events.Emitter, logger *logging.Logger, m *metrics.Metrics) *Orchestrator {
	opts.applyDefaults()
	logger = logger.With("component", "orchestrator")

	channel := control.NewChannel(store, keys, opts.Name, logger, m)
	o := &Orchestrator{
		opts:    opts,
		store:   store,
		keys:    keys,
		channel: channel,
		coord: transfer.NewCoordinator(channel, transfer.Options{
			ControlTimeout:  opts.ControlTimeout,
			TransferTimeout: opts.TransferTimeout,
			KeepLocked:      true,
		}, logger, m),
		provisioner: provisioner,
		emitter:     emitter,
		logger:      logger,
		metrics:     m,
	}
	o.current.Store(hashring.New())
	return o
}

// Ring returns the committed ring.
func (o *Orchestrator) Ring() *hashring.Ring {
	return o.current.Load()
}

// SetSeeds replaces the pool of provisionable nodes. Seeds already in the
// committed ring are skipped.
func (o *Orchestrator) SetSeeds(seeds []hashring.Node) {
	ring := o.Ring()
	o.poolMu.Lock()
	defer o.poolMu.Unlock()
	o.pool = o.pool[:0]
	for _, n := range seeds {
		if ring.Contains(n.Name) {
			continue
		}
		n.Status = hashring.StatusOffline
		o.pool = append(o.pool, n)
	}
	o.logger.Info("Seed pool loaded", "available", len(o.pool))
}

// Pool returns the nodes that can still be provisioned.
func (o *Orchestrator) Pool() []hashring.Node {
	o.poolMu.Lock()
	defer o.poolMu.Unlock()
	return append([]hashring.Node(nil), o.pool...)
}

func (o *Orchestrator) draw(count int) []hashring.Node {
	o.poolMu.Lock()
	defer o.poolMu.Unlock()
	if count > len(o.pool) {
		count = len(o.pool)
	}
	drawn := append([]hashring.Node(nil), o.pool[:count]...)
	o.pool = append(o.pool[:0], o.pool[count:]...)
	return drawn
}

// release returns nodes to the pool as OFFLINE.
func (o *Orchestrator) release(nodes ...hashring.Node) {
	o.poolMu.Lock()
	defer o.poolMu.Unlock()
	for _, n := range nodes {
		n.Status = hashring.StatusOffline
		n.Locked = false
		n.PredecessorHash = 0
		o.pool = append(o.pool, n)
	}
}

// Restore loads the committed ring from the coordination store. Members
// recorded as unavailable come back OFFLINE, the rest RUNNING; a missing key
// leaves the ring empty.
func (o *Orchestrator) Restore(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	data, _, err := o.store.Get(ctx, o.keys.Ring())
	if errors.Is(err, coordination.ErrNotFound) {
		o.logger.Info("No committed ring found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read committed ring: %w", err)
	}
	ring, err := hashring.ParseMetadata(data)
	if err != nil {
		return fmt.Errorf("%w: committed ring: %v", cluster.ErrRingInconsistency, err)
	}
	offline, err := o.loadUnavailable(ctx)
	if err != nil {
		return err
	}
	if len(offline) > 0 {
		b := ring.Builder()
		for _, name := range offline {
			_ = b.SetStatus(name, hashring.StatusOffline)
		}
		ring = b.Build()
	}
	o.current.Store(ring)
	o.metrics.SetRingSize(ring.Len())

	o.poolMu.Lock()
	kept := o.pool[:0]
	for _, n := range o.pool {
		if !ring.Contains(n.Name) {
			kept = append(kept, n)
		}
	}
	o.pool = kept
	o.poolMu.Unlock()

	o.logger.Info("Committed ring restored", "members", ring.Names(), "offline", ring.NamesWithStatus(hashring.StatusOffline))
	return nil
}

func (o *Orchestrator) loadUnavailable(ctx context.Context) ([]string, error) {
	data, _, err := o.store.Get(ctx, o.keys.Unavailable())
	if errors.Is(err, coordination.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read unavailable members: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("%w: unavailable members: %v", cluster.ErrRingInconsistency, err)
	}
	return names, nil
}

// saveUnavailable records the OFFLINE members of ring.
func (o *Orchestrator) saveUnavailable(ctx context.Context, ring *hashring.Ring) error {
	names := ring.NamesWithStatus(hashring.StatusOffline)
	if len(names) == 0 {
		if err := o.store.Delete(ctx, o.keys.Unavailable()); err != nil {
			return fmt.Errorf("failed to clear unavailable members: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if _, err := o.store.Put(ctx, o.keys.Unavailable(), data); err != nil {
		return fmt.Errorf("failed to record unavailable members: %w", err)
	}
	return nil
}

// publish writes ring as the committed metadata.
func (o *Orchestrator) publish(ctx context.Context, op *operation, ring *hashring.Ring) error {
	var err error
	if ring.Empty() {
		err = o.store.Delete(ctx, o.keys.Ring())
	} else {
		_, err = o.store.Put(ctx, o.keys.Ring(), ring.Encode())
	}
	if err != nil {
		return fmt.Errorf("failed to publish ring: %w", err)
	}
	if err := o.saveUnavailable(ctx, ring); err != nil {
		return err
	}
	o.metrics.SetRingSize(ring.Len())
	op.log.Info("Ring published", "members", ring.Names())
	o.emitter.Emit(ctx, events.Event{
		Type:      events.TypeRingCommitted,
		Operation: op.name,
		Ring:      ring.Names(),
	})
	return nil
}

// ============================================================================
// Operation bookkeeping
// ============================================================================

// operation tracks one cluster operation for logging and the final verdict.
type operation struct {
	name    string
	id      string
	start   time.Time
	log     *logging.Logger
	dropped []string
	failed  bool
}

func (o *Orchestrator) begin(ctx context.Context, name string) (context.Context, *operation) {
	id := uuid.New().String()
	ctx = logging.WithOperationID(ctx, id)
	op := &operation{
		name:  name,
		id:    id,
		start: time.Now(),
		log:   o.logger.WithContext(ctx).With("op", name),
	}
	op.log.Info("Cluster operation started")
	return ctx, op
}

// finish records the verdict. ok is false when anything was dropped.
func (o *Orchestrator) finish(op *operation, err error) (bool, error) {
	ok := err == nil && !op.failed && len(op.dropped) == 0
	o.metrics.ObserveOperation(op.name, ok, time.Since(op.start))
	switch {
	case err != nil:
		op.log.Error("Cluster operation failed", "error", err, "duration", time.Since(op.start))
	case !ok:
		op.log.Warn("Cluster operation partially failed", "dropped", op.dropped, "duration", time.Since(op.start))
	default:
		op.log.Info("Cluster operation completed", "duration", time.Since(op.start))
	}
	return ok, err
}

// drop removes a joining node from the candidate and returns it to the pool.
func (o *Orchestrator) drop(ctx context.Context, op *operation, cand *hashring.Builder, name, step string, cause error) {
	n, ok := cand.Node(name)
	if !ok {
		return
	}
	_ = cand.RemoveNode(name)
	o.release(n)
	op.dropped = append(op.dropped, name)
	o.metrics.NodeDropped(step)
	op.log.Warn("Node dropped from candidate ring", "node", name, "step", step, "error", cause)

	ev := events.Event{Type: events.TypeNodeDropped, Operation: op.name, Node: name, Step: step}
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.emitter.Emit(ctx, ev)
}

// ============================================================================
// Fan-out helpers
// ============================================================================

// fanOut runs fn for every name concurrently and returns failures by name.
func fanOut(ctx context.Context, names []string, fn func(ctx context.Context, name string) error) map[string]error {
	var mu sync.Mutex
	failed := make(map[string]error)

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := fn(ctx, name); err != nil {
				mu.Lock()
				failed[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// broadcast sends msg to every node and waits for each acknowledgment.
func (o *Orchestrator) broadcast(ctx context.Context, names []string, msg control.Message) map[string]error {
	return fanOut(ctx, names, func(ctx context.Context, name string) error {
		_, err := o.channel.SendAndAwait(ctx, name, msg, o.opts.ControlTimeout)
		return err
	})
}

func sortedKeys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
