package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/control"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/registry"
	"github.com/soltixdb/ringkv/internal/transfer"
)

// AddNodes grows the ring by up to count nodes from the seed pool.
//
// Steps: provision, wait for registration, INIT with the candidate ring,
// transfer ranges, START, publish, unlock, purge the handed-off ranges from
// their sources. A node failing any step is dropped from the candidate and
// returned to the pool. ok is true only if count nodes joined.
func (o *Orchestrator) AddNodes(ctx context.Context, count int, cache hashring.CacheConfig) (bool, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	ctx, op := o.begin(ctx, "add_nodes")

	if count <= 0 {
		return o.finish(op, fmt.Errorf("%w: node count must be positive", cluster.ErrRingInconsistency))
	}
	drawn := o.draw(count)
	if len(drawn) == 0 {
		return o.finish(op, fmt.Errorf("%w: no provisionable nodes left", cluster.ErrRingInconsistency))
	}
	if len(drawn) < count {
		op.failed = true
		op.log.Warn("Seed pool smaller than requested", "requested", count, "available", len(drawn))
	}

	current := o.Ring()
	cand := current.Builder()
	var joining []string
	for _, n := range drawn {
		n.Status = hashring.StatusStarting
		n.Cache = cache
		if err := cand.AddNode(n); err != nil {
			o.release(n)
			op.dropped = append(op.dropped, n.Name)
			op.log.Warn("Seed rejected by ring", "node", n.Name, "error", err)
			continue
		}
		joining = append(joining, n.Name)
	}

	// Provision and wait for each node to register
	failed := fanOut(ctx, joining, func(ctx context.Context, name string) error {
		n, _ := cand.Node(name)
		if err := o.provisioner.Provision(ctx, n); err != nil {
			return fmt.Errorf("provision: %w", err)
		}
		wctx, cancel := context.WithTimeout(ctx, o.opts.RegistrationTimeout)
		defer cancel()
		_, err := registry.WaitFor(wctx, o.store, o.keys, name)
		return err
	})
	joining = o.dropFailed(ctx, op, cand, joining, failed, "REGISTER")

	// INIT with the candidate snapshot
	if len(joining) > 0 {
		snapshot := string(cand.Build().Encode())
		failed = o.broadcast(ctx, joining, control.Message{Verb: control.VerbInit, Value: snapshot})
		joining = o.dropFailed(ctx, op, cand, joining, failed, "INIT")
	}

	// Transfers, then START; a START failure reshapes the ring, so migrate
	// again until every survivor holds its final range.
	done := make(map[string]transfer.Transfer)
	started := make(map[string]bool)
	for len(joining) > 0 {
		o.migrate(ctx, op, cand, done)
		joining = stillIn(cand, joining)

		var pending []string
		for _, name := range joining {
			if !started[name] {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			break
		}
		failed = o.broadcast(ctx, pending, control.Message{Verb: control.VerbStart})
		for _, name := range pending {
			if failed[name] == nil {
				started[name] = true
			}
		}
		joining = o.dropFailed(ctx, op, cand, joining, failed, "START")
		if len(failed) == 0 {
			break
		}
	}

	if len(joining) == 0 {
		return o.finish(op, nil)
	}
	for _, name := range joining {
		_ = cand.SetStatus(name, hashring.StatusRunning)
	}
	final := cand.Build()

	if err := o.publish(ctx, op, final); err != nil {
		o.unlockTargets(ctx, op, final, done)
		return o.finish(op, err)
	}
	o.unlockTargets(ctx, op, final, done)
	o.current.Store(final)
	o.purgeSources(ctx, op, final, done)
	return o.finish(op, nil)
}

// RemoveNodes drains the named nodes into their RUNNING successors and shuts
// them down. A node whose transfer fails stays in the ring as RUNNING.
func (o *Orchestrator) RemoveNodes(ctx context.Context, names []string) (bool, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	ctx, op := o.begin(ctx, "remove_nodes")

	current := o.Ring()
	if current.Empty() {
		return o.finish(op, fmt.Errorf("%w: ring is empty", cluster.ErrRingInconsistency))
	}
	if len(names) == 0 {
		return o.finish(op, fmt.Errorf("%w: no nodes named", cluster.ErrRingInconsistency))
	}
	leaving := make(map[string]bool, len(names))
	for _, name := range names {
		if !current.Contains(name) {
			return o.finish(op, fmt.Errorf("%w: %s is not a ring member", cluster.ErrRingInconsistency, name))
		}
		leaving[name] = true
	}
	if len(leaving) == current.Len() {
		return o.finish(op, fmt.Errorf("%w: removing every member would empty the ring", cluster.ErrRingInconsistency))
	}

	cand := current.Builder()
	var lost []string
	for name := range leaving {
		n, _ := cand.Node(name)
		if n.Status != hashring.StatusRunning {
			// Nothing to drain from a node that is not serving
			lost = append(lost, name)
			continue
		}
		_ = cand.SetStatus(name, hashring.StatusStopping)
	}
	for _, name := range lost {
		_ = cand.RemoveNode(name)
		op.log.Warn("Removing unavailable node without transfer", "node", name)
	}

	done := make(map[string]transfer.Transfer)
	o.migrate(ctx, op, cand, done)

	drained := cand.Build().NamesWithStatus(hashring.StatusStopping)
	for _, name := range drained {
		_ = cand.RemoveNode(name)
	}
	final := cand.Build()
	if err := o.publish(ctx, op, final); err != nil {
		o.unlockTargets(ctx, op, final, done)
		return o.finish(op, err)
	}
	o.unlockTargets(ctx, op, final, done)
	o.current.Store(final)

	failed := o.broadcast(ctx, append(drained, lost...), control.Message{Verb: control.VerbShutdown})
	for _, name := range sortedKeys(failed) {
		op.failed = true
		op.log.Warn("Removed node did not acknowledge SHUTDOWN", "node", name, "error", failed[name])
	}
	for _, name := range append(drained, lost...) {
		if n, ok := current.Node(name); ok {
			o.release(n)
		}
	}
	return o.finish(op, nil)
}

// Start sends START to every member.
func (o *Orchestrator) Start(ctx context.Context) (bool, error) {
	return o.lifecycle(ctx, "start", control.VerbStart, hashring.StatusRunning)
}

// Stop sends STOP to every member.
func (o *Orchestrator) Stop(ctx context.Context) (bool, error) {
	return o.lifecycle(ctx, "stop", control.VerbStop, hashring.StatusStopped)
}

// lifecycle broadcasts verb to the whole ring. Members that acknowledge take
// status; the others are marked OFFLINE. The broadcast never stops early.
func (o *Orchestrator) lifecycle(ctx context.Context, name string, verb control.Verb, status hashring.Status) (bool, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	ctx, op := o.begin(ctx, name)

	current := o.Ring()
	if current.Empty() {
		return o.finish(op, fmt.Errorf("%w: %s on an empty ring", cluster.ErrRingInconsistency, name))
	}

	failed := o.broadcast(ctx, current.Names(), control.Message{Verb: verb})
	next := current.Builder()
	for _, member := range current.Names() {
		if err := failed[member]; err != nil {
			op.failed = true
			op.log.Warn("Node unreachable", "node", member, "verb", verb, "error", err)
			_ = next.SetStatus(member, hashring.StatusOffline)
			continue
		}
		_ = next.SetStatus(member, status)
	}
	final := next.Build()
	o.current.Store(final)
	if err := o.saveUnavailable(ctx, final); err != nil {
		op.failed = true
		op.log.Error("Failed to record unavailable members", "error", err)
	}
	return o.finish(op, nil)
}

// Shutdown sends SHUTDOWN to every member. Members that acknowledge leave the
// ring and return to the seed pool; the rest stay as OFFLINE.
func (o *Orchestrator) Shutdown(ctx context.Context) (bool, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	ctx, op := o.begin(ctx, "shutdown")

	current := o.Ring()
	if current.Empty() {
		return o.finish(op, fmt.Errorf("%w: shutdown on an empty ring", cluster.ErrRingInconsistency))
	}

	failed := o.broadcast(ctx, current.Names(), control.Message{Verb: control.VerbShutdown})
	next := current.Builder()
	for _, member := range current.Names() {
		if err := failed[member]; err != nil {
			op.failed = true
			op.log.Warn("Node unreachable", "node", member, "verb", control.VerbShutdown, "error", err)
			_ = next.SetStatus(member, hashring.StatusOffline)
			continue
		}
		n, _ := current.Node(member)
		_ = next.RemoveNode(member)
		o.release(n)
	}
	final := next.Build()
	if err := o.publish(ctx, op, final); err != nil {
		return o.finish(op, err)
	}
	o.current.Store(final)
	return o.finish(op, nil)
}

// ============================================================================
// Migration
// ============================================================================

// migrate runs the candidate's transfer plan until it is empty. A failed
// pair drops its joining endpoint or reverts its leaving endpoint to
// RUNNING; either reshapes the ring, so the plan is recomputed and only
// handoffs not yet done are run. done collects completed handoffs.
func (o *Orchestrator) migrate(ctx context.Context, op *operation, cand *hashring.Builder, done map[string]transfer.Transfer) {
	for round := 0; round <= cand.Len(); round++ {
		var plan []transfer.Transfer
		for _, t := range ComputeTransferPlan(cand.Build()) {
			if _, ok := done[planKey(t)]; !ok {
				plan = append(plan, t)
			}
		}
		if len(plan) == 0 {
			return
		}
		op.log.Info("Running transfer plan", "round", round, "transfers", len(plan))

		for _, wave := range Waves(plan) {
			errs := make([]error, len(wave))
			var wg sync.WaitGroup
			for i, t := range wave {
				i, t := i, t
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs[i] = o.coord.Execute(ctx, t)
				}()
			}
			wg.Wait()

			for i, t := range wave {
				if errs[i] == nil {
					done[planKey(t)] = t
					continue
				}
				o.abandon(ctx, op, cand, t, errs[i])
			}
		}
	}
	op.log.Error("Transfer plan did not converge")
	op.failed = true
}

// abandon applies the failure policy to a failed handoff.
func (o *Orchestrator) abandon(ctx context.Context, op *operation, cand *hashring.Builder, t transfer.Transfer, err error) {
	if to, ok := cand.Node(t.To.Name); ok && to.Status == hashring.StatusStarting {
		o.drop(ctx, op, cand, t.To.Name, "TRANSFER", err)
		return
	}
	if from, ok := cand.Node(t.From.Name); ok && from.Status == hashring.StatusStopping {
		_ = cand.SetStatus(t.From.Name, hashring.StatusRunning)
		op.failed = true
		op.log.Warn("Leaving node kept after failed transfer", "node", t.From.Name, "error", err)
		return
	}
	op.failed = true
	op.log.Warn("Transfer failed between serving nodes", "transfer", t.String(), "error", err)
}

// unlockTargets releases the lock target of every completed handoff that is
// still a ring member.
func (o *Orchestrator) unlockTargets(ctx context.Context, op *operation, final *hashring.Ring, done map[string]transfer.Transfer) {
	seen := make(map[string]bool)
	var targets []string
	for _, t := range done {
		if final.Contains(t.LockTarget) && !seen[t.LockTarget] {
			seen[t.LockTarget] = true
			targets = append(targets, t.LockTarget)
		}
	}
	failed := fanOut(ctx, targets, func(ctx context.Context, name string) error {
		return o.coord.Unlock(ctx, name)
	})
	for _, name := range sortedKeys(failed) {
		op.failed = true
		op.log.Error("Failed to unlock node", "node", name, "error", failed[name])
	}
}

// purgeSources sends DELETE for every range that moved to a surviving node.
// Each source gets its ranges one at a time.
func (o *Orchestrator) purgeSources(ctx context.Context, op *operation, final *hashring.Ring, done map[string]transfer.Transfer) {
	bySource := make(map[string][]hashring.Range)
	for _, t := range done {
		if final.Contains(t.To.Name) && final.Contains(t.From.Name) {
			bySource[t.From.Name] = append(bySource[t.From.Name], t.Range)
		}
	}
	sources := make([]string, 0, len(bySource))
	for name := range bySource {
		sources = append(sources, name)
	}

	failed := fanOut(ctx, sources, func(ctx context.Context, name string) error {
		for _, rng := range bySource[name] {
			rng := rng
			msg := control.Message{Verb: control.VerbDelete, Range: &rng}
			if _, err := o.channel.SendAndAwait(ctx, name, msg, o.opts.ControlTimeout); err != nil {
				return err
			}
		}
		return nil
	})
	for _, name := range sortedKeys(failed) {
		// The data stays on the source; it no longer owns it
		op.log.Warn("Failed to purge handed-off range", "node", name, "error", failed[name])
	}
}

// dropFailed drops every name in failed and returns the survivors.
func (o *Orchestrator) dropFailed(ctx context.Context, op *operation, cand *hashring.Builder,
	names []string, failed map[string]error, step string) []string {
	survivors := names[:0:0]
	for _, name := range names {
		if err, bad := failed[name]; bad {
			o.drop(ctx, op, cand, name, step, err)
			continue
		}
		survivors = append(survivors, name)
	}
	return survivors
}

// stillIn filters names down to candidate members.
func stillIn(cand *hashring.Builder, names []string) []string {
	out := names[:0:0]
	for _, name := range names {
		if cand.Contains(name) {
			out = append(out, name)
		}
	}
	return out
}
