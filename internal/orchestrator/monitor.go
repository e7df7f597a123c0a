package orchestrator

import (
	"context"
	"time"

	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/events"
	"github.com/soltixdb/ringkv/internal/hashring"
)

const monitorRearmDelay = time.Second

// Monitor watches node registrations until ctx ends and applies the
// recovery policy when a RUNNING member disappears. Nodes outside the
// committed ring are ignored: an operation in flight notices its own
// failures through timeouts.
func (o *Orchestrator) Monitor(ctx context.Context) {
	prefix := o.keys.RegistrationPrefix()
	_, rev, _ := o.store.Get(ctx, prefix)
	o.logger.Info("Failure monitor started", "prefix", prefix, "policy", o.opts.RecoveryPolicy)

	for {
		for ev := range o.store.WatchPrefix(ctx, prefix, rev) {
			rev = ev.Revision
			if ev.Type != coordination.EventDelete {
				continue
			}
			name := o.keys.NodeFromRegistration(ev.Key)
			go o.nodeLost(ctx, name)
		}
		if ctx.Err() != nil {
			o.logger.Info("Failure monitor stopped")
			return
		}
		select {
		case <-o.store.Done():
			o.logger.Info("Failure monitor stopped, store closed")
			return
		default:
		}
		o.logger.Warn("Registration watch closed, re-arming", "revision", rev)
		select {
		case <-time.After(monitorRearmDelay):
		case <-ctx.Done():
			return
		}
	}
}

// nodeLost runs after the operation in flight, if any, has finished.
func (o *Orchestrator) nodeLost(ctx context.Context, name string) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	current := o.Ring()
	n, ok := current.Node(name)
	if !ok {
		o.logger.Debug("Registration removed for non-member", "node", name)
		return
	}
	if n.Status != hashring.StatusRunning {
		o.logger.Info("Non-serving member deregistered", "node", name, "status", n.Status.String())
		return
	}

	ctx, op := o.begin(ctx, "recover")
	op.log.Error("Running node lost", "node", name, "policy", o.opts.RecoveryPolicy)
	o.emitter.Emit(ctx, events.Event{Type: events.TypeNodeFailed, Operation: op.name, Node: name})

	next := current.Builder()
	if o.opts.RecoveryPolicy == config.RecoveryEvict && current.Len() > 1 {
		// The successor takes over the range; its data comes from backups
		_ = next.RemoveNode(name)
		final := next.Build()
		if err := o.publish(ctx, op, final); err != nil {
			_, _ = o.finish(op, err)
			return
		}
		o.current.Store(final)
		o.release(n)
		_, _ = o.finish(op, nil)
		return
	}

	// Range stays with the node and is unavailable until it is started again
	_ = next.SetStatus(name, hashring.StatusOffline)
	final := next.Build()
	if err := o.publish(ctx, op, final); err != nil {
		_, _ = o.finish(op, err)
		return
	}
	o.current.Store(final)
	_, _ = o.finish(op, nil)
}
