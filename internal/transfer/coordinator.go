package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/control"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Transfer is one handoff of Range from From to To. LockTarget is the node
// receiving the range.
type Transfer struct {
	From       hashring.Node  `json:"from"`
	To         hashring.Node  `json:"to"`
	Range      hashring.Range `json:"range"`
	LockTarget string         `json:"lock_target"`
}

// New builds a transfer whose lock target is the receiver.
func New(from, to hashring.Node, rng hashring.Range) Transfer {
	return Transfer{From: from, To: to, Range: rng, LockTarget: to.Name}
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s -> %s %s", t.From.Name, t.To.Name, t.Range)
}

// Options bounds each step of a handoff.
type Options struct {
	// ControlTimeout bounds LOCK, TRANSFER_REQ, MOVE_DATA and UNLOCK.
	ControlTimeout time.Duration
	// TransferTimeout bounds the wait for both TRANSFER_COMPLETE replies.
	TransferTimeout time.Duration
	// KeepLocked leaves the lock target locked after a successful handoff;
	// the caller unlocks it once the new ring is published.
	KeepLocked bool
}

// Coordinator executes handoffs over the control channel.
type Coordinator struct {
	channel *control.Channel
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewCoordinator creates a coordinator.
func NewCoordinator(channel *control.Channel, opts Options, logger *logging.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		channel: channel,
		opts:    opts,
		logger:  logger.With("component", "transfer"),
		metrics: m,
	}
}

// Execute runs one handoff:
//
//  1. LOCK the lock target
//  2. TRANSFER_REQ to the destination, which answers with an intake port
//  3. MOVE_DATA to the source with the range and destination address
//  4. TRANSFER_BEGIN to both endpoints, then wait for both TRANSFER_COMPLETE
//  5. UNLOCK the lock target, unless KeepLocked is set
//
// Any failing step yields an error wrapping cluster.ErrTransferFailure. The
// lock target is unlocked on a best-effort basis before returning; UNLOCK
// also closes an intake socket the receiver still holds.
func (c *Coordinator) Execute(ctx context.Context, t Transfer) error {
	start := time.Now()
	log := c.logger.With("from", t.From.Name, "to", t.To.Name, "range", t.Range.String())
	log.Info("Starting range transfer")

	err := c.execute(ctx, t)
	c.metrics.ObserveTransfer(err == nil, time.Since(start))
	if err != nil {
		log.Error("Range transfer failed", "error", err)
		// The receiver may still be waiting out its accept deadline.
		if _, unlockErr := c.channel.SendAndAwait(context.WithoutCancel(ctx), t.LockTarget,
			control.Message{Verb: control.VerbUnlock}, 2*c.opts.ControlTimeout); unlockErr != nil {
			log.Warn("Failed to release lock after transfer failure", "node", t.LockTarget, "error", unlockErr)
		}
		return fmt.Errorf("%w: %s: %w", cluster.ErrTransferFailure, t, err)
	}

	log.Info("Range transfer completed", "duration", time.Since(start))
	return nil
}

func (c *Coordinator) execute(ctx context.Context, t Transfer) error {
	if _, err := c.channel.SendAndAwait(ctx, t.LockTarget,
		control.Message{Verb: control.VerbLock}, c.opts.ControlTimeout); err != nil {
		return err
	}

	reply, err := c.channel.SendAndAwait(ctx, t.To.Name,
		control.Message{Verb: control.VerbTransferReq}, c.opts.ControlTimeout)
	if err != nil {
		return err
	}
	addr, err := Address(t.To.Host, reply.Value)
	if err != nil {
		return cluster.NewNodeError(t.To.Name, string(control.VerbTransferReqAck),
			fmt.Errorf("%w: %v", cluster.ErrProtocol, err))
	}

	rng := t.Range
	if _, err := c.channel.SendAndAwait(ctx, t.From.Name,
		control.Message{Verb: control.VerbMoveData, Range: &rng, Address: addr}, c.opts.ControlTimeout); err != nil {
		return err
	}

	// Both endpoints report completion independently.
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range []string{t.From.Name, t.To.Name} {
		node := node
		g.Go(func() error {
			_, err := c.channel.SendAndAwait(gctx, node,
				control.Message{Verb: control.VerbTransferBegin}, c.opts.TransferTimeout)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if c.opts.KeepLocked {
		return nil
	}
	return c.Unlock(ctx, t.LockTarget)
}

// Unlock releases the write gate of node.
func (c *Coordinator) Unlock(ctx context.Context, node string) error {
	_, err := c.channel.SendAndAwait(ctx, node, control.Message{Verb: control.VerbUnlock}, c.opts.ControlTimeout)
	return err
}

// IsFailure reports whether err came from a failed handoff.
func IsFailure(err error) bool {
	return errors.Is(err, cluster.ErrTransferFailure)
}
