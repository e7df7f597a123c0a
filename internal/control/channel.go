package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
)

// Channel sends requests into node mailboxes and waits for the paired reply.
// It does not serialize callers: at most one request may be in flight per
// node, and callers are responsible for that.
type Channel struct {
	store   coordination.Store
	keys    cluster.Keys
	sender  string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewChannel returns a channel that signs requests as sender.
func NewChannel(store coordination.Store, keys cluster.Keys, sender string, logger *logging.Logger, m *metrics.Metrics) *Channel {
	return &Channel{
		store:   store,
		keys:    keys,
		sender:  sender,
		logger:  logger.With("component", "control"),
		metrics: m,
	}
}

// Sender returns the id this channel signs requests with.
func (c *Channel) Sender() string {
	return c.sender
}

// SendAndAwait writes msg into node's mailbox and blocks until the node
// answers with the paired reply verb, the timeout elapses, or ctx ends.
//
// The reply is matched on correlation id, reply verb and a sender other than
// this channel, so our own write never satisfies the wait. The watch starts
// right after the request's revision and the mailbox is re-read once armed.
// Errors are *cluster.NodeError wrapping ErrTimeout, ErrRejected,
// ErrNodeUnreachable or ErrProtocol.
func (c *Channel) SendAndAwait(ctx context.Context, node string, msg Message, timeout time.Duration) (Message, error) {
	replyVerb, ok := msg.Verb.Reply()
	if !ok {
		return Message{}, cluster.NewNodeError(node, string(msg.Verb),
			fmt.Errorf("%w: %s is not a request verb", cluster.ErrProtocol, msg.Verb))
	}

	start := time.Now()
	reply, err := c.sendAndAwait(ctx, node, msg, replyVerb, timeout)
	c.metrics.ObserveControl(string(msg.Verb), outcome(err), time.Since(start))
	if err != nil {
		c.logger.Debug("Control request failed", "node", node, "verb", msg.Verb, "error", err)
		return Message{}, cluster.NewNodeError(node, string(msg.Verb), err)
	}
	return reply, nil
}

func (c *Channel) sendAndAwait(ctx context.Context, node string, msg Message, replyVerb Verb, timeout time.Duration) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Sender = c.sender

	data, err := msg.Encode()
	if err != nil {
		return Message{}, err
	}

	// The timer starts before the write so the wait never exceeds timeout.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	key := c.keys.Mailbox(node)
	rev, err := c.store.Put(ctx, key, data)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", cluster.ErrNodeUnreachable, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := c.store.Watch(watchCtx, key, rev)

	match := func(value []byte) (Message, bool, error) {
		reply, err := Decode(value)
		if err != nil {
			return Message{}, false, err
		}
		if reply.ID != msg.ID || reply.Verb != replyVerb || reply.Sender == c.sender {
			return Message{}, false, nil
		}
		if reply.Error != "" {
			return reply, true, fmt.Errorf("%w: %s", cluster.ErrRejected, reply.Error)
		}
		return reply, true, nil
	}

	if value, _, err := c.store.Get(ctx, key); err == nil {
		if reply, ok, err := match(value); ok || err != nil {
			return reply, err
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return Message{}, ctx.Err()
				}
				return Message{}, fmt.Errorf("%w: mailbox watch closed", cluster.ErrNodeUnreachable)
			}
			if ev.Type == coordination.EventDelete {
				return Message{}, fmt.Errorf("%w: mailbox deleted", cluster.ErrNodeUnreachable)
			}
			if reply, ok, err := match(ev.Value); ok || err != nil {
				return reply, err
			}
		case <-timer.C:
			return Message{}, fmt.Errorf("%w: no %s within %s", cluster.ErrTimeout, replyVerb, timeout)
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, cluster.ErrTimeout):
		return "timeout"
	case errors.Is(err, cluster.ErrRejected):
		return "rejected"
	case errors.Is(err, cluster.ErrProtocol):
		return "protocol"
	default:
		return "error"
	}
}
