package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/logging"
)

const rearmDelay = 200 * time.Millisecond

// Handler answers one request. The returned message's ID, Sender and Verb
// are filled in from the request when left empty.
type Handler func(ctx context.Context, req Message) Message

// Mailbox is the node side of a Channel: it watches the node's own mailbox
// and answers each request in arrival order.
type Mailbox struct {
	store  coordination.Store
	key    string
	name   string
	logger *logging.Logger
	done   chan struct{}

	afterReply func(req, reply Message)
}

// NewMailbox returns the mailbox of node name.
func NewMailbox(store coordination.Store, keys cluster.Keys, name string, logger *logging.Logger) *Mailbox {
	return &Mailbox{
		store:  store,
		key:    keys.Mailbox(name),
		name:   name,
		logger: logger.With("component", "mailbox", "node", name),
		done:   make(chan struct{}),
	}
}

// OnReplied registers fn to run after each reply has been written. It must
// be called before Start.
func (m *Mailbox) OnReplied(fn func(req, reply Message)) {
	m.afterReply = fn
}

// Start arms the watch and serves requests in the background until ctx ends.
// Values already in the mailbox when Start is called are not replayed.
func (m *Mailbox) Start(ctx context.Context, handler Handler) error {
	_, rev, err := m.store.Get(ctx, m.key)
	if err != nil && !errors.Is(err, coordination.ErrNotFound) {
		close(m.done)
		return fmt.Errorf("failed to read mailbox: %w", err)
	}

	events := m.store.Watch(ctx, m.key, rev)
	go m.serve(ctx, events, rev, handler)
	return nil
}

// Done is closed once the serve loop has exited.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

func (m *Mailbox) serve(ctx context.Context, events <-chan coordination.Event, rev int64, handler Handler) {
	defer close(m.done)
	m.logger.Debug("Mailbox listening", "key", m.key)

	for {
		for ev := range events {
			rev = ev.Revision
			if ev.Type != coordination.EventPut {
				continue
			}
			m.handle(ctx, ev.Value, handler)
		}
		if ctx.Err() != nil {
			m.logger.Debug("Mailbox stopped")
			return
		}
		select {
		case <-m.store.Done():
			m.logger.Debug("Mailbox stopped, store closed")
			return
		default:
		}
		m.logger.Warn("Mailbox watch closed, re-arming", "revision", rev)
		select {
		case <-time.After(rearmDelay):
		case <-ctx.Done():
			return
		case <-m.store.Done():
			return
		}
		events = m.store.Watch(ctx, m.key, rev)
	}
}

func (m *Mailbox) handle(ctx context.Context, value []byte, handler Handler) {
	req, err := Decode(value)
	if err != nil {
		m.logger.Warn("Dropping malformed mailbox value", "error", err)
		return
	}
	if req.Sender == m.name || !req.Verb.IsRequest() {
		return
	}

	m.logger.Debug("Request received", "verb", req.Verb, "id", req.ID, "sender", req.Sender)
	reply := handler(ctx, req)

	expected := ReplyTo(req, m.name)
	if reply.ID == "" {
		reply.ID = expected.ID
	}
	if reply.Verb == "" {
		reply.Verb = expected.Verb
	}
	reply.Sender = m.name

	data, err := reply.Encode()
	if err != nil {
		m.logger.Error("Failed to encode reply", "verb", reply.Verb, "error", err)
		return
	}
	if _, err := m.store.Put(ctx, m.key, data); err != nil {
		m.logger.Error("Failed to write reply", "verb", reply.Verb, "error", err)
		return
	}
	if reply.Error != "" {
		m.logger.Warn("Request refused", "verb", req.Verb, "reason", reply.Error)
	}
	if m.afterReply != nil {
		m.afterReply(req, reply)
	}
}
