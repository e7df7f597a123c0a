package transfer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/control"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// endpoint is a minimal node answering the transfer verbs.
type endpoint struct {
	name   string
	engine *storage.MemoryEngine

	mu       sync.Mutex
	locked   bool
	receiver *Receiver
	moveTo   string
	moveRng  hashring.Range
	verbs    []control.Verb
	refuse   control.Verb
}

func (e *endpoint) handle(ctx context.Context, req control.Message) control.Message {
	e.mu.Lock()
	e.verbs = append(e.verbs, req.Verb)
	refuse := e.refuse
	e.mu.Unlock()

	reply := control.ReplyTo(req, e.name)
	if req.Verb == refuse {
		reply.Error = "refused"
		return reply
	}

	switch req.Verb {
	case control.VerbLock:
		e.mu.Lock()
		e.locked = true
		e.mu.Unlock()
	case control.VerbUnlock:
		e.mu.Lock()
		e.locked = false
		e.mu.Unlock()
	case control.VerbTransferReq:
		r, err := Listen("127.0.0.1", 0)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		e.mu.Lock()
		e.receiver = r
		e.mu.Unlock()
		reply.Value = strconv.Itoa(r.Port())
	case control.VerbMoveData:
		e.mu.Lock()
		e.moveTo, e.moveRng = req.Address, *req.Range
		e.mu.Unlock()
	case control.VerbTransferBegin:
		e.mu.Lock()
		receiver, moveTo, rng := e.receiver, e.moveTo, e.moveRng
		e.receiver, e.moveTo = nil, ""
		e.mu.Unlock()
		var err error
		switch {
		case receiver != nil:
			_, err = receiver.Receive(ctx, e.engine)
		case moveTo != "":
			_, err = Send(ctx, moveTo, e.engine, rng)
		default:
			err = fmt.Errorf("no transfer prepared")
		}
		if err != nil {
			reply.Error = err.Error()
		}
	}
	return reply
}

func (e *endpoint) isLocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked
}

type harness struct {
	store       *coordination.MemoryStore
	coordinator *Coordinator
	from, to    *endpoint
	fromNode    hashring.Node
	toNode      hashring.Node
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store := coordination.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	keys := cluster.NewKeys("")
	logger := logging.NewDevelopment()

	h := &harness{
		store:    store,
		from:     &endpoint{name: "a", engine: storage.NewMemoryEngine()},
		to:       &endpoint{name: "b", engine: storage.NewMemoryEngine()},
		fromNode: hashring.NewNode("a", "127.0.0.1", 7001),
		toNode:   hashring.NewNode("b", "127.0.0.1", 7002),
	}
	for _, ep := range []*endpoint{h.from, h.to} {
		mb := control.NewMailbox(store, keys, ep.name, logger)
		require.NoError(t, mb.Start(ctx, ep.handle))
	}
	ch := control.NewChannel(store, keys, "orchestrator", logger, nil)
	h.coordinator = NewCoordinator(ch, opts, logger, nil)
	return h
}

func defaultOptions() Options {
	return Options{ControlTimeout: 2 * time.Second, TransferTimeout: 10 * time.Second}
}

func TestCoordinator_Execute(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	rng := hashring.Range{Start: 1 << 62, End: 1 << 63}
	inRange := map[string]bool{}
	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("user:%d", i)
		require.NoError(t, h.from.engine.Put(ctx, key, []byte(key)))
		inRange[key] = rng.ContainsKey(key)
	}
	require.NoError(t, h.from.engine.Delete(ctx, "user:0"))

	err := h.coordinator.Execute(ctx, New(h.fromNode, h.toNode, rng))
	require.NoError(t, err)

	require.NoError(t, h.to.engine.Scan(ctx, storage.All, func(rec storage.Record) error {
		assert.True(t, inRange[rec.Key], "key %s outside range was sent", rec.Key)
		return nil
	}))
	for key, in := range inRange {
		if !in || key == "user:0" {
			continue
		}
		v, err := h.to.engine.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, string(v))
	}
	if inRange["user:0"] {
		_, err := h.to.engine.Get(ctx, "user:0")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}

	assert.False(t, h.to.isLocked())
	assert.Equal(t, []control.Verb{control.VerbLock, control.VerbTransferReq, control.VerbTransferBegin, control.VerbUnlock}, h.to.verbs)
	assert.Equal(t, []control.Verb{control.VerbMoveData, control.VerbTransferBegin}, h.from.verbs)
}

func TestCoordinator_KeepLocked(t *testing.T) {
	opts := defaultOptions()
	opts.KeepLocked = true
	h := newHarness(t, opts)

	require.NoError(t, h.coordinator.Execute(context.Background(),
		New(h.fromNode, h.toNode, hashring.Range{Start: 1, End: 2})))
	assert.True(t, h.to.isLocked())

	require.NoError(t, h.coordinator.Unlock(context.Background(), "b"))
	assert.False(t, h.to.isLocked())
}

func TestCoordinator_StepFailure(t *testing.T) {
	h := newHarness(t, defaultOptions())
	h.from.refuse = control.VerbMoveData

	err := h.coordinator.Execute(context.Background(),
		New(h.fromNode, h.toNode, hashring.Range{Start: 1, End: 2}))
	require.Error(t, err)
	assert.True(t, IsFailure(err))
	assert.ErrorIs(t, err, cluster.ErrRejected)

	// The receiver is unlocked again after the failure.
	assert.False(t, h.to.isLocked())
}

func TestCoordinator_UnreachableDestination(t *testing.T) {
	h := newHarness(t, Options{ControlTimeout: 200 * time.Millisecond, TransferTimeout: time.Second})
	ghost := hashring.NewNode("ghost", "127.0.0.1", 7999)

	err := h.coordinator.Execute(context.Background(), New(h.fromNode, ghost, hashring.Range{Start: 1, End: 2}))
	require.Error(t, err)
	assert.ErrorIs(t, err, cluster.ErrTransferFailure)
	assert.ErrorIs(t, err, cluster.ErrTimeout)
}

func TestAddress(t *testing.T) {
	addr, err := Address("10.0.0.1", "9000")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", addr)

	_, err = Address("10.0.0.1", "")
	assert.Error(t, err)
	_, err = Address("10.0.0.1", "99999")
	assert.Error(t, err)
}

func TestSendReceive_Direct(t *testing.T) {
	ctx := context.Background()
	src := storage.NewMemoryEngine()
	dst := storage.NewMemoryEngine()
	for i := 0; i < 50; i++ {
		require.NoError(t, src.Put(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}

	r, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	var received int
	var recvErr error
	done := make(chan struct{})
	go func() {
		received, recvErr = r.Receive(ctx, dst)
		close(done)
	}()

	full := hashring.Range{Start: 5, End: 5}
	sent, err := Send(ctx, hashring.JoinHostPort("127.0.0.1", r.Port()), src, full)
	require.NoError(t, err)
	<-done
	require.NoError(t, recvErr)
	assert.Equal(t, 50, sent)
	assert.Equal(t, 50, received)
	assert.Equal(t, 50, dst.Len())
}

func TestReceiver_AcceptTimeout(t *testing.T) {
	r, err := Listen("127.0.0.1", 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Receive(context.Background(), storage.NewMemoryEngine())
	assert.ErrorIs(t, err, cluster.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReceiver_CancelWhileWaiting(t *testing.T) {
	r, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = r.Receive(ctx, storage.NewMemoryEngine())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
