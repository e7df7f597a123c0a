package control

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/coordination"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/client/pkg/v3/types"
	"go.etcd.io/etcd/server/v3/embed"
)

func TestMailbox_IgnoresRepliesAndOwnWrites(t *testing.T) {
	store := coordination.NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	startMailbox(t, ctx, store, "n1", func(ctx context.Context, req Message) Message {
		handled.Add(1)
		return Message{}
	})

	reply, err := newTestChannel(store).SendAndAwait(ctx, "n1", Message{Verb: VerbUnlock}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, VerbUnlockAck, reply.Verb)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), handled.Load())
}

func TestMailbox_OnReplied(t *testing.T) {
	store := coordination.NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replied := make(chan Message, 1)
	mb := NewMailbox(store, cluster.NewKeys(""), "n1", logging.NewNop())
	mb.OnReplied(func(req, reply Message) {
		// The reply is already visible to the sender at this point
		_, _, err := store.Get(ctx, cluster.NewKeys("").Mailbox("n1"))
		assert.NoError(t, err)
		replied <- reply
	})
	require.NoError(t, mb.Start(ctx, func(ctx context.Context, req Message) Message { return Message{} }))

	_, err := newTestChannel(store).SendAndAwait(ctx, "n1", Message{Verb: VerbShutdown}, 2*time.Second)
	require.NoError(t, err)

	select {
	case reply := <-replied:
		assert.Equal(t, VerbShutdownAck, reply.Verb)
		assert.Equal(t, "n1", reply.Sender)
	case <-time.After(2 * time.Second):
		t.Fatal("OnReplied not called")
	}
}

func TestMailbox_StopsWithContext(t *testing.T) {
	store := coordination.NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx, cancel := context.WithCancel(context.Background())

	mb := startMailbox(t, ctx, store, "n1", func(ctx context.Context, req Message) Message { return Message{} })
	cancel()

	select {
	case <-mb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("mailbox did not stop")
	}
}

func TestMailbox_StopsWhenStoreCloses(t *testing.T) {
	store := coordination.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mb := startMailbox(t, ctx, store, "n1", func(ctx context.Context, req Message) Message { return Message{} })
	require.NoError(t, store.Close())

	select {
	case <-mb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("mailbox kept re-arming on a closed store")
	}
}

func TestChannel_OverEtcd(t *testing.T) {
	dir, err := os.MkdirTemp("", "ringkv-control-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(dir) }()

	cfg := embed.NewConfig()
	cfg.Dir = dir
	cfg.ListenClientUrls, _ = types.NewURLs([]string{"http://127.0.0.1:0"})
	cfg.ListenPeerUrls, _ = types.NewURLs([]string{"http://127.0.0.1:0"})
	cfg.LogLevel = "error"
	cfg.Logger = "zap"

	e, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	defer e.Close()

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		t.Fatal("Etcd server took too long to start")
	}

	store, err := coordination.NewEtcdStore([]string{e.Clients[0].Addr().String()}, 5*time.Second, logging.NewDevelopment())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startMailbox(t, ctx, store, "n1", func(ctx context.Context, req Message) Message {
		return ReplyTo(req, "n1")
	})

	for _, verb := range []Verb{VerbInit, VerbStart, VerbStop} {
		reply, err := newTestChannel(store).SendAndAwait(ctx, "n1", Message{Verb: verb}, 5*time.Second)
		require.NoError(t, err)
		want, _ := verb.Reply()
		assert.Equal(t, want, reply.Verb)
	}

	start := time.Now()
	_, err = newTestChannel(store).SendAndAwait(ctx, "nobody", Message{Verb: VerbLock}, 500*time.Millisecond)
	assert.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}
