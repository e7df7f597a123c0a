package replication

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startIngress(t *testing.T, engine storage.Engine) *Ingress {
	t.Helper()
	in, err := NewIngress("127.0.0.1:0", engine, logging.NewDevelopment(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = in.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = in.Close()
	})
	return in
}

func TestReplication_FanOut(t *testing.T) {
	ctx := context.Background()
	b1, b2 := storage.NewMemoryEngine(), storage.NewMemoryEngine()
	in1, in2 := startIngress(t, b1), startIngress(t, b2)

	mgr := NewManager(logging.NewDevelopment(), nil)
	defer mgr.Close()
	require.NoError(t, mgr.Configure(ctx, []string{in1.Addr(), in2.Addr()}))
	assert.Len(t, mgr.Peers(), 2)

	mgr.Replicate(storage.Record{Key: "a", Value: []byte("1")})
	mgr.Replicate(storage.Record{Key: "b", Value: []byte("2")})
	mgr.Replicate(storage.Record{Key: "a", Tombstone: true})

	for _, e := range []*storage.MemoryEngine{b1, b2} {
		require.Eventually(t, func() bool {
			v, err := e.Get(ctx, "b")
			return err == nil && string(v) == "2"
		}, 5*time.Second, 20*time.Millisecond)
		require.Eventually(t, func() bool {
			_, err := e.Get(ctx, "a")
			return err == storage.ErrNotFound && e.Len() == 2
		}, 5*time.Second, 20*time.Millisecond)
	}
}

func TestReplication_UnreachableBackup(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	mgr := NewManager(logging.NewDevelopment(), nil)
	defer mgr.Close()

	err = mgr.Configure(context.Background(), []string{addr})
	assert.Error(t, err)
	assert.Empty(t, mgr.Peers())

	select {
	case f := <-mgr.Failures():
		assert.Equal(t, addr, f.Peer)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a failure report")
	}
}

func TestReplication_FailedWriteDropsBackup(t *testing.T) {
	backup := storage.NewMemoryEngine()
	in := startIngress(t, backup)

	mgr := NewManager(logging.NewDevelopment(), nil)
	defer mgr.Close()
	require.NoError(t, mgr.Configure(context.Background(), []string{in.Addr()}))

	require.NoError(t, in.Close())

	// Keep writing until the broken connection surfaces.
	require.Eventually(t, func() bool {
		mgr.Replicate(storage.Record{Key: "k", Value: make([]byte, 64<<10)})
		return len(mgr.Peers()) == 0
	}, 10*time.Second, 10*time.Millisecond)

	select {
	case f := <-mgr.Failures():
		assert.Equal(t, in.Addr(), f.Peer)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a failure report")
	}
}

func TestReplication_Reconfigure(t *testing.T) {
	b1, b2 := storage.NewMemoryEngine(), storage.NewMemoryEngine()
	in1, in2 := startIngress(t, b1), startIngress(t, b2)

	mgr := NewManager(logging.NewDevelopment(), nil)
	defer mgr.Close()
	require.NoError(t, mgr.Configure(context.Background(), []string{in1.Addr()}))
	require.NoError(t, mgr.Configure(context.Background(), []string{in2.Addr()}))
	assert.Equal(t, []string{in2.Addr()}, mgr.Peers())

	mgr.Replicate(storage.Record{Key: "x", Value: []byte("y")})
	require.Eventually(t, func() bool { return b2.Len() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, b1.Len())
}
