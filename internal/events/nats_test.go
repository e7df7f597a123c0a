package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startNATS runs an embedded JetStream server for the test
func startNATS(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestNATSBus_ReplayAndLive(t *testing.T) {
	url := startNATS(t)

	b, err := NewBus(config.EventsConfig{Type: "nats", URL: url, Subject: "ringkv"})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "ringkv.ring.committed", []byte("early")))

	var mu sync.Mutex
	var got []string
	require.NoError(t, b.Subscribe("ringkv.ring.committed", func(data []byte) error {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
		return nil
	}))
	require.NoError(t, b.Publish(ctx, "ringkv.ring.committed", []byte("late")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"early", "late"}, got)
	mu.Unlock()

	require.NoError(t, b.Unsubscribe("ringkv.ring.committed"))
	assert.Error(t, b.Unsubscribe("ringkv.ring.committed"))
}

func TestNATSBus_SubjectOutsidePrefix(t *testing.T) {
	url := startNATS(t)

	b, err := newNATSBus(NATSConfig{URL: url, Prefix: "ringkv"})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Error(t, b.Publish(context.Background(), "other.subject", nil))
	assert.Error(t, b.Subscribe("other.subject", func([]byte) error { return nil }))
}

func TestNATSBus_Recorder(t *testing.T) {
	url := startNATS(t)

	b, err := newNATSBus(NATSConfig{URL: url, Prefix: "cluster1"})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	logger := logging.NewNop()
	rec := NewRecorder(b, "cluster1", 16, logger)
	require.NoError(t, rec.Start())

	NewEmitter(b, "cluster1", logger).Emit(context.Background(), Event{Type: TypeNodeFailed, Node: "n1"})
	assert.Eventually(t, func() bool { return len(rec.Events(0)) == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestNewNATSBus_Unreachable(t *testing.T) {
	_, err := newNATSBus(NATSConfig{URL: "nats://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "ringkv_ring_committed", sanitizeName("ringkv.ring.committed"))
	assert.Equal(t, "a-b_c", sanitizeName("a-b_c"))
}
