package events

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisURL() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url
	}
	return "redis://localhost:6379"
}

func TestRedisBus(t *testing.T) {
	b, err := newRedisBus(RedisConfig{URL: redisURL(), Stream: "test-" + uuid.New().String()})
	if err != nil {
		t.Skip("Redis not available, skipping test")
	}
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "node.failed", []byte("n1")))

	var got atomic.Int32
	require.NoError(t, b.Subscribe("node.failed", func(data []byte) error {
		got.Add(1)
		return nil
	}))
	require.NoError(t, b.Publish(ctx, "node.failed", []byte("n2")))

	assert.Eventually(t, func() bool { return got.Load() == 2 }, 10*time.Second, 50*time.Millisecond)
	b.client.Del(ctx, b.streamName("node.failed"))
}
