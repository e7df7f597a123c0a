package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig represents Redis Streams configuration
type RedisConfig struct {
	URL      string // Redis URL (e.g., redis://localhost:6379)
	Password string // Optional password
	DB       int    // Database number (default: 0)
	Stream   string // Stream prefix (default: "ringkv")
	Group    string // Consumer group name (default: "ringkv-group")
	Consumer string // Consumer name (default: hostname)
}

// RedisBus implements Bus using Redis Streams with a consumer group
type RedisBus struct {
	client        *redis.Client
	config        RedisConfig
	subscriptions map[string]context.CancelFunc
	mu            sync.Mutex
}

func newRedisBus(cfg RedisConfig) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.Stream == "" {
		cfg.Stream = DefaultPrefix
	}
	if cfg.Group == "" {
		cfg.Group = DefaultPrefix + "-group"
	}
	if cfg.Consumer == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "consumer-1"
		}
		cfg.Consumer = hostname
	}

	return &RedisBus{
		client:        client,
		config:        cfg,
		subscriptions: make(map[string]context.CancelFunc),
	}, nil
}

func (b *RedisBus) streamName(subject string) string {
	return b.config.Stream + ":" + subject
}

// Publish appends a message to the subject's stream
func (b *RedisBus) Publish(ctx context.Context, subject string, data []byte) error {
	stream := b.streamName(subject)
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 100000,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis stream %s: %w", stream, err)
	}
	return nil
}

// Subscribe joins the consumer group from the start of the stream
func (b *RedisBus) Subscribe(subject string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	stream := b.streamName(subject)
	ctx, cancel := context.WithCancel(context.Background())

	err := b.client.XGroupCreateMkStream(ctx, stream, b.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		cancel()
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	go b.readStream(ctx, stream, handler)

	b.subscriptions[subject] = cancel
	return nil
}

func (b *RedisBus) readStream(ctx context.Context, stream string, handler MessageHandler) {
	for ctx.Err() == nil {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.config.Group,
			Consumer: b.config.Consumer,
			Streams:  []string{stream, ">"},
			Count:    100,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				time.Sleep(time.Second)
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					b.client.XAck(ctx, stream, b.config.Group, msg.ID)
					continue
				}
				if err := handler([]byte(data)); err != nil {
					continue
				}
				b.client.XAck(ctx, stream, b.config.Group, msg.ID)
			}
		}
	}
}

// Unsubscribe stops reading the subject's stream
func (b *RedisBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cancel, exists := b.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	cancel()
	delete(b.subscriptions, subject)
	return nil
}

// Close stops all readers and closes the client
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subject, cancel := range b.subscriptions {
		cancel()
		delete(b.subscriptions, subject)
	}
	return b.client.Close()
}
