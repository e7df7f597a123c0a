package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig represents Apache Kafka configuration
type KafkaConfig struct {
	Brokers      []string      // Kafka broker addresses
	GroupID      string        // Consumer group ID (default: ringkv-group)
	BatchTimeout time.Duration // Producer batch timeout (default: 10ms)
	MaxRetries   int           // Producer attempts per message (default: 3)
}

// KafkaBus implements Bus with one topic per subject
type KafkaBus struct {
	config        KafkaConfig
	writers       map[string]*kafka.Writer
	readers       map[string]*kafka.Reader
	subscriptions map[string]context.CancelFunc
	mu            sync.Mutex
}

func newKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultPrefix + "-group"
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &KafkaBus{
		config:        cfg,
		writers:       make(map[string]*kafka.Writer),
		readers:       make(map[string]*kafka.Reader),
		subscriptions: make(map[string]context.CancelFunc),
	}, nil
}

func (b *KafkaBus) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(b.config.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           b.config.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            b.config.MaxRetries,
		AllowAutoTopicCreation: true,
	}
	b.writers[topic] = w
	return w
}

// Publish writes one message to the subject's topic
func (b *KafkaBus) Publish(ctx context.Context, subject string, data []byte) error {
	msg := kafka.Message{Value: data, Time: time.Now()}
	if err := b.writer(subject).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", subject, err)
	}
	return nil
}

// Subscribe reads the topic through the consumer group
func (b *KafkaBus) Subscribe(subject string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to topic: %s", subject)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.config.Brokers,
		GroupID:     b.config.GroupID,
		Topic:       subject,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.readers[subject] = reader
	b.subscriptions[subject] = cancel

	go b.consume(ctx, reader, handler)
	return nil
}

func (b *KafkaBus) consume(ctx context.Context, reader *kafka.Reader, handler MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err := handler(msg.Value); err != nil {
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// Unsubscribe stops the topic's reader
func (b *KafkaBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cancel, exists := b.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", subject)
	}
	cancel()
	if reader, ok := b.readers[subject]; ok {
		_ = reader.Close()
		delete(b.readers, subject)
	}
	delete(b.subscriptions, subject)
	return nil
}

// Close closes every reader and writer
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for subject, cancel := range b.subscriptions {
		cancel()
		if reader, ok := b.readers[subject]; ok {
			if err := reader.Close(); err != nil {
				lastErr = err
			}
		}
		delete(b.subscriptions, subject)
		delete(b.readers, subject)
	}
	for topic, w := range b.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
		delete(b.writers, topic)
	}
	return lastErr
}
