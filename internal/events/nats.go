package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig represents NATS JetStream configuration
type NATSConfig struct {
	URL      string // e.g. nats://localhost:4222
	Username string
	Password string
	Prefix   string // every subject must live under "<Prefix>."
}

// NATSBus implements Bus using NATS JetStream. A single stream captures
// "<prefix>.>" so late subscribers can replay history.
type NATSBus struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	prefix        string
	subscriptions map[string]*nats.Subscription
	mu            sync.Mutex
}

func newNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{nats.Name("ringkv-events")}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b, err := newNATSBusWithConn(conn, subjectPrefix(cfg.Prefix))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// newNATSBusWithConn wraps an existing connection and ensures the stream
func newNATSBusWithConn(conn *nats.Conn, prefix string) (*NATSBus, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamName := sanitizeName(prefix) + "-events"
	if _, err := js.StreamInfo(streamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{prefix + ".>"},
			Storage:  nats.FileStorage,
			MaxMsgs:  100000,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}
	}

	return &NATSBus{
		conn:          conn,
		js:            js,
		prefix:        prefix,
		subscriptions: make(map[string]*nats.Subscription),
	}, nil
}

func (b *NATSBus) checkSubject(subject string) error {
	if !strings.HasPrefix(subject, b.prefix+".") {
		return fmt.Errorf("subject %s is outside stream prefix %s", subject, b.prefix)
	}
	return nil
}

// Publish publishes synchronously and waits for the stream ack
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := b.checkSubject(subject); err != nil {
		return err
	}
	var opts []nats.PubOpt
	if _, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Context(ctx))
	}
	if _, err := b.js.Publish(subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches a durable consumer that replays the subject's history
func (b *NATSBus) Subscribe(subject string, handler MessageHandler) error {
	if err := b.checkSubject(subject); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("consumer-"+sanitizeName(subject)),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(3),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	b.subscriptions[subject] = sub
	return nil
}

// Unsubscribe unsubscribes from a subject
func (b *NATSBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from subject %s: %w", subject, err)
	}
	delete(b.subscriptions, subject)
	return nil
}

// Close drops all subscriptions and the connection
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subject, sub := range b.subscriptions {
		_ = sub.Unsubscribe()
		delete(b.subscriptions, subject)
	}
	b.conn.Close()
	return nil
}

// sanitizeName maps a subject to the [A-Za-z0-9_-] alphabet JetStream
// requires for stream and consumer names
func sanitizeName(subject string) string {
	result := make([]byte, 0, len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			result = append(result, c)
		} else {
			result = append(result, '_')
		}
	}
	return string(result)
}
