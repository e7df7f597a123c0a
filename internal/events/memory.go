package events

import (
	"context"
	"fmt"
	"sync"
)

const memoryBuffer = 1024

// MemoryBus implements Bus with one buffered channel per subject. Messages
// published before a subscriber arrives stay buffered for it.
type MemoryBus struct {
	channels      map[string]chan []byte
	subscriptions map[string]context.CancelFunc
	closed        bool
	mu            sync.Mutex
}

func newMemoryBus() *MemoryBus {
	return &MemoryBus{
		channels:      make(map[string]chan []byte),
		subscriptions: make(map[string]context.CancelFunc),
	}
}

// channel returns the subject's channel, creating it; callers hold mu.
func (b *MemoryBus) channel(subject string) chan []byte {
	ch, ok := b.channels[subject]
	if !ok {
		ch = make(chan []byte, memoryBuffer)
		b.channels[subject] = ch
	}
	return ch
}

// Publish enqueues a copy of data. A full subject buffer is an error.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memory bus closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	select {
	case b.channel(subject) <- dataCopy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("channel full for subject: %s", subject)
	}
}

// Subscribe starts a consumer goroutine for the subject
func (b *MemoryBus) Subscribe(subject string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memory bus closed")
	}
	if _, exists := b.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	ch := b.channel(subject)
	ctx, cancel := context.WithCancel(context.Background())
	b.subscriptions[subject] = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				// No redelivery in memory; failed messages are dropped.
				_ = handler(data)
			}
		}
	}()
	return nil
}

// Unsubscribe stops the subject's consumer
func (b *MemoryBus) Unsubscribe(subject string) error {
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

// Close stops every consumer and drops buffered messages
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for subject, cancel := range b.subscriptions {
		cancel()
		delete(b.subscriptions, subject)
	}
	for subject, ch := range b.channels {
		close(ch)
		delete(b.channels, subject)
	}
	return nil
}

// Pending returns the number of buffered messages for a subject
func (b *MemoryBus) Pending(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.channels[subject]; ok {
		return len(ch)
	}
	return 0
}
