package events

import "context"

// Bus carries cluster notifications between the orchestrator and anything
// watching it (dashboards, alerting, the admin API).
type Bus interface {
	// Publish publishes a message to a subject/topic
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe subscribes to a subject/topic with a handler
	Subscribe(subject string, handler MessageHandler) error

	// Unsubscribe unsubscribes from a subject/topic
	Unsubscribe(subject string) error

	// Close closes the connection
	Close() error
}

// MessageHandler handles incoming messages. A non-nil error leaves the
// message unacknowledged on backends that support redelivery.
type MessageHandler func(data []byte) error
