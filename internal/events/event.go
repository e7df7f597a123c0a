package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soltixdb/ringkv/internal/logging"
)

// DefaultPrefix is the subject prefix used when none is configured
const DefaultPrefix = "ringkv"

// Type classifies a cluster event; it is also the subject suffix
type Type string

const (
	// TypeRingCommitted follows every ring publication
	TypeRingCommitted Type = "ring.committed"
	// TypeNodeDropped is emitted when an operation abandons a node
	TypeNodeDropped Type = "node.dropped"
	// TypeNodeFailed is emitted when a registered node disappears
	TypeNodeFailed Type = "node.failed"
)

// AllTypes lists every event type in subscription order
var AllTypes = []Type{TypeRingCommitted, TypeNodeDropped, TypeNodeFailed}

// Event is the JSON payload published on the bus
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Time      time.Time `json:"time"`
	Operation string    `json:"operation,omitempty"`
	Node      string    `json:"node,omitempty"`
	Step      string    `json:"step,omitempty"`
	Ring      []string  `json:"ring,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Emitter publishes events under "<prefix>.<type>". Publication is best
// effort: failures are logged and never surface to the caller.
type Emitter struct {
	bus    Bus
	prefix string
	logger *logging.Logger
}

// NewEmitter creates an emitter. A nil bus yields an emitter that only logs.
func NewEmitter(bus Bus, prefix string, logger *logging.Logger) *Emitter {
	return &Emitter{bus: bus, prefix: subjectPrefix(prefix), logger: logger}
}

// Subject returns the subject an event type is published on
func (e *Emitter) Subject(t Type) string {
	return Subject(e.prefix, t)
}

// Subject joins a prefix and an event type
func Subject(prefix string, t Type) string {
	return subjectPrefix(prefix) + "." + string(t)
}

// Emit stamps and publishes an event
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	e.logger.Debug("Cluster event", "type", ev.Type, "node", ev.Node, "operation", ev.Operation)
	if e.bus == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("Failed to encode event", "type", ev.Type, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, e.Subject(ev.Type), data); err != nil {
		e.logger.Warn("Failed to publish event", "type", ev.Type, "error", err)
	}
}

// Recorder subscribes to every event type and keeps the most recent ones
type Recorder struct {
	bus      Bus
	prefix   string
	capacity int
	logger   *logging.Logger

	mu     sync.RWMutex
	events []Event
}

// NewRecorder creates a recorder holding at most capacity events
func NewRecorder(bus Bus, prefix string, capacity int, logger *logging.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Recorder{
		bus:      bus,
		prefix:   subjectPrefix(prefix),
		capacity: capacity,
		logger:   logger,
	}
}

// Start subscribes to all event subjects. It is a no-op without a bus.
func (r *Recorder) Start() error {
	if r.bus == nil {
		return nil
	}
	for _, t := range AllTypes {
		if err := r.bus.Subscribe(Subject(r.prefix, t), r.handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

func (r *Recorder) handle(data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		// Unparseable payloads are acknowledged and skipped
		r.logger.Warn("Dropping malformed event", "error", err)
		return nil
	}

	r.mu.Lock()
	r.events = append(r.events, ev)
	if over := len(r.events) - r.capacity; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	r.mu.Unlock()
	return nil
}

// Events returns up to limit recorded events ordered by time, oldest first.
// limit <= 0 returns everything.
func (r *Recorder) Events(limit int) []Event {
	r.mu.RLock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	r.mu.RUnlock()

	// Subjects are consumed independently, so arrival order is per type only
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
