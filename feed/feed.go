// Package feed publishes committed events to external systems.
//
// Unlike a transactional outbox there is no second staging table: the event
// log itself is the queue. A Processor tails the global feed from its own
// checkpoint and pushes matching events to registered publishers (Kafka,
// SNS, webhooks), advancing the checkpoint only after a successful publish.
// Delivery is therefore at-least-once; consumers must be idempotent.
package feed

import (
	"context"
	"strings"
	"time"

	chronicle "github.com/chronicle-es/go-chronicle"
)

// Message is an event prepared for external delivery.
type Message struct {
	// ID is the unique event identifier.
	ID string

	// StreamID identifies the source stream.
	StreamID string

	// EventType is the event type identifier.
	EventType string

	// Destination is the target, e.g. "kafka:enrollments" or
	// "webhook:https://example.com/events".
	Destination string

	// Payload is the (possibly transformed) event payload.
	Payload []byte

	// Headers carry event context for the transport.
	Headers map[string]string

	// GlobalSequence is the event's total-order position.
	GlobalSequence uint64

	// Timestamp is when the event was stored.
	Timestamp time.Time
}

// Publisher delivers feed messages to an external system.
type Publisher interface {
	// Publish sends one or more messages to the external system.
	Publish(ctx context.Context, messages []*Message) error

	// Destination returns the destination prefix this publisher handles
	// (e.g. "kafka", "sns", "webhook").
	Destination() string
}

// Route selects which events go to which destination.
type Route struct {
	// EventTypes is the list of event types this route matches.
	// Empty matches all.
	EventTypes []string

	// Destination is the target, e.g. "kafka:enrollments".
	Destination string

	// Transform optionally rewrites the payload before delivery.
	// Nil delivers the stored payload unchanged.
	Transform func(event chronicle.StoredEvent) ([]byte, error)

	// Filter optionally drops events. Return true to include the event.
	Filter func(event chronicle.StoredEvent) bool
}

// Matches reports whether this route matches the given event type.
func (r *Route) Matches(eventType string) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, et := range r.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// CheckpointStore persists the processor's position in the feed.
// adapters.ViewStoreAdapter satisfies it.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, name string) (uint64, error)
	SetCheckpoint(ctx context.Context, name string, position uint64) error
}

// Metrics collects metrics about feed publishing.
type Metrics interface {
	RecordPublished(destination string, count int, success bool)
	RecordBatchDuration(duration time.Duration)
	RecordCheckpoint(position uint64)
}

type noopMetrics struct{}

func (m *noopMetrics) RecordPublished(destination string, count int, success bool) {}
func (m *noopMetrics) RecordBatchDuration(duration time.Duration)                  {}
func (m *noopMetrics) RecordCheckpoint(position uint64)                            {}

// DestinationPrefix extracts the prefix from a destination string.
// For example, "webhook:https://example.com" returns "webhook".
func DestinationPrefix(destination string) string {
	if idx := strings.Index(destination, ":"); idx > 0 {
		return destination[:idx]
	}
	return destination
}
