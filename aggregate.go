package chronicle

import "fmt"

// Aggregate defines the interface for event-sourced aggregates.
// An aggregate is a domain object whose state is derived entirely from an
// ordered sequence of events. The event log stays the system of record:
// aggregate state is never persisted directly.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the category of this aggregate (e.g., "Student").
	AggregateType() string

	// Version returns the stream version the aggregate state reflects.
	Version() int64

	// ApplyEvent applies an event payload to update the aggregate's state.
	// Implementations dispatch on the payload's concrete type with an
	// exhaustive switch and MUST return an error matching ErrUnknownEventType
	// for any type they do not handle. Silently ignoring an event would let
	// schema drift go unnoticed.
	//
	// ApplyEvent must be deterministic: no wall-clock reads, no randomness,
	// no iteration over unordered containers that affects the result.
	ApplyEvent(event interface{}) error

	// UncommittedEvents returns events that have been applied but not yet persisted.
	UncommittedEvents() []interface{}

	// ClearUncommittedEvents removes all uncommitted events after successful persistence.
	ClearUncommittedEvents()
}

// VersionSetter lets the log update an aggregate's version after load/save.
// AggregateBase implements it.
type VersionSetter interface {
	SetVersion(v int64)
}

// AggregateBase provides a default partial implementation of the Aggregate
// interface. Embed this struct in your aggregate types.
type AggregateBase struct {
	id                string
	aggregateType     string
	version           int64
	uncommittedEvents []interface{}
}

// NewAggregateBase creates a new AggregateBase with the given ID and type.
func NewAggregateBase(id, aggregateType string) AggregateBase {
	return AggregateBase{
		id:            id,
		aggregateType: aggregateType,
	}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// SetID sets the aggregate's ID.
func (a *AggregateBase) SetID(id string) {
	a.id = id
}

// AggregateType returns the aggregate type.
func (a *AggregateBase) AggregateType() string {
	return a.aggregateType
}

// Version returns the stream version the aggregate state reflects.
func (a *AggregateBase) Version() int64 {
	return a.version
}

// SetVersion sets the aggregate version.
func (a *AggregateBase) SetVersion(v int64) {
	a.version = v
}

// IncrementVersion increments the aggregate version by 1.
func (a *AggregateBase) IncrementVersion() {
	a.version++
}

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateBase) UncommittedEvents() []interface{} {
	return a.uncommittedEvents
}

// ClearUncommittedEvents removes all uncommitted events.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommittedEvents = nil
}

// Record marks an event as uncommitted. The aggregate should call this after
// updating its own state for the event.
func (a *AggregateBase) Record(event interface{}) {
	a.uncommittedEvents = append(a.uncommittedEvents, event)
}

// HasUncommittedEvents returns true if there are events waiting to be persisted.
func (a *AggregateBase) HasUncommittedEvents() bool {
	return len(a.uncommittedEvents) > 0
}

// StreamID returns the stream ID for this aggregate.
func (a *AggregateBase) StreamID() StreamID {
	return NewStreamID(a.aggregateType, a.id)
}

// Fold applies an ordered event sequence to an aggregate, in ascending
// stream-version order, producing the aggregate's final state. It is pure
// over its inputs: the same sequence always folds to the same state.
//
// An event type the aggregate does not handle fails the whole fold with an
// error matching ErrUnknownEventType; no partial application survives in a
// useful sense since callers must discard the aggregate on error.
func Fold(agg Aggregate, events []Event) error {
	if agg == nil {
		return ErrNilAggregate
	}

	for _, event := range events {
		if err := agg.ApplyEvent(event.Data); err != nil {
			return fmt.Errorf("chronicle: fold of stream %q stopped at version %d: %w",
				event.StreamID, event.Version, err)
		}
	}

	if setter, ok := agg.(VersionSetter); ok && len(events) > 0 {
		setter.SetVersion(events[len(events)-1].Version)
	}

	return nil
}

// Snapshotter is implemented by aggregates that support snapshot-based loads.
// Snapshots are an optimization: a fold starting from a snapshot must yield
// the same state as a fold from the beginning of the stream.
type Snapshotter interface {
	// MarshalSnapshot serializes the aggregate's current state.
	MarshalSnapshot() ([]byte, error)

	// UnmarshalSnapshot restores the aggregate's state from a snapshot.
	UnmarshalSnapshot(data []byte) error
}
