package chronicle

import (
	"context"
	"errors"
	"fmt"

	"github.com/chronicle-es/go-chronicle/adapters"
)

// EventLog is the main entry point for event sourcing operations.
// It provides methods for appending events, reading streams, consuming the
// global feed, and loading aggregates. Every successful Append is durably
// persisted before returning; readers observe a monotonic, never-shrinking
// log.
type EventLog struct {
	adapter    adapters.EventLogAdapter
	serializer Serializer
	logger     Logger
}

// Logger defines the logging interface used across the library.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NoopLogger returns a Logger that discards all output.
func NoopLogger() Logger {
	return &noopLogger{}
}

// Option configures an EventLog.
type Option func(*EventLog)

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) Option {
	return func(log *EventLog) {
		log.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(log *EventLog) {
		log.logger = l
	}
}

// New creates a new EventLog with the given adapter and options.
func New(adapter adapters.EventLogAdapter, opts ...Option) *EventLog {
	log := &EventLog{
		adapter:    adapter,
		serializer: NewJSONSerializer(),
		logger:     &noopLogger{},
	}

	for _, opt := range opts {
		opt(log)
	}

	return log
}

// Serializer returns the event log's serializer.
func (l *EventLog) Serializer() Serializer {
	return l.serializer
}

// Adapter returns the underlying adapter.
func (l *EventLog) Adapter() adapters.EventLogAdapter {
	return l.adapter
}

// RegisterEvents registers event types with the serializer so payloads can
// be deserialized back to their original types.
func (l *EventLog) RegisterEvents(events ...interface{}) {
	type registrar interface {
		RegisterAll(examples ...interface{})
	}
	if r, ok := l.serializer.(registrar); ok {
		r.RegisterAll(events...)
	}
}

// AppendOption configures an append operation.
type AppendOption func(*appendConfig)

type appendConfig struct {
	metadata        Metadata
	expectedVersion int64
}

// ExpectVersion sets the expected stream version for optimistic concurrency.
// If the stream's current version differs, the append fails with
// ErrConcurrencyConflict and nothing is persisted.
func ExpectVersion(v int64) AppendOption {
	return func(c *appendConfig) {
		c.expectedVersion = v
	}
}

// WithAppendMetadata sets metadata for all events in the append operation.
func WithAppendMetadata(m Metadata) AppendOption {
	return func(c *appendConfig) {
		c.metadata = m
	}
}

// Append stores events to the specified stream. Events are Go structs which
// are serialized using the configured serializer. Each event is assigned the
// next stream version and the next global sequence number; the batch persists
// atomically as one unit.
//
// Without ExpectVersion the append is unconditional: no conflict is possible,
// but the caller loses optimistic safety.
func (l *EventLog) Append(ctx context.Context, streamID string, events []interface{}, opts ...AppendOption) error {
	if streamID == "" {
		return ErrEmptyStreamID
	}

	if len(events) == 0 {
		return ErrNoEvents
	}

	config := &appendConfig{
		expectedVersion: AnyVersion,
	}

	for _, opt := range opts {
		opt(config)
	}

	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		eventType := EventTypeOf(event)
		if eventType == "" {
			return NewSerializationError("", "serialize", fmt.Errorf("cannot determine event type"))
		}

		data, err := l.serializer.Serialize(event)
		if err != nil {
			return fmt.Errorf("chronicle: failed to serialize event %d: %w", i, err)
		}

		records[i] = adapters.EventRecord{
			Type:     eventType,
			Data:     data,
			Metadata: metadataToAdapter(config.metadata),
		}
	}

	_, err := l.adapter.Append(ctx, streamID, records, config.expectedVersion)
	return err
}

// ReadStream retrieves the ordered sequence of events for a stream with
// Version >= fromVersion, ascending, with payloads deserialized.
//
// A stream with zero events fails with ErrStreamNotFound when fromVersion
// is at the start; a fromVersion beyond the tip of an existing stream
// returns an empty slice and no error.
func (l *EventLog) ReadStream(ctx context.Context, streamID string, fromVersion int64) ([]Event, error) {
	stored, err := l.ReadStreamRaw(ctx, streamID, fromVersion)
	if err != nil {
		return nil, err
	}

	events := make([]Event, len(stored))
	for i, se := range stored {
		data, err := l.serializer.Deserialize(se.Data, se.Type)
		if err != nil {
			return nil, fmt.Errorf("chronicle: failed to deserialize event %d of stream %q: %w", i, streamID, err)
		}
		events[i] = EventFromStored(se, data)
	}

	return events, nil
}

// ReadStreamRaw retrieves raw (non-deserialized) events from a stream.
func (l *EventLog) ReadStreamRaw(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	if fromVersion < 1 {
		fromVersion = 1
	}

	stored, err := l.adapter.ReadStream(ctx, streamID, fromVersion)
	if err != nil {
		return nil, err
	}

	result := make([]StoredEvent, len(stored))
	for i, se := range stored {
		result[i] = storedEventFromAdapter(se)
	}
	return result, nil
}

// ReadAllSince retrieves up to limit events across all streams with
// GlobalSequence strictly greater than since, in ascending global order,
// with payloads deserialized. An empty result means no new data yet: the
// feed is unbounded in principle and callers poll. This is the feed the
// projection engine consumes.
func (l *EventLog) ReadAllSince(ctx context.Context, since uint64, limit int) ([]Event, error) {
	stored, err := l.adapter.ReadAllSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	events := make([]Event, len(stored))
	for i, se := range stored {
		data, err := l.serializer.Deserialize(se.Data, se.Type)
		if err != nil {
			return nil, fmt.Errorf("chronicle: failed to deserialize event at sequence %d: %w", se.GlobalSequence, err)
		}
		events[i] = EventFromStored(storedEventFromAdapter(se), data)
	}

	return events, nil
}

// ReadAllSinceRaw is ReadAllSince without payload deserialization.
func (l *EventLog) ReadAllSinceRaw(ctx context.Context, since uint64, limit int) ([]StoredEvent, error) {
	stored, err := l.adapter.ReadAllSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	result := make([]StoredEvent, len(stored))
	for i, se := range stored {
		result[i] = storedEventFromAdapter(se)
	}
	return result, nil
}

// LoadAggregate rebuilds an aggregate's state by folding its stream.
// The aggregate should be a fresh instance with its ID and type set.
// A snapshot, when the adapter stores one and the aggregate implements
// Snapshotter, seeds the fold; only events after the snapshot version are
// replayed. Returns ErrStreamNotFound when the stream has zero events.
func (l *EventLog) LoadAggregate(ctx context.Context, agg Aggregate) error {
	if agg == nil {
		return ErrNilAggregate
	}

	streamID := NewStreamID(agg.AggregateType(), agg.AggregateID()).String()
	fromVersion := int64(1)

	if snap, ok := agg.(Snapshotter); ok {
		if snapAdapter, ok := l.adapter.(adapters.SnapshotAdapter); ok {
			record, err := snapAdapter.LoadSnapshot(ctx, streamID)
			if err != nil {
				return fmt.Errorf("chronicle: failed to load snapshot for %q: %w", streamID, err)
			}
			if record != nil {
				if err := snap.UnmarshalSnapshot(record.Data); err != nil {
					return fmt.Errorf("chronicle: failed to restore snapshot for %q: %w", streamID, err)
				}
				if setter, ok := agg.(VersionSetter); ok {
					setter.SetVersion(record.Version)
				}
				fromVersion = record.Version + 1
			}
		}
	}

	events, err := l.ReadStream(ctx, streamID, fromVersion)
	if err != nil {
		// A snapshot with no later events is still a valid load.
		if fromVersion > 1 && errors.Is(err, ErrStreamNotFound) {
			return nil
		}
		return err
	}

	return Fold(agg, events)
}

// SaveAggregate persists an aggregate's uncommitted events, using the
// aggregate's loaded version for optimistic concurrency. On success the
// version advances by the number of events saved and the uncommitted list
// clears, allowing further modification without a reload.
func (l *EventLog) SaveAggregate(ctx context.Context, agg Aggregate) error {
	if agg == nil {
		return ErrNilAggregate
	}

	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	streamID := NewStreamID(agg.AggregateType(), agg.AggregateID()).String()
	expectedVersion := agg.Version()

	if err := l.Append(ctx, streamID, events, ExpectVersion(expectedVersion)); err != nil {
		return err
	}

	if setter, ok := agg.(VersionSetter); ok {
		setter.SetVersion(expectedVersion + int64(len(events)))
	}
	agg.ClearUncommittedEvents()

	return nil
}

// SaveSnapshot stores a snapshot of the aggregate's current state at its
// current version. No-op error if the adapter has no snapshot support.
func (l *EventLog) SaveSnapshot(ctx context.Context, agg Aggregate) error {
	if agg == nil {
		return ErrNilAggregate
	}

	snap, ok := agg.(Snapshotter)
	if !ok {
		return fmt.Errorf("chronicle: aggregate %T does not implement Snapshotter", agg)
	}

	snapAdapter, ok := l.adapter.(adapters.SnapshotAdapter)
	if !ok {
		return fmt.Errorf("chronicle: adapter %T does not support snapshots", l.adapter)
	}

	data, err := snap.MarshalSnapshot()
	if err != nil {
		return fmt.Errorf("chronicle: failed to marshal snapshot: %w", err)
	}

	streamID := NewStreamID(agg.AggregateType(), agg.AggregateID()).String()
	return snapAdapter.SaveSnapshot(ctx, streamID, agg.Version(), data)
}

// StreamInfo returns metadata about a stream.
func (l *EventLog) StreamInfo(ctx context.Context, streamID string) (*StreamInfo, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	info, err := l.adapter.StreamInfo(ctx, streamID)
	if err != nil {
		return nil, err
	}

	return &StreamInfo{
		StreamID:   info.StreamID,
		Category:   info.Category,
		Version:    info.Version,
		EventCount: info.EventCount,
		CreatedAt:  info.CreatedAt,
		UpdatedAt:  info.UpdatedAt,
	}, nil
}

// LastSequence returns the global sequence of the last stored event.
func (l *EventLog) LastSequence(ctx context.Context) (uint64, error) {
	return l.adapter.LastSequence(ctx)
}

// Initialize sets up the required storage schema.
func (l *EventLog) Initialize(ctx context.Context) error {
	return l.adapter.Initialize(ctx)
}

// Close releases resources held by the event log.
func (l *EventLog) Close() error {
	return l.adapter.Close()
}

// Conversion helpers between root and adapter representations.

func metadataToAdapter(m Metadata) adapters.Metadata {
	return adapters.Metadata{
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		UserID:        m.UserID,
		Custom:        m.Custom,
	}
}

func metadataFromAdapter(m adapters.Metadata) Metadata {
	return Metadata{
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		UserID:        m.UserID,
		Custom:        m.Custom,
	}
}

func storedEventFromAdapter(s adapters.StoredEvent) StoredEvent {
	return StoredEvent{
		ID:             s.ID,
		StreamID:       s.StreamID,
		Type:           s.Type,
		Data:           s.Data,
		Metadata:       metadataFromAdapter(s.Metadata),
		Version:        s.Version,
		GlobalSequence: s.GlobalSequence,
		Timestamp:      s.Timestamp,
	}
}
