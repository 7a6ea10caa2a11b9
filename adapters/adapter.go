// Package adapters provides interfaces and shared utilities for event log
// and view store backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("chronicle: concurrency conflict")

	// ErrStreamNotFound is returned when a stream has no events.
	ErrStreamNotFound = errors.New("chronicle: stream not found")

	// ErrDocumentNotFound is returned when a projection document does not exist.
	ErrDocumentNotFound = errors.New("chronicle: document not found")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("chronicle: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("chronicle: no events to append")

	// ErrInvalidVersion is returned when an invalid version is specified.
	ErrInvalidVersion = errors.New("chronicle: invalid version")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("chronicle: adapter is closed")

	// ErrStorageUnavailable is returned for transient backend failures.
	// Callers at the projection/feed boundary retry these with backoff.
	ErrStorageUnavailable = errors.New("chronicle: storage unavailable")
)

// Metadata carries event context for tracing and audit trails.
// The fields are preserved across serialization.
type Metadata struct {
	// CorrelationID links related events across services.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event or command that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// UserID identifies who triggered this event.
	UserID string `json:"userId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// EventRecord is an event to be appended to a stream, before the log has
// assigned it a version and global sequence number.
type EventRecord struct {
	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata
}

// StoredEvent is a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// StreamID is the stream this event belongs to.
	StreamID string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the position within the stream (1-based, gapless).
	Version int64

	// GlobalSequence is the total-order position across all streams.
	GlobalSequence uint64

	// Timestamp is when the event was stored.
	Timestamp time.Time
}

// StreamInfo contains metadata about an event stream.
type StreamInfo struct {
	// StreamID is the stream identifier.
	StreamID string

	// Category is the aggregate type (first part of the stream ID).
	Category string

	// Version is the current stream version.
	Version int64

	// EventCount is the number of events in the stream.
	EventCount int64

	// CreatedAt is when the first event was stored.
	CreatedAt time.Time

	// UpdatedAt is when the last event was stored.
	UpdatedAt time.Time
}

// EventLogAdapter is the interface that storage backends must implement for
// the append-only event log. The log is the system of record: events are
// never mutated or deleted once appended.
type EventLogAdapter interface {
	// Append stores events to the specified stream with optimistic concurrency
	// control. Events are persisted atomically as one unit: either every event
	// receives a version and global sequence number, or none do.
	// expectedVersion specifies the expected current version of the stream:
	//   - AnyVersion (-1): skip the version check (unconditional append)
	//   - NoStream (0): the stream must not exist
	//   - StreamExists (-2): the stream must exist
	//   - any positive number: the stream must be at exactly this version
	// A mismatch fails with an error matching ErrConcurrencyConflict and
	// appends nothing.
	Append(ctx context.Context, streamID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// ReadStream retrieves events for a stream with Version >= fromVersion,
	// ascending. A stream with zero events fails with ErrStreamNotFound; a
	// fromVersion beyond the tip of an existing stream yields an empty slice.
	ReadStream(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, error)

	// ReadAllSince retrieves up to limit events across all streams with
	// GlobalSequence strictly greater than since, in ascending global order.
	// An empty result means no new data yet; callers poll. The feed is
	// restartable: re-reading from the same position yields the same prefix.
	ReadAllSince(ctx context.Context, since uint64, limit int) ([]StoredEvent, error)

	// StreamInfo returns metadata about a stream.
	// Returns an error matching ErrStreamNotFound if the stream does not exist.
	StreamInfo(ctx context.Context, streamID string) (*StreamInfo, error)

	// LastSequence returns the global sequence of the last stored event,
	// or 0 if no events exist.
	LastSequence(ctx context.Context) (uint64, error)

	// Initialize sets up the required storage schema.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// ViewStoreAdapter stores materialized projection documents and projection
// checkpoints. Documents are derived, disposable state: they can be rebuilt
// from the event log at any time.
type ViewStoreAdapter interface {
	// LoadDocument returns the document for (projection, key), or an error
	// matching ErrDocumentNotFound.
	LoadDocument(ctx context.Context, projection, key string) ([]byte, error)

	// CommitDocument upserts the document for (projection, key) and advances
	// the projection's checkpoint to position as a single atomic unit,
	// never one without the other.
	CommitDocument(ctx context.Context, projection, key string, doc []byte, position uint64) error

	// DeleteDocuments removes every document belonging to the projection.
	// Used by full rebuilds.
	DeleteDocuments(ctx context.Context, projection string) error

	// GetCheckpoint returns the highest global sequence fully applied by the
	// named projection, or 0 if no checkpoint exists.
	GetCheckpoint(ctx context.Context, projection string) (uint64, error)

	// SetCheckpoint advances the projection's checkpoint without touching any
	// document. Used when an event carries no registered handler.
	SetCheckpoint(ctx context.Context, projection string, position uint64) error

	// DeleteCheckpoint removes the checkpoint for a projection.
	DeleteCheckpoint(ctx context.Context, projection string) error
}

// SnapshotAdapter stores aggregate snapshots for faster loading.
// Snapshots are an optimization: the event log stays authoritative.
type SnapshotAdapter interface {
	// SaveSnapshot stores a snapshot for the given stream.
	SaveSnapshot(ctx context.Context, streamID string, version int64, data []byte) error

	// LoadSnapshot retrieves the latest snapshot for the given stream.
	// Returns nil, nil if no snapshot exists.
	LoadSnapshot(ctx context.Context, streamID string) (*SnapshotRecord, error)

	// DeleteSnapshot removes the snapshot for the given stream.
	DeleteSnapshot(ctx context.Context, streamID string) error
}

// SnapshotRecord is a stored aggregate snapshot.
type SnapshotRecord struct {
	// StreamID is the stream identifier.
	StreamID string

	// Version is the aggregate version at the time of the snapshot.
	Version int64

	// Data is the serialized snapshot payload.
	Data []byte
}

// StreamSummary contains summary information about a stream for listing.
type StreamSummary struct {
	// StreamID is the stream identifier.
	StreamID string

	// EventCount is the number of events in the stream.
	EventCount int64

	// LastEventType is the type of the most recent event.
	LastEventType string

	// LastUpdated is when the last event was stored.
	LastUpdated time.Time
}

// StreamQueryAdapter provides stream inspection capabilities for operator
// tooling. Adapters may optionally implement this.
type StreamQueryAdapter interface {
	// ListStreams returns stream summaries, filtered by ID prefix
	// (empty string for all) and capped at limit (0 for unlimited).
	ListStreams(ctx context.Context, prefix string, limit int) ([]StreamSummary, error)

	// ListCheckpoints returns the checkpoint position per projection name.
	ListCheckpoints(ctx context.Context) (map[string]uint64, error)
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the adapter can reach its backend.
	Ping(ctx context.Context) error
}
