package chronicle

import (
	"errors"
	"fmt"

	"github.com/chronicle-es/go-chronicle/adapters"
)

// Sentinel errors for common conditions. Use errors.Is() to check for these.
// Log and view store conditions are aliases to the adapters package errors
// so both layers match the same sentinels.
var (
	// ErrStreamNotFound indicates the requested stream has zero events.
	// This is absence, not a fault: callers handle it as an ordinary result.
	ErrStreamNotFound = adapters.ErrStreamNotFound

	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	// The caller should re-read current state and retry.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrDocumentNotFound indicates the requested projection document does not exist.
	ErrDocumentNotFound = adapters.ErrDocumentNotFound

	// ErrStorageUnavailable indicates a transient backend failure.
	// The projection engine retries these with backoff.
	ErrStorageUnavailable = adapters.ErrStorageUnavailable

	// ErrUnknownEventType indicates a fold encountered an event type with no
	// transition function. This is a schema/versioning bug: it is fatal to
	// the fold and never silently skipped.
	ErrUnknownEventType = errors.New("chronicle: unknown event type")

	// ErrSerializationFailed indicates event serialization or deserialization failed.
	ErrSerializationFailed = errors.New("chronicle: serialization failed")

	// ErrEventTypeNotRegistered indicates an event type missing from the registry.
	ErrEventTypeNotRegistered = errors.New("chronicle: event type not registered")

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("chronicle: nil aggregate")

	// ErrEmptyStreamID indicates an empty stream ID was provided.
	ErrEmptyStreamID = adapters.ErrEmptyStreamID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrInvalidVersion indicates an invalid version number was provided.
	ErrInvalidVersion = adapters.ErrInvalidVersion

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrProjectionHalted indicates a projection worker stopped at a failing
	// event and will not advance until the cause is resolved.
	ErrProjectionHalted = errors.New("chronicle: projection halted")

	// ErrNilProjection indicates a nil projection was registered.
	ErrNilProjection = errors.New("chronicle: nil projection")

	// ErrEmptyProjectionName indicates a projection with an empty name.
	ErrEmptyProjectionName = errors.New("chronicle: projection name is required")

	// ErrProjectionAlreadyRegistered indicates a duplicate projection name.
	ErrProjectionAlreadyRegistered = errors.New("chronicle: projection already registered")

	// ErrProjectionNotFound indicates no projection with the given name is registered.
	ErrProjectionNotFound = errors.New("chronicle: projection not found")

	// ErrEngineAlreadyRunning indicates Start was called on a running engine.
	ErrEngineAlreadyRunning = errors.New("chronicle: projection engine already running")
)

// ConcurrencyError provides detailed information about a concurrency conflict.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

// Error returns the error message.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("chronicle: concurrency conflict on stream %q: expected version %d, actual version %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is reports whether this error matches the target error.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		StreamID:        streamID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// StreamNotFoundError provides detailed information about a missing stream.
type StreamNotFoundError struct {
	StreamID string
}

// Error returns the error message.
func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("chronicle: stream %q not found", e.StreamID)
}

// Is reports whether this error matches the target error.
func (e *StreamNotFoundError) Is(target error) bool {
	return target == ErrStreamNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *StreamNotFoundError) Unwrap() error {
	return ErrStreamNotFound
}

// NewStreamNotFoundError creates a new StreamNotFoundError.
func NewStreamNotFoundError(streamID string) *StreamNotFoundError {
	return &StreamNotFoundError{StreamID: streamID}
}

// UnknownEventTypeError reports an event type with no transition function
// encountered during a fold.
type UnknownEventTypeError struct {
	StreamID  string
	EventType string
	Version   int64
}

// Error returns the error message.
func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("chronicle: unknown event type %q at version %d of stream %q",
		e.EventType, e.Version, e.StreamID)
}

// Is reports whether this error matches the target error.
func (e *UnknownEventTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *UnknownEventTypeError) Unwrap() error {
	return ErrUnknownEventType
}

// NewUnknownEventTypeError creates a new UnknownEventTypeError.
func NewUnknownEventTypeError(streamID, eventType string, version int64) *UnknownEventTypeError {
	return &UnknownEventTypeError{StreamID: streamID, EventType: eventType, Version: version}
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("chronicle: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// ProjectionError reports a projection handler failure for a specific event.
// It halts that projection's progress; other projections and the aggregate
// path are unaffected.
type ProjectionError struct {
	Projection     string
	EventType      string
	StreamID       string
	GlobalSequence uint64
	Cause          error
}

// Error returns the error message.
func (e *ProjectionError) Error() string {
	return fmt.Sprintf("chronicle: projection %q failed on %s event of stream %q at sequence %d: %v",
		e.Projection, e.EventType, e.StreamID, e.GlobalSequence, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *ProjectionError) Is(target error) bool {
	return target == ErrProjectionHalted
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *ProjectionError) Unwrap() error {
	return e.Cause
}
