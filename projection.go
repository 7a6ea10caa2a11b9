package chronicle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Projection transforms events into a materialized view: one document per
// entity, keyed by the event's stream ID. Projections are maintained
// incrementally and asynchronously by the ProjectionEngine; their documents
// and checkpoints are derived, disposable state, rebuildable from the event
// log at any time.
type Projection interface {
	// Name returns the unique identifier for this projection.
	// It keys the projection's documents and its checkpoint.
	Name() string

	// HandledEvents returns the event types this projection handles.
	// Events of other types advance the checkpoint without touching any
	// document; unlike an aggregate fold, unregistered types are tolerated
	// here, since a projection may care about only a subset of events.
	HandledEvents() []string

	// Apply applies one event's effect to the document identified by the
	// event's stream ID. doc is the current serialized document, or nil when
	// absent (the projection starts from a fresh default). It returns the
	// updated serialized document.
	//
	// Handlers must be idempotent: reprocessing an event after a crash must
	// converge on the same document.
	Apply(ctx context.Context, doc []byte, event Event) ([]byte, error)
}

// ViewStore is keyed storage for materialized projection documents and
// projection checkpoints. The projection engine is the sole writer per
// projection name, so no versioning or conflict detection is needed;
// writes are serialized by construction.
type ViewStore interface {
	// LoadDocument returns the document for (projection, key), or an error
	// matching ErrDocumentNotFound.
	LoadDocument(ctx context.Context, projection, key string) ([]byte, error)

	// CommitDocument upserts the document and advances the projection's
	// checkpoint to position as one atomic unit, never one without the
	// other.
	CommitDocument(ctx context.Context, projection, key string, doc []byte, position uint64) error

	// DeleteDocuments removes every document belonging to the projection.
	DeleteDocuments(ctx context.Context, projection string) error

	// GetCheckpoint returns the highest global sequence fully applied by the
	// named projection, or 0 if no checkpoint exists.
	GetCheckpoint(ctx context.Context, projection string) (uint64, error)

	// SetCheckpoint advances the checkpoint without touching any document.
	SetCheckpoint(ctx context.Context, projection string, position uint64) error

	// DeleteCheckpoint removes the checkpoint for a projection.
	DeleteCheckpoint(ctx context.Context, projection string) error
}

// DocumentProjection is a typed Projection over a document type T.
// Handlers are registered per event type and receive the deserialized
// document; the projection takes care of JSON round-tripping.
type DocumentProjection[T any] struct {
	name     string
	handlers map[string]func(doc *T, event Event) error
}

// NewProjection creates a DocumentProjection with the given name.
func NewProjection[T any](name string) *DocumentProjection[T] {
	return &DocumentProjection[T]{
		name:     name,
		handlers: make(map[string]func(doc *T, event Event) error),
	}
}

// On registers a handler for an event type. It returns the projection for
// chaining.
func (p *DocumentProjection[T]) On(eventType string, handler func(doc *T, event Event) error) *DocumentProjection[T] {
	p.handlers[eventType] = handler
	return p
}

// Name returns the projection name.
func (p *DocumentProjection[T]) Name() string {
	return p.name
}

// HandledEvents returns the registered event types, sorted for stable output.
func (p *DocumentProjection[T]) HandledEvents() []string {
	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Apply implements Projection. A nil doc starts from the zero value of T.
func (p *DocumentProjection[T]) Apply(ctx context.Context, doc []byte, event Event) ([]byte, error) {
	handler, ok := p.handlers[event.Type]
	if !ok {
		// The engine filters on HandledEvents; reaching here is a wiring bug.
		return nil, fmt.Errorf("chronicle: projection %q has no handler for event type %q", p.name, event.Type)
	}

	var model T
	if doc != nil {
		if err := json.Unmarshal(doc, &model); err != nil {
			return nil, fmt.Errorf("chronicle: projection %q failed to decode document %q: %w", p.name, event.StreamID, err)
		}
	}

	if err := handler(&model, event); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(&model)
	if err != nil {
		return nil, fmt.Errorf("chronicle: projection %q failed to encode document %q: %w", p.name, event.StreamID, err)
	}
	return updated, nil
}

// LoadProjection loads and decodes the document a projection maintains for
// the given key. Returns ErrDocumentNotFound when absent. Note eventual
// consistency: a just-appended event may not yet be reflected.
func LoadProjection[T any](ctx context.Context, views ViewStore, projection, key string) (*T, error) {
	doc, err := views.LoadDocument(ctx, projection, key)
	if err != nil {
		return nil, err
	}

	var model T
	if err := json.Unmarshal(doc, &model); err != nil {
		return nil, fmt.Errorf("chronicle: failed to decode document %q of projection %q: %w", key, projection, err)
	}
	return &model, nil
}

// ShouldHandleEventType reports whether a projection with the given handled
// types processes eventType. An empty list means all types.
func ShouldHandleEventType(handled []string, eventType string) bool {
	if len(handled) == 0 {
		return true
	}
	for _, t := range handled {
		if t == eventType {
			return true
		}
	}
	return false
}

// ProjectionState represents the lifecycle state of a projection worker.
type ProjectionState string

const (
	// ProjectionStateStopped indicates the projection is not running.
	ProjectionStateStopped ProjectionState = "stopped"

	// ProjectionStateRunning indicates the projection is processing events.
	ProjectionStateRunning ProjectionState = "running"

	// ProjectionStateCatchingUp indicates the projection is replaying history.
	ProjectionStateCatchingUp ProjectionState = "catching_up"

	// ProjectionStateFaulted indicates the projection halted at a failing event.
	ProjectionStateFaulted ProjectionState = "faulted"
)

// ProjectionStatus provides detailed information about a projection's
// current state.
type ProjectionStatus struct {
	// Name is the projection name.
	Name string

	// State is the current worker state.
	State ProjectionState

	// Checkpoint is the global sequence of the last fully applied event.
	Checkpoint uint64

	// EventsProcessed is the number of events applied since Start.
	EventsProcessed uint64

	// LastProcessedAt is when the last event was applied.
	LastProcessedAt time.Time

	// Error contains the halting error when the projection is faulted.
	Error string
}

// ProjectionMetrics collects metrics about projection processing.
type ProjectionMetrics interface {
	// RecordEventProcessed records that an event was applied.
	RecordEventProcessed(projection, eventType string, duration time.Duration, success bool)

	// RecordCheckpoint records a checkpoint advance.
	RecordCheckpoint(projection string, position uint64)

	// RecordError records a projection error.
	RecordError(projection string, err error)
}

// noopProjectionMetrics is a no-op implementation of ProjectionMetrics.
type noopProjectionMetrics struct{}

func (m *noopProjectionMetrics) RecordEventProcessed(projection, eventType string, duration time.Duration, success bool) {
}

func (m *noopProjectionMetrics) RecordCheckpoint(projection string, position uint64) {}

func (m *noopProjectionMetrics) RecordError(projection string, err error) {}

// IsRetryable reports whether an error should be retried with backoff.
// Only storage unavailability qualifies; conflicts, missing streams and
// handler failures never retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
