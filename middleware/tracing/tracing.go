// Package tracing provides OpenTelemetry integration for chronicle.
//
// NewEventLogMiddleware wraps an event log adapter so every append and read
// becomes a client span, and NewProjectionMiddleware wraps a projection so
// each handled event becomes an internal span carrying the stream, type and
// global sequence of the event.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("registry"))
//	log := chronicle.New(tracing.NewEventLogMiddleware(adapter, tracer))
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	chronicle "github.com/chronicle-es/go-chronicle"
	"github.com/chronicle-es/go-chronicle/adapters"
)

const (
	// TracerName is the name of the chronicle tracer.
	TracerName = "github.com/chronicle-es/go-chronicle"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "chronicle"
)

// Tracer wraps an OpenTelemetry tracer for chronicle operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// EventLogMiddleware wraps an EventLogAdapter with tracing.
type EventLogMiddleware struct {
	adapter adapters.EventLogAdapter
	tracer  *Tracer
}

var _ adapters.EventLogAdapter = (*EventLogMiddleware)(nil)

// NewEventLogMiddleware wraps an adapter with tracing.
func NewEventLogMiddleware(adapter adapters.EventLogAdapter, tracer *Tracer) *EventLogMiddleware {
	return &EventLogMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Append stores events with tracing.
func (m *EventLogMiddleware) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.append",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.stream_id", streamID),
		attribute.Int64("chronicle.expected_version", expectedVersion),
		attribute.Int("chronicle.events.count", len(events)),
	)

	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("chronicle.events.types", eventTypes))
	}

	stored, err := m.adapter.Append(ctx, streamID, events, expectedVersion)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		if len(stored) > 0 {
			last := stored[len(stored)-1]
			span.SetAttributes(
				attribute.Int64("chronicle.stored.version", last.Version),
				attribute.Int64("chronicle.stored.global_sequence", int64(last.GlobalSequence)),
			)
		}
	}

	return stored, err
}

// ReadStream retrieves stream events with tracing.
func (m *EventLogMiddleware) ReadStream(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.read_stream",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.stream_id", streamID),
		attribute.Int64("chronicle.from_version", fromVersion),
	)

	events, err := m.adapter.ReadStream(ctx, streamID, fromVersion)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("chronicle.events.read", len(events)))
	}

	return events, err
}

// ReadAllSince retrieves feed events with tracing.
func (m *EventLogMiddleware) ReadAllSince(ctx context.Context, since uint64, limit int) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.read_all_since",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.Int64("chronicle.since", int64(since)),
		attribute.Int("chronicle.limit", limit),
	)

	events, err := m.adapter.ReadAllSince(ctx, since, limit)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("chronicle.events.read", len(events)))
	}

	return events, err
}

// StreamInfo returns stream metadata with tracing.
func (m *EventLogMiddleware) StreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.stream_info",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.stream_id", streamID),
	)

	info, err := m.adapter.StreamInfo(ctx, streamID)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("chronicle.stream.version", info.Version))
	}

	return info, err
}

// LastSequence returns the last global sequence with tracing.
func (m *EventLogMiddleware) LastSequence(ctx context.Context) (uint64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.last_sequence",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("chronicle.service", m.tracer.serviceName))

	seq, err := m.adapter.LastSequence(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("chronicle.last_sequence", int64(seq)))
	}

	return seq, err
}

// Initialize initializes the adapter with tracing.
func (m *EventLogMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "eventlog.initialize",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("chronicle.service", m.tracer.serviceName))

	err := m.adapter.Initialize(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// Close closes the underlying adapter.
func (m *EventLogMiddleware) Close() error {
	return m.adapter.Close()
}

// Unwrap returns the wrapped adapter so callers can reach optional
// interfaces such as SnapshotAdapter.
func (m *EventLogMiddleware) Unwrap() adapters.EventLogAdapter {
	return m.adapter
}

// ProjectionMiddleware wraps a projection with tracing.
type ProjectionMiddleware struct {
	projection chronicle.Projection
	tracer     *Tracer
}

var _ chronicle.Projection = (*ProjectionMiddleware)(nil)

// NewProjectionMiddleware wraps a projection with tracing.
func NewProjectionMiddleware(projection chronicle.Projection, tracer *Tracer) *ProjectionMiddleware {
	return &ProjectionMiddleware{
		projection: projection,
		tracer:     tracer,
	}
}

// Name returns the projection name.
func (m *ProjectionMiddleware) Name() string {
	return m.projection.Name()
}

// HandledEvents returns the handled event types.
func (m *ProjectionMiddleware) HandledEvents() []string {
	return m.projection.HandledEvents()
}

// Apply applies an event with tracing.
func (m *ProjectionMiddleware) Apply(ctx context.Context, doc []byte, event chronicle.Event) ([]byte, error) {
	spanName := fmt.Sprintf("projection.%s.apply", m.projection.Name())

	ctx, span := m.tracer.StartSpan(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("chronicle.service", m.tracer.serviceName),
		attribute.String("chronicle.projection.name", m.projection.Name()),
		attribute.String("chronicle.event.type", event.Type),
		attribute.String("chronicle.event.stream_id", event.StreamID),
		attribute.Int64("chronicle.event.version", event.Version),
		attribute.Int64("chronicle.event.global_sequence", int64(event.GlobalSequence)),
	)

	updated, err := m.projection.Apply(ctx, doc, event)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return updated, err
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
