// Package metrics provides Prometheus metrics for chronicle.
//
// Two integration points are offered: WrapEventLog decorates an event log
// adapter so every append and read is counted and timed, and the Metrics
// type itself implements chronicle.ProjectionMetrics so it can be passed to
// the projection engine directly.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithServiceName("registry"))
//	m.MustRegister()
//
//	log := chronicle.New(m.WrapEventLog(adapter))
//	engine := chronicle.NewProjectionEngine(log, views,
//		chronicle.WithEngineMetrics(m))
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	chronicle "github.com/chronicle-es/go-chronicle"
	"github.com/chronicle-es/go-chronicle/adapters"
)

// Metric labels.
const (
	LabelEventType      = "event_type"
	LabelProjectionName = "projection_name"
	LabelOperation      = "operation"
	LabelStatus         = "status"
	LabelErrorType      = "error_type"
	LabelService        = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend       = "append"
	OperationReadStream   = "read_stream"
	OperationReadAll      = "read_all"
	OperationStreamInfo   = "stream_info"
	OperationLastSequence = "last_sequence"
)

// Metrics holds all Prometheus collectors for chronicle.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	logOperationsTotal   *prometheus.CounterVec
	logOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal  *prometheus.CounterVec
	eventsReadTotal      *prometheus.CounterVec

	projectionsProcessedTotal *prometheus.CounterVec
	projectionDuration        *prometheus.HistogramVec
	projectionLag             *prometheus.GaugeVec
	projectionCheckpoint      *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec
}

// Ensure Metrics satisfies the engine's metrics interface.
var _ chronicle.ProjectionMetrics = (*Metrics)(nil)

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithServiceName sets the service name label.
func WithServiceName(name string) Option {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace:   "chronicle",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) initMetrics() {
	m.logOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "eventlog_operations_total",
			Help:      "Total number of event log operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.logOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "eventlog_operation_duration_seconds",
			Help:      "Duration of event log operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to streams.",
		},
		[]string{LabelService, LabelEventType},
	)

	m.eventsReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_read_total",
			Help:      "Total number of events read from the log.",
		},
		[]string{LabelService},
	)

	m.projectionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projections_processed_total",
			Help:      "Total number of events processed by projections.",
		},
		[]string{LabelService, LabelProjectionName, LabelEventType, LabelStatus},
	)

	m.projectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_duration_seconds",
			Help:      "Duration of projection event processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.projectionLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_lag_events",
			Help:      "Number of events each projection is behind the log head.",
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.projectionCheckpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "projection_checkpoint_position",
			Help:      "Current checkpoint position for each projection.",
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.logOperationsTotal,
		m.logOperationDuration,
		m.eventsAppendedTotal,
		m.eventsReadTotal,
		m.projectionsProcessedTotal,
		m.projectionDuration,
		m.projectionLag,
		m.projectionCheckpoint,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordEventProcessed implements chronicle.ProjectionMetrics.
func (m *Metrics) RecordEventProcessed(projection, eventType string, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.projectionsProcessedTotal.WithLabelValues(m.serviceName, projection, eventType, status).Inc()
	m.projectionDuration.WithLabelValues(m.serviceName, projection).Observe(duration.Seconds())
}

// RecordCheckpoint implements chronicle.ProjectionMetrics.
func (m *Metrics) RecordCheckpoint(projection string, position uint64) {
	m.projectionCheckpoint.WithLabelValues(m.serviceName, projection).Set(float64(position))
}

// RecordError implements chronicle.ProjectionMetrics.
func (m *Metrics) RecordError(projection string, err error) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
}

// RecordProjectionLag records how many events a projection is behind.
func (m *Metrics) RecordProjectionLag(projection string, lag int64) {
	m.projectionLag.WithLabelValues(m.serviceName, projection).Set(float64(lag))
}

// errorTypeName maps sentinel errors to a stable label value.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, chronicle.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, chronicle.ErrStreamNotFound):
		return "stream_not_found"
	case errors.Is(err, chronicle.ErrDocumentNotFound):
		return "document_not_found"
	case errors.Is(err, chronicle.ErrEventTypeNotRegistered):
		return "event_type_not_registered"
	case errors.Is(err, chronicle.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, chronicle.ErrUnknownEventType):
		return "unknown_event_type"
	case errors.Is(err, chronicle.ErrProjectionHalted):
		return "projection_halted"
	case errors.Is(err, adapters.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, adapters.ErrEmptyStreamID):
		return "empty_stream_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	default:
		return "unknown"
	}
}

// EventLogMiddleware wraps an EventLogAdapter with metrics collection.
type EventLogMiddleware struct {
	adapter adapters.EventLogAdapter
	metrics *Metrics
}

// Ensure the middleware remains a drop-in adapter.
var _ adapters.EventLogAdapter = (*EventLogMiddleware)(nil)

// WrapEventLog wraps an adapter with metrics collection.
func (m *Metrics) WrapEventLog(adapter adapters.EventLogAdapter) *EventLogMiddleware {
	return &EventLogMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

func (em *EventLogMiddleware) record(op string, start time.Time, err error) {
	em.metrics.logOperationDuration.WithLabelValues(em.metrics.serviceName, op).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		em.metrics.errorsTotal.WithLabelValues(em.metrics.serviceName, errorTypeName(err)).Inc()
	}
	em.metrics.logOperationsTotal.WithLabelValues(em.metrics.serviceName, op, status).Inc()
}

// Append stores events with metrics.
func (em *EventLogMiddleware) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	stored, err := em.adapter.Append(ctx, streamID, events, expectedVersion)
	em.record(OperationAppend, start, err)

	if err == nil {
		for _, e := range events {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, e.Type).Inc()
		}
	}

	return stored, err
}

// ReadStream retrieves stream events with metrics.
func (em *EventLogMiddleware) ReadStream(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.ReadStream(ctx, streamID, fromVersion)
	em.record(OperationReadStream, start, err)

	if err == nil {
		em.metrics.eventsReadTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}

	return events, err
}

// ReadAllSince retrieves feed events with metrics.
func (em *EventLogMiddleware) ReadAllSince(ctx context.Context, since uint64, limit int) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.ReadAllSince(ctx, since, limit)
	em.record(OperationReadAll, start, err)

	if err == nil {
		em.metrics.eventsReadTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}

	return events, err
}

// StreamInfo returns stream metadata with metrics.
func (em *EventLogMiddleware) StreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	start := time.Now()
	info, err := em.adapter.StreamInfo(ctx, streamID)
	em.record(OperationStreamInfo, start, err)
	return info, err
}

// LastSequence returns the last global sequence with metrics.
func (em *EventLogMiddleware) LastSequence(ctx context.Context) (uint64, error) {
	start := time.Now()
	seq, err := em.adapter.LastSequence(ctx)
	em.record(OperationLastSequence, start, err)
	return seq, err
}

// Initialize initializes the underlying adapter.
func (em *EventLogMiddleware) Initialize(ctx context.Context) error {
	return em.adapter.Initialize(ctx)
}

// Close closes the underlying adapter.
func (em *EventLogMiddleware) Close() error {
	return em.adapter.Close()
}

// Unwrap returns the wrapped adapter so callers can reach optional
// interfaces such as SnapshotAdapter.
func (em *EventLogMiddleware) Unwrap() adapters.EventLogAdapter {
	return em.adapter
}
