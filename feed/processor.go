package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	chronicle "github.com/chronicle-es/go-chronicle"
)

// Sentinel errors for the feed processor.
var (
	// ErrProcessorRunning is returned when Start is called twice.
	ErrProcessorRunning = errors.New("chronicle/feed: processor is already running")

	// ErrPublisherNotFound is returned when a route targets a destination
	// prefix no registered publisher handles.
	ErrPublisherNotFound = errors.New("chronicle/feed: no publisher for destination")
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithName sets the checkpoint name for this processor. Two processors with
// different names tail the feed independently. Default: "feed".
func WithName(name string) ProcessorOption {
	return func(p *Processor) {
		if name != "" {
			p.name = name
		}
	}
}

// WithBatchSize sets the maximum number of events read per poll.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithPollInterval sets how often the processor polls for new events.
func WithPollInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithRetryBackoff sets the wait after a failed publish before the batch is
// retried.
func WithRetryBackoff(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.retryBackoff = d
		}
	}
}

// WithPublisher registers a publisher for its destination prefix.
func WithPublisher(publisher Publisher) ProcessorOption {
	return func(p *Processor) {
		p.publishers[publisher.Destination()] = publisher
	}
}

// WithMetrics sets the metrics collector for the processor.
func WithMetrics(metrics Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = metrics
	}
}

// WithLogger sets the logger for the processor.
func WithLogger(logger chronicle.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor tails the global event feed and publishes matching events to
// registered publishers. A failed publish blocks the feed at the failing
// batch and retries with backoff, preserving order per destination.
type Processor struct {
	log         *chronicle.EventLog
	checkpoints CheckpointStore
	routes      []Route
	publishers  map[string]Publisher
	metrics     Metrics
	logger      chronicle.Logger

	name         string
	batchSize    int
	pollInterval time.Duration
	retryBackoff time.Duration

	running atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewProcessor creates a new feed Processor.
func NewProcessor(log *chronicle.EventLog, checkpoints CheckpointStore, routes []Route, opts ...ProcessorOption) *Processor {
	p := &Processor{
		log:          log,
		checkpoints:  checkpoints,
		routes:       routes,
		publishers:   make(map[string]Publisher),
		metrics:      &noopMetrics{},
		logger:       chronicle.NoopLogger(),
		name:         "feed",
		batchSize:    100,
		pollInterval: time.Second,
		retryBackoff: 5 * time.Second,
		stopCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start begins the background publishing loop.
func (p *Processor) Start(ctx context.Context) error {
	if p.running.Swap(true) {
		return ErrProcessorRunning
	}

	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("Feed processor started", "name", p.name)
	return nil
}

// Stop gracefully stops the processor, finishing the in-flight batch.
func (p *Processor) Stop(ctx context.Context) error {
	if !p.running.Load() {
		return nil
	}

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.running.Store(false)
		p.logger.Info("Feed processor stopped", "name", p.name)
		return nil
	case <-ctx.Done():
		p.running.Store(false)
		return ctx.Err()
	}
}

// IsRunning returns true if the processor is running.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				p.logger.Error("Feed batch failed, will retry", "name", p.name, "error", err)
				select {
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				case <-time.After(p.retryBackoff):
				}
			}
		}
	}
}

// processBatch reads one batch past the checkpoint, publishes every matching
// event grouped by destination prefix, and advances the checkpoint only when
// all groups delivered.
func (p *Processor) processBatch(ctx context.Context) error {
	start := time.Now()

	position, err := p.checkpoints.GetCheckpoint(ctx, p.name)
	if err != nil {
		return fmt.Errorf("chronicle/feed: failed to load checkpoint: %w", err)
	}

	events, err := p.log.ReadAllSinceRaw(ctx, position, p.batchSize)
	if err != nil {
		return fmt.Errorf("chronicle/feed: failed to read events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	grouped := make(map[string][]*Message)
	for i := range events {
		for _, msg := range p.buildMessages(events[i]) {
			prefix := DestinationPrefix(msg.Destination)
			grouped[prefix] = append(grouped[prefix], msg)
		}
	}

	for prefix, msgs := range grouped {
		publisher, ok := p.publishers[prefix]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPublisherNotFound, prefix)
		}

		if err := publisher.Publish(ctx, msgs); err != nil {
			p.metrics.RecordPublished(prefix, len(msgs), false)
			return fmt.Errorf("chronicle/feed: publish to %s failed: %w", prefix, err)
		}
		p.metrics.RecordPublished(prefix, len(msgs), true)
	}

	newPosition := events[len(events)-1].GlobalSequence
	if err := p.checkpoints.SetCheckpoint(ctx, p.name, newPosition); err != nil {
		// The batch was delivered; a checkpoint failure means a redelivery
		// on restart, which at-least-once semantics already allow.
		return fmt.Errorf("chronicle/feed: failed to advance checkpoint: %w", err)
	}
	p.metrics.RecordCheckpoint(newPosition)
	p.metrics.RecordBatchDuration(time.Since(start))

	return nil
}

// buildMessages creates one message per matching route for a stored event.
func (p *Processor) buildMessages(event chronicle.StoredEvent) []*Message {
	var messages []*Message

	for i := range p.routes {
		route := &p.routes[i]
		if !route.Matches(event.Type) {
			continue
		}
		if route.Filter != nil && !route.Filter(event) {
			continue
		}

		payload := event.Data
		if route.Transform != nil {
			transformed, err := route.Transform(event)
			if err != nil {
				p.logger.Error("Failed to transform feed payload",
					"eventType", event.Type, "destination", route.Destination, "error", err)
				continue
			}
			payload = transformed
		}

		messages = append(messages, &Message{
			ID:          event.ID,
			StreamID:    event.StreamID,
			EventType:   event.Type,
			Destination: route.Destination,
			Payload:     payload,
			Headers: map[string]string{
				"event-id":       event.ID,
				"stream-id":      event.StreamID,
				"event-type":     event.Type,
				"correlation-id": event.Metadata.CorrelationID,
				"causation-id":   event.Metadata.CausationID,
			},
			GlobalSequence: event.GlobalSequence,
			Timestamp:      event.Timestamp,
		})
	}

	return messages
}
