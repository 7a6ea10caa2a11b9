package chronicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProjectionRebuilder replays the full event log through a projection in the
// foreground, reporting progress as it goes. It is the synchronous, operator
// driven counterpart to ProjectionEngine.Reset: use the engine when the
// projection should catch up in the background, the rebuilder when you want
// to watch it happen and know when it is done.
type ProjectionRebuilder struct {
	log     *EventLog
	views   ViewStore
	logger  Logger
	metrics ProjectionMetrics

	batchSize int
}

// RebuilderOption configures a ProjectionRebuilder.
type RebuilderOption func(*ProjectionRebuilder)

// WithRebuilderBatchSize sets the number of events read per batch.
func WithRebuilderBatchSize(size int) RebuilderOption {
	return func(r *ProjectionRebuilder) {
		r.batchSize = size
	}
}

// WithRebuilderLogger sets the logger for the rebuilder.
func WithRebuilderLogger(logger Logger) RebuilderOption {
	return func(r *ProjectionRebuilder) {
		r.logger = logger
	}
}

// WithRebuilderMetrics sets the metrics collector for the rebuilder.
func WithRebuilderMetrics(metrics ProjectionMetrics) RebuilderOption {
	return func(r *ProjectionRebuilder) {
		r.metrics = metrics
	}
}

// NewProjectionRebuilder creates a rebuilder reading from log and writing
// documents and checkpoints to views.
func NewProjectionRebuilder(log *EventLog, views ViewStore, opts ...RebuilderOption) *ProjectionRebuilder {
	r := &ProjectionRebuilder{
		log:       log,
		views:     views,
		logger:    &noopLogger{},
		metrics:   &noopProjectionMetrics{},
		batchSize: 1000,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RebuildProgress is a snapshot of an in-flight rebuild.
type RebuildProgress struct {
	// ProjectionName is the name of the projection being rebuilt.
	ProjectionName string

	// TotalEvents is the total number of events to replay.
	TotalEvents uint64

	// ProcessedEvents is the number of events replayed so far.
	ProcessedEvents uint64

	// CurrentPosition is the current global sequence.
	CurrentPosition uint64

	// StartedAt is when the rebuild started.
	StartedAt time.Time

	// Duration is the elapsed time.
	Duration time.Duration

	// EventsPerSecond is the replay rate.
	EventsPerSecond float64

	// EstimatedRemaining is the estimated time remaining.
	EstimatedRemaining time.Duration

	// Completed indicates the rebuild finished.
	Completed bool
}

// ProgressCallback is called periodically during a rebuild.
type ProgressCallback func(progress RebuildProgress)

// RebuildOptions configures a projection rebuild.
type RebuildOptions struct {
	// ClearFirst deletes the projection's documents and checkpoint before
	// replaying. Default: true.
	ClearFirst bool

	// ProgressCallback is called periodically with progress updates.
	ProgressCallback ProgressCallback

	// ProgressInterval is how often to call the progress callback.
	// Default: 1 second.
	ProgressInterval time.Duration

	// ToSequence stops the replay at a specific global sequence.
	// Default: 0 (replay to the end of the log).
	ToSequence uint64
}

// DefaultRebuildOptions returns the default rebuild options.
func DefaultRebuildOptions() RebuildOptions {
	return RebuildOptions{
		ClearFirst:       true,
		ProgressInterval: time.Second,
	}
}

// Rebuild replays the log through projection from the start. It clears the
// projection's documents and checkpoint first (unless disabled), then applies
// every handled event with the same atomic document+checkpoint commit the
// engine uses, so an interrupted rebuild resumes safely from its checkpoint.
func (r *ProjectionRebuilder) Rebuild(ctx context.Context, projection Projection, opts ...RebuildOptions) error {
	if projection == nil {
		return ErrNilProjection
	}
	options := DefaultRebuildOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	name := projection.Name()
	r.logger.Info("Starting projection rebuild", "projection", name)
	startTime := time.Now()

	if options.ClearFirst {
		if err := r.views.DeleteDocuments(ctx, name); err != nil {
			return fmt.Errorf("chronicle: failed to clear documents of projection %q: %w", name, err)
		}
		if err := r.views.DeleteCheckpoint(ctx, name); err != nil {
			return fmt.Errorf("chronicle: failed to reset checkpoint of projection %q: %w", name, err)
		}
	}

	// Total for progress estimation only. Events appended mid-rebuild are
	// picked up by the replay loop regardless.
	var totalEvents uint64
	if last, err := r.log.LastSequence(ctx); err == nil {
		totalEvents = last
		if options.ToSequence > 0 && options.ToSequence < last {
			totalEvents = options.ToSequence
		}
	}

	position, err := r.views.GetCheckpoint(ctx, name)
	if err != nil {
		return fmt.Errorf("chronicle: failed to load checkpoint of projection %q: %w", name, err)
	}

	var processed uint64
	handled := projection.HandledEvents()

	var progressTicker *time.Ticker
	if options.ProgressCallback != nil && options.ProgressInterval > 0 {
		progressTicker = time.NewTicker(options.ProgressInterval)
		defer progressTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if progressTicker != nil {
			select {
			case <-progressTicker.C:
				options.ProgressCallback(r.buildProgress(name, totalEvents, processed, position, startTime, false))
			default:
			}
		}

		events, err := r.log.ReadAllSinceRaw(ctx, position, r.batchSize)
		if err != nil {
			return fmt.Errorf("chronicle: failed to read feed for projection %q: %w", name, err)
		}
		if len(events) == 0 {
			break
		}

		done := false
		for i := range events {
			stored := events[i]
			if options.ToSequence > 0 && stored.GlobalSequence > options.ToSequence {
				done = true
				break
			}

			if err := r.applyOne(ctx, projection, handled, stored); err != nil {
				return err
			}
			position = stored.GlobalSequence
			processed++
		}

		if done || len(events) < r.batchSize {
			// Flush a trailing checkpoint-only advance before finishing.
			if err := r.views.SetCheckpoint(ctx, name, position); err != nil {
				return fmt.Errorf("chronicle: failed to advance checkpoint of projection %q: %w", name, err)
			}
			break
		}

		// Durably record progress once per batch for skipped-only batches.
		if err := r.views.SetCheckpoint(ctx, name, position); err != nil {
			return fmt.Errorf("chronicle: failed to advance checkpoint of projection %q: %w", name, err)
		}
	}

	if options.ProgressCallback != nil {
		options.ProgressCallback(r.buildProgress(name, totalEvents, processed, position, startTime, true))
	}

	r.logger.Info("Projection rebuild completed",
		"projection", name,
		"events", processed,
		"duration", time.Since(startTime))

	return nil
}

// applyOne replays a single event, committing document and checkpoint
// atomically for handled types.
func (r *ProjectionRebuilder) applyOne(ctx context.Context, projection Projection, handled []string, stored StoredEvent) error {
	name := projection.Name()

	if !ShouldHandleEventType(handled, stored.Type) {
		return nil
	}

	data, err := r.log.Serializer().Deserialize(stored.Data, stored.Type)
	if err != nil {
		return &ProjectionError{
			Projection:     name,
			EventType:      stored.Type,
			StreamID:       stored.StreamID,
			GlobalSequence: stored.GlobalSequence,
			Cause:          err,
		}
	}
	event := EventFromStored(stored, data)

	doc, err := r.views.LoadDocument(ctx, name, stored.StreamID)
	if errors.Is(err, ErrDocumentNotFound) {
		doc = nil
	} else if err != nil {
		return fmt.Errorf("chronicle: failed to load document %q of projection %q: %w", stored.StreamID, name, err)
	}

	start := time.Now()
	updated, err := projection.Apply(ctx, doc, event)
	if err != nil {
		r.metrics.RecordEventProcessed(name, stored.Type, time.Since(start), false)
		return &ProjectionError{
			Projection:     name,
			EventType:      stored.Type,
			StreamID:       stored.StreamID,
			GlobalSequence: stored.GlobalSequence,
			Cause:          err,
		}
	}

	if err := r.views.CommitDocument(ctx, name, stored.StreamID, updated, stored.GlobalSequence); err != nil {
		r.metrics.RecordEventProcessed(name, stored.Type, time.Since(start), false)
		return fmt.Errorf("chronicle: failed to commit document %q of projection %q: %w", stored.StreamID, name, err)
	}
	r.metrics.RecordEventProcessed(name, stored.Type, time.Since(start), true)
	r.metrics.RecordCheckpoint(name, stored.GlobalSequence)
	return nil
}

// buildProgress assembles a RebuildProgress snapshot.
func (r *ProjectionRebuilder) buildProgress(name string, totalEvents, processed, position uint64, startTime time.Time, completed bool) RebuildProgress {
	duration := time.Since(startTime)
	var eventsPerSecond float64
	var estimatedRemaining time.Duration

	if duration.Seconds() > 0 {
		eventsPerSecond = float64(processed) / duration.Seconds()
		if eventsPerSecond > 0 && totalEvents > processed {
			remaining := totalEvents - processed
			estimatedRemaining = time.Duration(float64(remaining)/eventsPerSecond) * time.Second
		}
	}

	return RebuildProgress{
		ProjectionName:     name,
		TotalEvents:        totalEvents,
		ProcessedEvents:    processed,
		CurrentPosition:    position,
		StartedAt:          startTime,
		Duration:           duration,
		EventsPerSecond:    eventsPerSecond,
		EstimatedRemaining: estimatedRemaining,
		Completed:          completed,
	}
}

// ParallelRebuilder rebuilds multiple projections concurrently with a
// bounded degree of parallelism.
type ParallelRebuilder struct {
	rebuilder   *ProjectionRebuilder
	concurrency int
}

// NewParallelRebuilder creates a new parallel rebuilder.
func NewParallelRebuilder(rebuilder *ProjectionRebuilder, concurrency int) *ParallelRebuilder {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ParallelRebuilder{
		rebuilder:   rebuilder,
		concurrency: concurrency,
	}
}

// RebuildAll rebuilds the given projections, at most concurrency at a time.
// The first failure stops new rebuilds from starting and is returned.
func (pr *ParallelRebuilder) RebuildAll(ctx context.Context, projections []Projection, opts ...RebuildOptions) error {
	if len(projections) == 0 {
		return nil
	}

	options := DefaultRebuildOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(projections))
	sem := make(chan struct{}, pr.concurrency)

	var failed atomic.Int32

	for _, projection := range projections {
		wg.Add(1)
		go func(p Projection) {
			defer wg.Done()

			if failed.Load() > 0 {
				return
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}

			if err := pr.rebuilder.Rebuild(ctx, p, options); err != nil {
				failed.Add(1)
				errCh <- fmt.Errorf("failed to rebuild %s: %w", p.Name(), err)
			}
		}(projection)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}

	return nil
}
