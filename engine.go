package chronicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProjectionEngine maintains materialized views by consuming the global
// event feed. Each registered projection runs as its own long-lived
// background worker with an independent checkpoint and retry loop, so a
// slow or faulted projection never blocks appends, aggregate loads, or
// other projections. This is intentional eventual consistency.
type ProjectionEngine struct {
	log     *EventLog
	views   ViewStore
	metrics ProjectionMetrics
	logger  Logger

	pollInterval time.Duration
	batchSize    int
	retry        RetryPolicy

	mu      sync.RWMutex
	workers map[string]*projectionWorker
	runCtx  context.Context

	running  atomic.Bool
	stopping atomic.Bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
	errCh    chan error
}

// EngineOption configures a ProjectionEngine.
type EngineOption func(*ProjectionEngine)

// WithEngineLogger sets the logger for the engine.
func WithEngineLogger(l Logger) EngineOption {
	return func(e *ProjectionEngine) {
		e.logger = l
	}
}

// WithEngineMetrics sets the metrics collector for the engine.
func WithEngineMetrics(m ProjectionMetrics) EngineOption {
	return func(e *ProjectionEngine) {
		e.metrics = m
	}
}

// WithPollInterval sets how often workers poll for new events when idle.
// Default: 100ms.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *ProjectionEngine) {
		e.pollInterval = d
	}
}

// WithBatchSize sets the maximum number of events read per poll.
// Default: 100.
func WithBatchSize(n int) EngineOption {
	return func(e *ProjectionEngine) {
		e.batchSize = n
	}
}

// WithRetryPolicy sets the backoff policy for transient storage errors.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *ProjectionEngine) {
		e.retry = p
	}
}

// NewProjectionEngine creates a new ProjectionEngine reading from log and
// writing documents and checkpoints to views.
func NewProjectionEngine(log *EventLog, views ViewStore, opts ...EngineOption) *ProjectionEngine {
	e := &ProjectionEngine{
		log:          log,
		views:        views,
		metrics:      &noopProjectionMetrics{},
		logger:       &noopLogger{},
		pollInterval: 100 * time.Millisecond,
		batchSize:    100,
		retry:        ExponentialBackoffRetry(100*time.Millisecond, 30*time.Second),
		workers:      make(map[string]*projectionWorker),
		stopCh:       make(chan struct{}),
		errCh:        make(chan error, 16),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RetryPolicy computes the delay before retrying a transient failure.
type RetryPolicy interface {
	// Delay returns the duration to wait before attempt (0-based).
	Delay(attempt int) time.Duration
}

type exponentialBackoffRetry struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// ExponentialBackoffRetry creates a retry policy with exponential backoff,
// doubling from baseDelay and capped at maxDelay.
func ExponentialBackoffRetry(baseDelay, maxDelay time.Duration) RetryPolicy {
	return &exponentialBackoffRetry{baseDelay: baseDelay, maxDelay: maxDelay}
}

func (r *exponentialBackoffRetry) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the shift to keep the multiplication inside int64.
	if attempt > 30 {
		return r.maxDelay
	}
	delay := r.baseDelay * (1 << uint(attempt))
	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

// Register registers a projection. Must be called before Start.
func (e *ProjectionEngine) Register(projection Projection) error {
	if projection == nil {
		return ErrNilProjection
	}
	if projection.Name() == "" {
		return ErrEmptyProjectionName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workers[projection.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrProjectionAlreadyRegistered, projection.Name())
	}

	e.workers[projection.Name()] = newProjectionWorker(projection)
	e.logger.Info("Registered projection", "name", projection.Name())
	return nil
}

// Errors returns the channel on which workers surface fatal projection
// errors and exhausted retries. The channel is buffered; when full, errors
// are logged and dropped rather than blocking a worker.
func (e *ProjectionEngine) Errors() <-chan error {
	return e.errCh
}

func (e *ProjectionEngine) reportError(err error) {
	select {
	case e.errCh <- err:
	default:
		e.logger.Error("Projection error channel full, dropping error", "error", err)
	}
}

// Start launches one background worker per registered projection.
func (e *ProjectionEngine) Start(ctx context.Context) error {
	if e.running.Swap(true) {
		return ErrEngineAlreadyRunning
	}

	e.stopCh = make(chan struct{})

	e.mu.Lock()
	// The engine's lifecycle context. Workers respawned later (Reset) bind
	// to this, not to the caller's possibly short-lived context.
	e.runCtx = ctx
	for _, worker := range e.workers {
		worker.prepare()
		e.wg.Add(1)
		go e.runWorker(ctx, worker)
	}
	e.mu.Unlock()

	e.logger.Info("Projection engine started")
	return nil
}

// Stop gracefully stops the engine. Workers finish the current event's
// atomic commit, then exit; there is no mid-event cancellation, since that
// would risk a document update without its paired checkpoint advance.
func (e *ProjectionEngine) Stop(ctx context.Context) error {
	if !e.running.Load() {
		return nil
	}

	if !e.stopping.Swap(true) {
		close(e.stopCh)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.running.Store(false)
		e.stopping.Store(false)
		e.logger.Info("Projection engine stopped")
		return nil
	case <-ctx.Done():
		// Workers may still be draining. The engine stays running until
		// they exit; a later Stop call waits for the same drain.
		return ctx.Err()
	}
}

// IsRunning returns true if the engine is running.
func (e *ProjectionEngine) IsRunning() bool {
	return e.running.Load()
}

// Status returns the status of a projection by name.
func (e *ProjectionEngine) Status(name string) (*ProjectionStatus, error) {
	e.mu.RLock()
	worker, exists := e.workers[name]
	e.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProjectionNotFound, name)
	}
	return worker.getStatus(), nil
}

// Statuses returns the status of all registered projections.
func (e *ProjectionEngine) Statuses() []*ProjectionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	statuses := make([]*ProjectionStatus, 0, len(e.workers))
	for _, worker := range e.workers {
		statuses = append(statuses, worker.getStatus())
	}
	return statuses
}

// Reset triggers a full rebuild of the named projection: it stops the
// projection's worker if running, deletes every document the projection
// owns, resets its checkpoint to 0, and restarts the worker so the next
// loop iteration replays the entire log from the start.
func (e *ProjectionEngine) Reset(ctx context.Context, name string) error {
	e.mu.Lock()
	worker, exists := e.workers[name]
	e.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrProjectionNotFound, name)
	}

	wasRunning := e.running.Load()
	if wasRunning {
		worker.halt()
		select {
		case <-worker.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := e.views.DeleteDocuments(ctx, name); err != nil {
		return fmt.Errorf("chronicle: failed to clear documents of projection %q: %w", name, err)
	}
	if err := e.views.DeleteCheckpoint(ctx, name); err != nil {
		return fmt.Errorf("chronicle: failed to reset checkpoint of projection %q: %w", name, err)
	}

	e.logger.Info("Projection reset", "name", name)

	if wasRunning {
		e.mu.RLock()
		runCtx := e.runCtx
		e.mu.RUnlock()

		worker.prepare()
		e.wg.Add(1)
		go e.runWorker(runCtx, worker)
	}
	return nil
}

// projectionWorker owns one projection's background processing: its
// checkpoint, its retry loop, and its halt state.
type projectionWorker struct {
	projection Projection
	handled    []string

	stopCh chan struct{}
	done   chan struct{}

	stateMu         sync.RWMutex
	state           ProjectionState
	checkpoint      uint64
	eventsProcessed uint64
	lastProcessedAt time.Time
	lastError       error
}

func newProjectionWorker(p Projection) *projectionWorker {
	return &projectionWorker{
		projection: p,
		handled:    p.HandledEvents(),
		state:      ProjectionStateStopped,
	}
}

// prepare resets the worker's channels and transient state before a (re)start.
func (w *projectionWorker) prepare() {
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.stateMu.Lock()
	w.state = ProjectionStateCatchingUp
	w.lastError = nil
	w.stateMu.Unlock()
}

// halt asks the worker to stop after its current atomic commit.
func (w *projectionWorker) halt() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

func (w *projectionWorker) getStatus() *ProjectionStatus {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()

	status := &ProjectionStatus{
		Name:            w.projection.Name(),
		State:           w.state,
		Checkpoint:      w.checkpoint,
		EventsProcessed: w.eventsProcessed,
		LastProcessedAt: w.lastProcessedAt,
	}
	if w.lastError != nil {
		status.Error = w.lastError.Error()
	}
	return status
}

func (w *projectionWorker) setState(state ProjectionState) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

func (w *projectionWorker) fault(err error) {
	w.stateMu.Lock()
	w.state = ProjectionStateFaulted
	w.lastError = err
	w.stateMu.Unlock()
}

func (w *projectionWorker) advance(position uint64) {
	w.stateMu.Lock()
	w.checkpoint = position
	w.eventsProcessed++
	w.lastProcessedAt = time.Now()
	w.stateMu.Unlock()
}

// runWorker is the main loop of one projection worker. Transient storage
// errors are retried with backoff; a handler error is fatal and halts the
// worker at the failing event.
func (e *ProjectionEngine) runWorker(ctx context.Context, worker *projectionWorker) {
	defer e.wg.Done()
	defer close(worker.done)

	name := worker.projection.Name()

	// Resume strictly after the last fully-committed checkpoint.
	// An absent checkpoint means rebuild from the beginning.
	position, err := e.loadCheckpointWithRetry(ctx, worker)
	if err != nil {
		worker.fault(err)
		e.reportError(err)
		return
	}
	worker.stateMu.Lock()
	worker.checkpoint = position
	worker.stateMu.Unlock()

	worker.setState(ProjectionStateRunning)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var consecutiveErrors int

	for {
		select {
		case <-e.stopCh:
			worker.setState(ProjectionStateStopped)
			return
		case <-worker.stopCh:
			worker.setState(ProjectionStateStopped)
			return
		case <-ctx.Done():
			worker.setState(ProjectionStateStopped)
			return
		case <-ticker.C:
			newPosition, err := e.processBatch(ctx, worker, position)
			position = newPosition

			if err == nil {
				if consecutiveErrors > 0 {
					e.logger.Info("Projection recovered", "projection", name, "consecutive_errors", consecutiveErrors)
					consecutiveErrors = 0
				}
				continue
			}

			if errors.Is(err, context.Canceled) {
				worker.setState(ProjectionStateStopped)
				return
			}

			var projErr *ProjectionError
			if errors.As(err, &projErr) {
				// A handler failure is never skipped: the worker halts at
				// the failing event and surfaces the error to operators.
				e.logger.Error("Projection halted",
					"projection", name,
					"event_type", projErr.EventType,
					"global_sequence", projErr.GlobalSequence,
					"error", projErr.Cause,
				)
				worker.fault(err)
				e.metrics.RecordError(name, err)
				e.reportError(err)
				return
			}

			// Transient storage failure: back off and retry.
			consecutiveErrors++
			// Log only at power-of-2 counts (1, 2, 4, 8, ...) to reduce noise.
			if consecutiveErrors&(consecutiveErrors-1) == 0 {
				e.logger.Error("Projection read/commit error",
					"projection", name,
					"error", err,
					"consecutive_errors", consecutiveErrors,
				)
			}
			e.metrics.RecordError(name, err)

			select {
			case <-e.stopCh:
				worker.setState(ProjectionStateStopped)
				return
			case <-worker.stopCh:
				worker.setState(ProjectionStateStopped)
				return
			case <-ctx.Done():
				worker.setState(ProjectionStateStopped)
				return
			case <-time.After(e.retry.Delay(consecutiveErrors - 1)):
			}
		}
	}
}

// loadCheckpointWithRetry loads the worker's checkpoint, retrying transient
// storage errors with backoff until the context or engine stops.
func (e *ProjectionEngine) loadCheckpointWithRetry(ctx context.Context, worker *projectionWorker) (uint64, error) {
	name := worker.projection.Name()
	for attempt := 0; ; attempt++ {
		position, err := e.views.GetCheckpoint(ctx, name)
		if err == nil {
			return position, nil
		}
		if !IsRetryable(err) {
			return 0, fmt.Errorf("chronicle: failed to load checkpoint of projection %q: %w", name, err)
		}

		e.logger.Warn("Checkpoint load failed, retrying", "projection", name, "error", err)
		select {
		case <-e.stopCh:
			return 0, err
		case <-worker.stopCh:
			return 0, err
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(e.retry.Delay(attempt)):
		}
	}
}

// processBatch reads one batch from the global feed and applies it event by
// event in ascending global order. For each handled event the updated
// document and the advanced checkpoint commit as a single atomic unit, so a
// crash resumes from the last fully-committed checkpoint with no document
// half-updated. Events without a registered handler advance the checkpoint
// only. Returns the new in-memory position.
func (e *ProjectionEngine) processBatch(ctx context.Context, worker *projectionWorker, position uint64) (uint64, error) {
	name := worker.projection.Name()

	events, err := e.log.ReadAllSinceRaw(ctx, position, e.batchSize)
	if err != nil {
		return position, fmt.Errorf("chronicle: failed to read feed for projection %q: %w", name, err)
	}
	if len(events) == 0 {
		return position, nil
	}

	committed := position // highest position durably recorded this batch
	skipped := false

	for i := range events {
		// Honor a stop request between events, never inside one.
		select {
		case <-e.stopCh:
			return position, e.flushSkipped(ctx, worker, position, committed, skipped)
		case <-worker.stopCh:
			return position, e.flushSkipped(ctx, worker, position, committed, skipped)
		default:
		}

		stored := events[i]

		if !ShouldHandleEventType(worker.handled, stored.Type) {
			position = stored.GlobalSequence
			skipped = true
			continue
		}

		event, err := e.deserialize(stored)
		if err != nil {
			return position, &ProjectionError{
				Projection:     name,
				EventType:      stored.Type,
				StreamID:       stored.StreamID,
				GlobalSequence: stored.GlobalSequence,
				Cause:          err,
			}
		}

		doc, err := e.views.LoadDocument(ctx, name, stored.StreamID)
		if errors.Is(err, ErrDocumentNotFound) {
			doc = nil // fresh default
		} else if err != nil {
			return position, fmt.Errorf("chronicle: failed to load document %q of projection %q: %w", stored.StreamID, name, err)
		}

		start := time.Now()
		updated, err := worker.projection.Apply(ctx, doc, event)
		if err != nil {
			e.metrics.RecordEventProcessed(name, stored.Type, time.Since(start), false)
			return position, &ProjectionError{
				Projection:     name,
				EventType:      stored.Type,
				StreamID:       stored.StreamID,
				GlobalSequence: stored.GlobalSequence,
				Cause:          err,
			}
		}

		if err := e.views.CommitDocument(ctx, name, stored.StreamID, updated, stored.GlobalSequence); err != nil {
			e.metrics.RecordEventProcessed(name, stored.Type, time.Since(start), false)
			return position, fmt.Errorf("chronicle: failed to commit document %q of projection %q: %w", stored.StreamID, name, err)
		}

		e.metrics.RecordEventProcessed(name, stored.Type, time.Since(start), true)
		e.metrics.RecordCheckpoint(name, stored.GlobalSequence)

		position = stored.GlobalSequence
		committed = position
		skipped = false
		worker.advance(position)
	}

	return position, e.flushSkipped(ctx, worker, position, committed, skipped)
}

// flushSkipped durably advances the checkpoint past a trailing run of
// unhandled events. Skipped events are a no-op to reprocess, so a crash
// before this write is harmless.
func (e *ProjectionEngine) flushSkipped(ctx context.Context, worker *projectionWorker, position, committed uint64, skipped bool) error {
	if !skipped || position <= committed {
		return nil
	}

	name := worker.projection.Name()
	if err := e.views.SetCheckpoint(ctx, name, position); err != nil {
		return fmt.Errorf("chronicle: failed to advance checkpoint of projection %q: %w", name, err)
	}
	e.metrics.RecordCheckpoint(name, position)

	worker.stateMu.Lock()
	worker.checkpoint = position
	worker.lastProcessedAt = time.Now()
	worker.stateMu.Unlock()
	return nil
}

func (e *ProjectionEngine) deserialize(stored StoredEvent) (Event, error) {
	data, err := e.log.Serializer().Deserialize(stored.Data, stored.Type)
	if err != nil {
		return Event{}, err
	}
	return EventFromStored(stored, data), nil
}
