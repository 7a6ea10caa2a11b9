// Package memory provides an in-memory implementation of the event log and
// view store adapters. It is primarily intended for testing and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chronicle-es/go-chronicle/adapters"
	"github.com/google/uuid"
)

// Version constants for optimistic concurrency control.
// These are re-exported from the adapters package for convenience.
const (
	AnyVersion   = adapters.AnyVersion
	NoStream     = adapters.NoStream
	StreamExists = adapters.StreamExists
)

// Ensure Adapter implements all required interfaces.
var (
	_ adapters.EventLogAdapter    = (*Adapter)(nil)
	_ adapters.ViewStoreAdapter   = (*Adapter)(nil)
	_ adapters.SnapshotAdapter    = (*Adapter)(nil)
	_ adapters.StreamQueryAdapter = (*Adapter)(nil)
	_ adapters.HealthChecker      = (*Adapter)(nil)
)

// Adapter is an in-memory implementation of EventLogAdapter and
// ViewStoreAdapter. It is thread-safe and suitable for unit testing.
type Adapter struct {
	mu             sync.RWMutex
	streams        map[string]*streamData
	globalEvents   []adapters.StoredEvent
	globalSequence uint64
	documents      map[string]map[string][]byte
	checkpoints    map[string]uint64
	snapshots      map[string]*adapters.SnapshotRecord
	closed         bool
}

type streamData struct {
	info   adapters.StreamInfo
	events []adapters.StoredEvent
}

// Option configures an Adapter.
type Option func(*Adapter)

// NewAdapter creates a new in-memory adapter.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		streams:      make(map[string]*streamData),
		globalEvents: make([]adapters.StoredEvent, 0),
		documents:    make(map[string]map[string][]byte),
		checkpoints:  make(map[string]uint64),
		snapshots:    make(map[string]*adapters.SnapshotRecord),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Initialize is a no-op for the memory adapter.
func (a *Adapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events to the specified stream with optimistic concurrency
// control. All events commit as one unit.
func (a *Adapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	if len(events) == 0 {
		return nil, adapters.ErrNoEvents
	}

	stream, exists := a.streams[streamID]
	currentVersion := int64(0)
	if exists {
		currentVersion = stream.info.Version
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, currentVersion, exists); err != nil {
		return nil, err
	}

	if !exists {
		now := time.Now()
		stream = &streamData{
			info: adapters.StreamInfo{
				StreamID:  streamID,
				Category:  adapters.ExtractCategory(streamID),
				Version:   0,
				CreatedAt: now,
				UpdatedAt: now,
			},
			events: make([]adapters.StoredEvent, 0),
		}
		a.streams[streamID] = stream
	}

	now := time.Now()
	storedEvents := make([]adapters.StoredEvent, len(events))

	for i, event := range events {
		a.globalSequence++
		currentVersion++

		stored := adapters.StoredEvent{
			ID:             uuid.New().String(),
			StreamID:       streamID,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Version:        currentVersion,
			GlobalSequence: a.globalSequence,
			Timestamp:      now,
		}

		stream.events = append(stream.events, stored)
		a.globalEvents = append(a.globalEvents, stored)
		storedEvents[i] = stored
	}

	stream.info.Version = currentVersion
	stream.info.EventCount = int64(len(stream.events))
	stream.info.UpdatedAt = now

	return storedEvents, nil
}

// ReadStream retrieves events for a stream with Version >= fromVersion,
// in ascending version order.
func (a *Adapter) ReadStream(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	stream, exists := a.streams[streamID]
	if !exists {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}

	events := make([]adapters.StoredEvent, 0)
	for _, event := range stream.events {
		if event.Version >= fromVersion {
			events = append(events, event)
		}
	}

	return events, nil
}

// ReadAllSince retrieves up to limit events with GlobalSequence > since,
// in ascending global order.
func (a *Adapter) ReadAllSince(ctx context.Context, since uint64, limit int) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	limit = adapters.DefaultLimit(limit, 1000)

	// Global sequences are dense and 1-based, so the first candidate sits at
	// index since.
	start := int(since)
	if start >= len(a.globalEvents) {
		return []adapters.StoredEvent{}, nil
	}

	end := start + limit
	if end > len(a.globalEvents) {
		end = len(a.globalEvents)
	}

	events := make([]adapters.StoredEvent, end-start)
	copy(events, a.globalEvents[start:end])
	return events, nil
}

// StreamInfo returns metadata about a stream.
func (a *Adapter) StreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream, exists := a.streams[streamID]
	if !exists {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}

	// Return a copy to prevent mutation.
	info := stream.info
	return &info, nil
}

// LastSequence returns the global sequence of the last stored event.
func (a *Adapter) LastSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return a.globalSequence, nil
}

// Close releases resources held by the adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}

// LoadDocument returns the document for (projection, key).
func (a *Adapter) LoadDocument(ctx context.Context, projection, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	docs, exists := a.documents[projection]
	if !exists {
		return nil, adapters.ErrDocumentNotFound
	}
	doc, exists := docs[key]
	if !exists {
		return nil, adapters.ErrDocumentNotFound
	}

	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

// CommitDocument upserts the document and advances the projection's
// checkpoint under a single lock acquisition, so readers never observe one
// without the other.
func (a *Adapter) CommitDocument(ctx context.Context, projection, key string, doc []byte, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	docs, exists := a.documents[projection]
	if !exists {
		docs = make(map[string][]byte)
		a.documents[projection] = docs
	}

	stored := make([]byte, len(doc))
	copy(stored, doc)
	docs[key] = stored
	a.checkpoints[projection] = position
	return nil
}

// DeleteDocuments removes every document belonging to the projection.
func (a *Adapter) DeleteDocuments(ctx context.Context, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.documents, projection)
	return nil
}

// GetCheckpoint returns the checkpoint for a projection, or 0 if none.
func (a *Adapter) GetCheckpoint(ctx context.Context, projection string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return a.checkpoints[projection], nil
}

// SetCheckpoint stores the checkpoint for a projection.
func (a *Adapter) SetCheckpoint(ctx context.Context, projection string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	a.checkpoints[projection] = position
	return nil
}

// DeleteCheckpoint removes the checkpoint for a projection.
func (a *Adapter) DeleteCheckpoint(ctx context.Context, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.checkpoints, projection)
	return nil
}

// SaveSnapshot stores a snapshot for the given stream.
func (a *Adapter) SaveSnapshot(ctx context.Context, streamID string, version int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	a.snapshots[streamID] = &adapters.SnapshotRecord{
		StreamID: streamID,
		Version:  version,
		Data:     data,
	}
	return nil
}

// LoadSnapshot retrieves the latest snapshot for the given stream.
func (a *Adapter) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	snapshot, exists := a.snapshots[streamID]
	if !exists {
		return nil, nil
	}

	return &adapters.SnapshotRecord{
		StreamID: snapshot.StreamID,
		Version:  snapshot.Version,
		Data:     snapshot.Data,
	}, nil
}

// DeleteSnapshot removes the snapshot for the given stream.
func (a *Adapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.snapshots, streamID)
	return nil
}

// ListStreams returns stream summaries filtered by ID prefix, sorted by
// stream ID.
func (a *Adapter) ListStreams(ctx context.Context, prefix string, limit int) ([]adapters.StreamSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	summaries := make([]adapters.StreamSummary, 0, len(a.streams))
	for id, stream := range a.streams {
		if prefix != "" && !strings.HasPrefix(id, prefix) {
			continue
		}
		summary := adapters.StreamSummary{
			StreamID:    id,
			EventCount:  stream.info.EventCount,
			LastUpdated: stream.info.UpdatedAt,
		}
		if n := len(stream.events); n > 0 {
			summary.LastEventType = stream.events[n-1].Type
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StreamID < summaries[j].StreamID
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// ListCheckpoints returns the checkpoint position per projection name.
func (a *Adapter) ListCheckpoints(ctx context.Context) (map[string]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	out := make(map[string]uint64, len(a.checkpoints))
	for name, position := range a.checkpoints {
		out[name] = position
	}
	return out, nil
}

// Ping checks if the adapter is healthy.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Reset clears all data. Useful for testing.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.streams = make(map[string]*streamData)
	a.globalEvents = make([]adapters.StoredEvent, 0)
	a.globalSequence = 0
	a.documents = make(map[string]map[string][]byte)
	a.checkpoints = make(map[string]uint64)
	a.snapshots = make(map[string]*adapters.SnapshotRecord)
}

// EventCount returns the total number of events stored.
func (a *Adapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.globalEvents)
}

// StreamCount returns the number of streams.
func (a *Adapter) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}

// DocumentCount returns the number of documents held for a projection.
func (a *Adapter) DocumentCount(projection string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.documents[projection])
}
