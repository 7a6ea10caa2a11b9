// Package postgres provides a PostgreSQL implementation of the event log and
// view store adapters.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chronicle-es/go-chronicle/adapters"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Version constants for optimistic concurrency control.
const (
	AnyVersion   = adapters.AnyVersion
	NoStream     = adapters.NoStream
	StreamExists = adapters.StreamExists
)

// Sentinel errors, aliased from the adapters package for errors.Is
// compatibility.
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyStreamID       = adapters.ErrEmptyStreamID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrStreamNotFound      = adapters.ErrStreamNotFound
	ErrDocumentNotFound    = adapters.ErrDocumentNotFound
	ErrInvalidVersion      = adapters.ErrInvalidVersion
)

// Ensure Adapter implements required interfaces.
var (
	_ adapters.EventLogAdapter    = (*Adapter)(nil)
	_ adapters.ViewStoreAdapter   = (*Adapter)(nil)
	_ adapters.SnapshotAdapter    = (*Adapter)(nil)
	_ adapters.StreamQueryAdapter = (*Adapter)(nil)
	_ adapters.HealthChecker      = (*Adapter)(nil)
)

// Adapter is a PostgreSQL implementation of EventLogAdapter and
// ViewStoreAdapter.
type Adapter struct {
	db     *sql.DB
	schema string
	closed bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *Adapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *Adapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *Adapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *Adapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter creates a new PostgreSQL adapter using the pgx stdlib driver.
func NewAdapter(connStr string, opts ...Option) (*Adapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to open database: %w", err)
	}

	a := &Adapter{
		db:     db,
		schema: "chronicle",
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *Adapter {
	a := &Adapter{
		db:     db,
		schema: "chronicle",
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// storageErr tags a backend failure as transient so projection workers and
// feed processors retry it with backoff instead of halting.
func storageErr(op string, err error) error {
	return fmt.Errorf("chronicle/postgres: %s: %w", op, errors.Join(adapters.ErrStorageUnavailable, err))
}

// Initialize creates the required schema and tables.
func (a *Adapter) Initialize(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema)); err != nil {
		return fmt.Errorf("chronicle/postgres: failed to create schema: %w", err)
	}

	statements := []struct {
		name string
		sql  string
	}{
		{"streams table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.streams (
				id              BIGSERIAL PRIMARY KEY,
				stream_id       VARCHAR(500) NOT NULL UNIQUE,
				category        VARCHAR(250) NOT NULL,
				version         BIGINT NOT NULL DEFAULT 0,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"events table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.events (
				global_sequence BIGSERIAL PRIMARY KEY,
				stream_id       VARCHAR(500) NOT NULL,
				version         BIGINT NOT NULL,
				event_id        UUID NOT NULL DEFAULT gen_random_uuid(),
				event_type      VARCHAR(500) NOT NULL,
				data            JSONB NOT NULL,
				metadata        JSONB,
				timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(stream_id, version)
			)`, a.schema)},
		{"documents table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.documents (
				projection_name VARCHAR(500) NOT NULL,
				document_key    VARCHAR(500) NOT NULL,
				data            JSONB NOT NULL,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (projection_name, document_key)
			)`, a.schema)},
		{"checkpoints table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.checkpoints (
				projection_name VARCHAR(500) PRIMARY KEY,
				position        BIGINT NOT NULL DEFAULT 0,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"snapshots table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.snapshots (
				stream_id       VARCHAR(500) PRIMARY KEY,
				version         BIGINT NOT NULL,
				data            BYTEA NOT NULL,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"streams category index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_streams_category ON %s.streams(category)`, a.schema)},
		{"events stream index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_stream ON %s.events(stream_id, version)`, a.schema)},
		{"events type index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, a.schema)},
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("chronicle/postgres: failed to create %s: %w", stmt.name, err)
		}
	}

	return nil
}

// Append stores events to the specified stream with optimistic concurrency
// control. The stream row is locked FOR UPDATE for the duration of the
// transaction, so concurrent appends to the same stream serialize and at most
// one writer per contested version succeeds.
func (a *Adapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	var streamExists bool

	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.streams
		WHERE stream_id = $1
		FOR UPDATE`, a.schema), streamID).Scan(&currentVersion)

	switch {
	case err == sql.ErrNoRows:
		streamExists = false
		currentVersion = 0
	case err != nil:
		return nil, storageErr("failed to get stream version", err)
	default:
		streamExists = true
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, currentVersion, streamExists); err != nil {
		return nil, err
	}

	if !streamExists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.streams (stream_id, category, version)
			VALUES ($1, $2, 0)`, a.schema), streamID, adapters.ExtractCategory(streamID))
		if err != nil {
			return nil, storageErr("failed to create stream", err)
		}
	}

	storedEvents := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		currentVersion++

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to marshal metadata: %w", err)
		}

		var globalSequence uint64
		var eventID string
		var timestamp time.Time

		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.events (stream_id, version, event_type, data, metadata)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING global_sequence, event_id, timestamp`, a.schema),
			streamID, currentVersion, event.Type, event.Data, metadataJSON,
		).Scan(&globalSequence, &eventID, &timestamp)

		if err != nil {
			return nil, storageErr("failed to insert event", err)
		}

		storedEvents[i] = adapters.StoredEvent{
			ID:             eventID,
			StreamID:       streamID,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Version:        currentVersion,
			GlobalSequence: globalSequence,
			Timestamp:      timestamp,
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.streams
		SET version = $1, updated_at = NOW()
		WHERE stream_id = $2`, a.schema), currentVersion, streamID)
	if err != nil {
		return nil, storageErr("failed to update stream version", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("failed to commit transaction", err)
	}

	return storedEvents, nil
}

// ReadStream retrieves events for a stream with Version >= fromVersion,
// in ascending version order.
func (a *Adapter) ReadStream(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_sequence, event_id, stream_id, version, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE stream_id = $1 AND version >= $2
		ORDER BY version`, a.schema), streamID, fromVersion)
	if err != nil {
		return nil, storageErr("failed to read stream", err)
	}
	defer rows.Close()

	events, err := a.scanEvents(rows)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		// Distinguish an unknown stream from a read past the stream tip.
		var exists bool
		err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT EXISTS (SELECT 1 FROM %s.streams WHERE stream_id = $1)`, a.schema), streamID).Scan(&exists)
		if err != nil {
			return nil, storageErr("failed to check stream existence", err)
		}
		if !exists {
			return nil, adapters.NewStreamNotFoundError(streamID)
		}
	}

	return events, nil
}

// ReadAllSince retrieves up to limit events with GlobalSequence > since,
// in ascending global order.
func (a *Adapter) ReadAllSince(ctx context.Context, since uint64, limit int) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	limit = adapters.DefaultLimit(limit, 1000)

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT global_sequence, event_id, stream_id, version, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE global_sequence > $1
		ORDER BY global_sequence
		LIMIT $2`, a.schema), since, limit)
	if err != nil {
		return nil, storageErr("failed to read events", err)
	}
	defer rows.Close()

	return a.scanEvents(rows)
}

func (a *Adapter) scanEvents(rows *sql.Rows) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var event adapters.StoredEvent
		var metadataJSON []byte

		err := rows.Scan(
			&event.GlobalSequence,
			&event.ID,
			&event.StreamID,
			&event.Version,
			&event.Type,
			&event.Data,
			&metadataJSON,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("chronicle/postgres: failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating events", err)
	}

	return events, nil
}

// StreamInfo returns metadata about a stream.
func (a *Adapter) StreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	var info adapters.StreamInfo
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT stream_id, category, version, version, created_at, updated_at
		FROM %s.streams
		WHERE stream_id = $1`, a.schema), streamID).Scan(
		&info.StreamID,
		&info.Category,
		&info.Version,
		&info.EventCount,
		&info.CreatedAt,
		&info.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}
	if err != nil {
		return nil, storageErr("failed to get stream info", err)
	}

	return &info, nil
}

// LastSequence returns the global sequence of the last stored event.
func (a *Adapter) LastSequence(ctx context.Context) (uint64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	var seq sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(global_sequence) FROM %s.events`, a.schema)).Scan(&seq)
	if err != nil {
		return 0, storageErr("failed to get last sequence", err)
	}

	if seq.Valid {
		return uint64(seq.Int64), nil
	}
	return 0, nil
}

// Close releases the database connection.
func (a *Adapter) Close() error {
	a.closed = true
	return a.db.Close()
}

// LoadDocument returns the document for (projection, key).
func (a *Adapter) LoadDocument(ctx context.Context, projection, key string) ([]byte, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	var doc []byte
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT data FROM %s.documents
		WHERE projection_name = $1 AND document_key = $2`, a.schema), projection, key).Scan(&doc)

	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, storageErr("failed to load document", err)
	}

	return doc, nil
}

// CommitDocument upserts the document and advances the projection's
// checkpoint in one transaction. A crash can never leave a document updated
// without its checkpoint or vice versa.
func (a *Adapter) CommitDocument(ctx context.Context, projection, key string, doc []byte, position uint64) error {
	if a.closed {
		return ErrAdapterClosed
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.documents (projection_name, document_key, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (projection_name, document_key) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()`, a.schema), projection, key, doc)
	if err != nil {
		return storageErr("failed to upsert document", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (projection_name, position)
		VALUES ($1, $2)
		ON CONFLICT (projection_name) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`, a.schema), projection, position)
	if err != nil {
		return storageErr("failed to advance checkpoint", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit transaction", err)
	}

	return nil
}

// DeleteDocuments removes every document belonging to the projection.
func (a *Adapter) DeleteDocuments(ctx context.Context, projection string) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.documents WHERE projection_name = $1`, a.schema), projection)
	if err != nil {
		return storageErr("failed to delete documents", err)
	}

	return nil
}

// GetCheckpoint returns the checkpoint for a projection, or 0 if none.
func (a *Adapter) GetCheckpoint(ctx context.Context, projection string) (uint64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	var pos sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s.checkpoints
		WHERE projection_name = $1`, a.schema), projection).Scan(&pos)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("failed to get checkpoint", err)
	}

	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// SetCheckpoint stores the checkpoint for a projection.
func (a *Adapter) SetCheckpoint(ctx context.Context, projection string, position uint64) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (projection_name, position)
		VALUES ($1, $2)
		ON CONFLICT (projection_name) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`, a.schema), projection, position)
	if err != nil {
		return storageErr("failed to set checkpoint", err)
	}

	return nil
}

// DeleteCheckpoint removes the checkpoint for a projection.
func (a *Adapter) DeleteCheckpoint(ctx context.Context, projection string) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.checkpoints WHERE projection_name = $1`, a.schema), projection)
	if err != nil {
		return storageErr("failed to delete checkpoint", err)
	}

	return nil
}

// SaveSnapshot stores a snapshot for the given stream.
func (a *Adapter) SaveSnapshot(ctx context.Context, streamID string, version int64, data []byte) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.snapshots (stream_id, version, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_id) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			created_at = NOW()`, a.schema), streamID, version, data)
	if err != nil {
		return storageErr("failed to save snapshot", err)
	}

	return nil
}

// LoadSnapshot retrieves the latest snapshot for the given stream.
func (a *Adapter) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	var snapshot adapters.SnapshotRecord
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT stream_id, version, data
		FROM %s.snapshots
		WHERE stream_id = $1`, a.schema), streamID).Scan(
		&snapshot.StreamID,
		&snapshot.Version,
		&snapshot.Data,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to load snapshot", err)
	}

	return &snapshot, nil
}

// DeleteSnapshot removes the snapshot for the given stream.
func (a *Adapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.snapshots WHERE stream_id = $1`, a.schema), streamID)
	if err != nil {
		return storageErr("failed to delete snapshot", err)
	}

	return nil
}

// ListStreams returns stream summaries filtered by ID prefix, sorted by
// stream ID.
func (a *Adapter) ListStreams(ctx context.Context, prefix string, limit int) ([]adapters.StreamSummary, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	limit = adapters.DefaultLimit(limit, 1000)

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.stream_id, s.version, s.updated_at,
			COALESCE((
				SELECT e.event_type FROM %s.events e
				WHERE e.stream_id = s.stream_id
				ORDER BY e.version DESC LIMIT 1
			), '')
		FROM %s.streams s
		WHERE s.stream_id LIKE $1 || '%%'
		ORDER BY s.stream_id
		LIMIT $2`, a.schema, a.schema), prefix, limit)
	if err != nil {
		return nil, storageErr("failed to list streams", err)
	}
	defer rows.Close()

	summaries := make([]adapters.StreamSummary, 0)
	for rows.Next() {
		var s adapters.StreamSummary
		if err := rows.Scan(&s.StreamID, &s.EventCount, &s.LastUpdated, &s.LastEventType); err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan stream summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating streams", err)
	}

	return summaries, nil
}

// ListCheckpoints returns the checkpoint position per projection name.
func (a *Adapter) ListCheckpoints(ctx context.Context) (map[string]uint64, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT projection_name, position FROM %s.checkpoints`, a.schema))
	if err != nil {
		return nil, storageErr("failed to list checkpoints", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var name string
		var position uint64
		if err := rows.Scan(&name, &position); err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan checkpoint: %w", err)
		}
		out[name] = position
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating checkpoints", err)
	}

	return out, nil
}

// Ping checks database connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.closed {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *Adapter) Schema() string {
	return a.schema
}
