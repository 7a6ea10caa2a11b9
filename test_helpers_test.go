package chronicle

// test_helpers_test.go contains shared test doubles and utilities for the
// root package tests.

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chronicle-es/go-chronicle/adapters/memory"
)

// Shared test events. A small enrolment domain used across the log, engine
// and rebuilder tests.

type StudentCreated struct {
	StudentID   string    `json:"studentId"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	DateOfBirth time.Time `json:"dob"`
}

// adaDOB is the shared birth date fixture for created students.
var adaDOB = time.Date(1815, time.December, 10, 0, 0, 0, 0, time.UTC)

type StudentEnrolled struct {
	StudentID string `json:"studentId"`
	Course    string `json:"course"`
}

type StudentUnenrolled struct {
	StudentID string `json:"studentId"`
	Course    string `json:"course"`
}

// newTestLog creates an event log over a fresh memory adapter with the
// shared test events registered.
func newTestLog() (*EventLog, *memory.Adapter) {
	adapter := memory.NewAdapter()
	log := New(adapter)
	log.RegisterEvents(StudentCreated{}, StudentEnrolled{}, StudentUnenrolled{})
	return log, adapter
}

// mustAppend appends events or fails the test.
func mustAppend(t *testing.T, log *EventLog, streamID string, events ...interface{}) {
	t.Helper()
	if err := log.Append(context.Background(), streamID, events); err != nil {
		t.Fatalf("append to %s failed: %v", streamID, err)
	}
}

// waitUntil polls cond until it returns true or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// testLogger is a shared test implementation of Logger.
type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errorLogs)
}

// capturingMetrics is a test implementation of ProjectionMetrics.
type capturingMetrics struct {
	mu          sync.Mutex
	processed   []string // "projection/eventType"
	failures    int
	checkpoints map[string]uint64
	errors      []error
}

func newCapturingMetrics() *capturingMetrics {
	return &capturingMetrics{
		checkpoints: make(map[string]uint64),
	}
}

func (m *capturingMetrics) RecordEventProcessed(projection, eventType string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.processed = append(m.processed, projection+"/"+eventType)
	} else {
		m.failures++
	}
}

func (m *capturingMetrics) RecordCheckpoint(projection string, position uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[projection] = position
}

func (m *capturingMetrics) RecordError(projection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *capturingMetrics) processedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processed)
}

func (m *capturingMetrics) checkpoint(projection string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[projection]
}

// flakyViewStore wraps a ViewStore and fails operations with a transient
// storage error until the configured number of failures is consumed.
type flakyViewStore struct {
	ViewStore

	mu            sync.Mutex
	commitFails   int
	getCheckFails int
}

func newFlakyViewStore(inner ViewStore) *flakyViewStore {
	return &flakyViewStore{ViewStore: inner}
}

func (s *flakyViewStore) CommitDocument(ctx context.Context, projection, key string, doc []byte, position uint64) error {
	s.mu.Lock()
	if s.commitFails > 0 {
		s.commitFails--
		s.mu.Unlock()
		return ErrStorageUnavailable
	}
	s.mu.Unlock()
	return s.ViewStore.CommitDocument(ctx, projection, key, doc, position)
}

func (s *flakyViewStore) GetCheckpoint(ctx context.Context, projection string) (uint64, error) {
	s.mu.Lock()
	if s.getCheckFails > 0 {
		s.getCheckFails--
		s.mu.Unlock()
		return 0, ErrStorageUnavailable
	}
	s.mu.Unlock()
	return s.ViewStore.GetCheckpoint(ctx, projection)
}

// enrolmentCounts is the document type most engine tests project into.
type enrolmentCounts struct {
	Name     string `json:"name"`
	Enrolled int    `json:"enrolled"`
}

// newCountsProjection builds the standard test projection: one document per
// student counting current enrolments.
func newCountsProjection(name string) *DocumentProjection[enrolmentCounts] {
	return NewProjection[enrolmentCounts](name).
		On("StudentCreated", func(doc *enrolmentCounts, event Event) error {
			doc.Name = event.Data.(StudentCreated).Name
			return nil
		}).
		On("StudentEnrolled", func(doc *enrolmentCounts, event Event) error {
			doc.Enrolled++
			return nil
		}).
		On("StudentUnenrolled", func(doc *enrolmentCounts, event Event) error {
			doc.Enrolled--
			return nil
		})
}
