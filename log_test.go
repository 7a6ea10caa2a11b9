package chronicle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_New(t *testing.T) {
	t.Run("creates with default serializer", func(t *testing.T) {
		log, adapter := newTestLog()

		assert.NotNil(t, log.Serializer())
		assert.Equal(t, adapter, log.Adapter())
	})

	t.Run("creates with custom serializer and logger", func(t *testing.T) {
		_, adapter := newTestLog()
		serializer := NewJSONSerializer()

		log := New(adapter, WithSerializer(serializer), WithLogger(newTestLogger()))

		assert.Equal(t, serializer, log.Serializer())
	})
}

func TestEventLog_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns gapless versions and a global order", func(t *testing.T) {
		log, _ := newTestLog()

		mustAppend(t, log, "Student-s1",
			StudentCreated{StudentID: "s1", Name: "Ada"},
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
		)
		mustAppend(t, log, "Student-s2", StudentCreated{StudentID: "s2", Name: "Alan"})
		mustAppend(t, log, "Student-s1", StudentEnrolled{StudentID: "s1", Course: "CS-201"})

		stored, err := log.ReadStreamRaw(ctx, "Student-s1", 0)
		require.NoError(t, err)
		require.Len(t, stored, 3)
		for i, se := range stored {
			assert.Equal(t, int64(i+1), se.Version)
		}
		// Global sequence is ascending across streams
		assert.Greater(t, stored[2].GlobalSequence, stored[1].GlobalSequence)

		tip, err := log.LastSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), tip)
	})

	t.Run("default append is unconditional", func(t *testing.T) {
		log, _ := newTestLog()

		mustAppend(t, log, "Student-s1", StudentCreated{StudentID: "s1"})
		// No ExpectVersion: never conflicts
		mustAppend(t, log, "Student-s1", StudentEnrolled{StudentID: "s1", Course: "CS-201"})
	})

	t.Run("expect version detects conflicts", func(t *testing.T) {
		log, _ := newTestLog()

		err := log.Append(ctx, "Student-s1", []interface{}{StudentCreated{StudentID: "s1"}},
			ExpectVersion(NoStream))
		require.NoError(t, err)

		// Stream now exists at version 1
		err = log.Append(ctx, "Student-s1", []interface{}{StudentCreated{StudentID: "s1"}},
			ExpectVersion(NoStream))
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		err = log.Append(ctx, "Student-s1", []interface{}{StudentEnrolled{StudentID: "s1", Course: "CS-201"}},
			ExpectVersion(5))
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		err = log.Append(ctx, "Student-s1", []interface{}{StudentEnrolled{StudentID: "s1", Course: "CS-201"}},
			ExpectVersion(1))
		assert.NoError(t, err)
	})

	t.Run("stream exists requires the stream", func(t *testing.T) {
		log, _ := newTestLog()

		err := log.Append(ctx, "Student-missing", []interface{}{StudentEnrolled{StudentID: "s1"}},
			ExpectVersion(StreamExists))
		assert.ErrorIs(t, err, ErrStreamNotFound)
	})

	t.Run("a failed append persists nothing", func(t *testing.T) {
		log, adapter := newTestLog()

		mustAppend(t, log, "Student-s1", StudentCreated{StudentID: "s1"})
		before := adapter.EventCount()

		err := log.Append(ctx, "Student-s1", []interface{}{
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
			StudentEnrolled{StudentID: "s1", Course: "CS-201"},
		}, ExpectVersion(7))
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		assert.Equal(t, before, adapter.EventCount())
	})

	t.Run("validates input", func(t *testing.T) {
		log, _ := newTestLog()

		assert.ErrorIs(t, log.Append(ctx, "", []interface{}{StudentCreated{}}), ErrEmptyStreamID)
		assert.ErrorIs(t, log.Append(ctx, "Student-s1", nil), ErrNoEvents)
	})

	t.Run("attaches metadata to every event in the batch", func(t *testing.T) {
		log, _ := newTestLog()

		meta := Metadata{}.WithCorrelationID("corr-1").WithUserID("u1")
		err := log.Append(ctx, "Student-s1", []interface{}{
			StudentCreated{StudentID: "s1"},
			StudentEnrolled{StudentID: "s1", Course: "CS-201"},
		}, WithAppendMetadata(meta))
		require.NoError(t, err)

		stored, err := log.ReadStreamRaw(ctx, "Student-s1", 0)
		require.NoError(t, err)
		for _, se := range stored {
			assert.Equal(t, "corr-1", se.Metadata.CorrelationID)
			assert.Equal(t, "u1", se.Metadata.UserID)
		}
	})
}

func TestEventLog_ReadStream(t *testing.T) {
	ctx := context.Background()

	t.Run("returns deserialized events in order", func(t *testing.T) {
		log, _ := newTestLog()
		mustAppend(t, log, "Student-s1",
			StudentCreated{StudentID: "s1", Name: "Ada"},
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
		)

		events, err := log.ReadStream(ctx, "Student-s1", 0)
		require.NoError(t, err)
		require.Len(t, events, 2)

		created, ok := events[0].Data.(StudentCreated)
		require.True(t, ok)
		assert.Equal(t, "Ada", created.Name)
		assert.Equal(t, int64(1), events[0].Version)
	})

	t.Run("missing stream fails with ErrStreamNotFound", func(t *testing.T) {
		log, _ := newTestLog()

		_, err := log.ReadStream(ctx, "Student-missing", 0)
		assert.ErrorIs(t, err, ErrStreamNotFound)
	})

	t.Run("from version past the tip returns empty, not an error", func(t *testing.T) {
		log, _ := newTestLog()
		mustAppend(t, log, "Student-s1", StudentCreated{StudentID: "s1"})

		events, err := log.ReadStream(ctx, "Student-s1", 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("from version selects a suffix", func(t *testing.T) {
		log, _ := newTestLog()
		mustAppend(t, log, "Student-s1",
			StudentCreated{StudentID: "s1"},
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
			StudentEnrolled{StudentID: "s1", Course: "CS-201"},
		)

		events, err := log.ReadStream(ctx, "Student-s1", 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2), events[0].Version)
	})

	t.Run("unregistered payload type fails the read", func(t *testing.T) {
		adapterLog, adapter := newTestLog()
		mustAppend(t, adapterLog, "Student-s1", StudentCreated{StudentID: "s1"})

		// A log without registrations cannot produce typed payloads
		bare := New(adapter)
		_, err := bare.ReadStream(ctx, "Student-s1", 0)
		assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
	})
}

func TestEventLog_ReadAllSince(t *testing.T) {
	ctx := context.Background()

	t.Run("interleaves streams in global order", func(t *testing.T) {
		log, _ := newTestLog()
		mustAppend(t, log, "Student-s1", StudentCreated{StudentID: "s1"})
		mustAppend(t, log, "Student-s2", StudentCreated{StudentID: "s2"})
		mustAppend(t, log, "Student-s1", StudentEnrolled{StudentID: "s1", Course: "CS-201"})

		events, err := log.ReadAllSince(ctx, 0, 100)
		require.NoError(t, err)
		require.Len(t, events, 3)

		var last uint64
		for _, e := range events {
			assert.Greater(t, e.GlobalSequence, last)
			last = e.GlobalSequence
		}
	})

	t.Run("since is exclusive", func(t *testing.T) {
		log, _ := newTestLog()
		mustAppend(t, log, "Student-s1",
			StudentCreated{StudentID: "s1"},
			StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
		)

		events, err := log.ReadAllSince(ctx, 1, 100)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, uint64(2), events[0].GlobalSequence)
	})

	t.Run("caught-up feed returns empty", func(t *testing.T) {
		log, _ := newTestLog()
		mustAppend(t, log, "Student-s1", StudentCreated{StudentID: "s1"})

		events, err := log.ReadAllSince(ctx, 1, 100)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("limit bounds the batch", func(t *testing.T) {
		log, _ := newTestLog()
		for i := 0; i < 5; i++ {
			mustAppend(t, log, "Student-s1", StudentEnrolled{StudentID: "s1"})
		}

		events, err := log.ReadAllSince(ctx, 0, 2)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}

func TestEventLog_Aggregates(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load round trip", func(t *testing.T) {
		log, _ := newTestLog()

		student := newTestStudent("s1")
		student.Create("Ada", "ada@x.com", adaDOB)
		student.Enroll("MATH-101")
		require.NoError(t, log.SaveAggregate(ctx, student))

		assert.Equal(t, int64(2), student.Version())
		assert.Empty(t, student.UncommittedEvents())

		loaded := newTestStudent("s1")
		require.NoError(t, log.LoadAggregate(ctx, loaded))

		assert.Equal(t, "Ada", loaded.Name)
		assert.Equal(t, []string{"MATH-101"}, loaded.Courses)
		assert.Equal(t, int64(2), loaded.Version())
	})

	t.Run("save uses loaded version for concurrency", func(t *testing.T) {
		log, _ := newTestLog()

		student := newTestStudent("s1")
		student.Create("Ada", "ada@x.com", adaDOB)
		require.NoError(t, log.SaveAggregate(ctx, student))

		first := newTestStudent("s1")
		second := newTestStudent("s1")
		require.NoError(t, log.LoadAggregate(ctx, first))
		require.NoError(t, log.LoadAggregate(ctx, second))

		first.Enroll("MATH-101")
		require.NoError(t, log.SaveAggregate(ctx, first))

		second.Enroll("CS-201")
		err := log.SaveAggregate(ctx, second)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		// The stale writer can reload and retry
		retry := newTestStudent("s1")
		require.NoError(t, log.LoadAggregate(ctx, retry))
		retry.Enroll("CS-201")
		assert.NoError(t, log.SaveAggregate(ctx, retry))
	})

	t.Run("load of a missing aggregate fails with ErrStreamNotFound", func(t *testing.T) {
		log, _ := newTestLog()

		err := log.LoadAggregate(ctx, newTestStudent("nobody"))
		assert.ErrorIs(t, err, ErrStreamNotFound)
	})

	t.Run("save with no uncommitted events is a no-op", func(t *testing.T) {
		log, adapter := newTestLog()

		require.NoError(t, log.SaveAggregate(ctx, newTestStudent("s1")))
		assert.Equal(t, 0, adapter.EventCount())
	})

	t.Run("nil aggregate", func(t *testing.T) {
		log, _ := newTestLog()
		assert.ErrorIs(t, log.SaveAggregate(ctx, nil), ErrNilAggregate)
		assert.ErrorIs(t, log.LoadAggregate(ctx, nil), ErrNilAggregate)
	})
}

// snapshotStudent adds snapshot support to the test aggregate.
type snapshotStudent struct {
	testStudent
}

func newSnapshotStudent(id string) *snapshotStudent {
	return &snapshotStudent{testStudent: *newTestStudent(id)}
}

func (s *snapshotStudent) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(struct {
		Name        string    `json:"name"`
		Email       string    `json:"email"`
		DateOfBirth time.Time `json:"dob"`
		Courses     []string  `json:"courses"`
	}{s.Name, s.Email, s.DateOfBirth, s.Courses})
}

func (s *snapshotStudent) UnmarshalSnapshot(data []byte) error {
	var state struct {
		Name        string    `json:"name"`
		Email       string    `json:"email"`
		DateOfBirth time.Time `json:"dob"`
		Courses     []string  `json:"courses"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.Name = state.Name
	s.Email = state.Email
	s.DateOfBirth = state.DateOfBirth
	s.Courses = state.Courses
	return nil
}

func TestEventLog_Snapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot seeds the fold", func(t *testing.T) {
		log, _ := newTestLog()

		student := newSnapshotStudent("s1")
		student.Create("Ada", "ada@x.com", adaDOB)
		student.Enroll("MATH-101")
		require.NoError(t, log.SaveAggregate(ctx, student))
		require.NoError(t, log.SaveSnapshot(ctx, student))

		// Events after the snapshot still replay
		student.Enroll("CS-201")
		require.NoError(t, log.SaveAggregate(ctx, student))

		loaded := newSnapshotStudent("s1")
		require.NoError(t, log.LoadAggregate(ctx, loaded))

		assert.Equal(t, "Ada", loaded.Name)
		assert.ElementsMatch(t, []string{"MATH-101", "CS-201"}, loaded.Courses)
		assert.Equal(t, int64(3), loaded.Version())
	})

	t.Run("snapshot at the tip loads without events", func(t *testing.T) {
		log, _ := newTestLog()

		student := newSnapshotStudent("s1")
		student.Create("Ada", "ada@x.com", adaDOB)
		require.NoError(t, log.SaveAggregate(ctx, student))
		require.NoError(t, log.SaveSnapshot(ctx, student))

		loaded := newSnapshotStudent("s1")
		require.NoError(t, log.LoadAggregate(ctx, loaded))
		assert.Equal(t, "Ada", loaded.Name)
		assert.Equal(t, "ada@x.com", loaded.Email)
		assert.True(t, loaded.DateOfBirth.Equal(adaDOB))
		assert.Equal(t, int64(1), loaded.Version())
	})
}

func TestEventLog_StreamInfo(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestLog()

	mustAppend(t, log, "Student-s1",
		StudentCreated{StudentID: "s1"},
		StudentEnrolled{StudentID: "s1", Course: "MATH-101"},
	)

	info, err := log.StreamInfo(ctx, "Student-s1")
	require.NoError(t, err)

	assert.Equal(t, "Student-s1", info.StreamID)
	assert.Equal(t, "Student", info.Category)
	assert.Equal(t, int64(2), info.Version)
	assert.Equal(t, int64(2), info.EventCount)

	_, err = log.StreamInfo(ctx, "Student-missing")
	assert.ErrorIs(t, err, ErrStreamNotFound)
}
