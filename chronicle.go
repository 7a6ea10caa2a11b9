// Package chronicle provides an event-sourced persistence core for Go
// applications: an append-only event log with optimistic concurrency,
// a deterministic fold engine for rebuilding aggregate state, and an
// asynchronous projection engine with crash-safe checkpointing.
//
// # Quick Start
//
// Create an event log with the in-memory adapter for development:
//
//	import (
//	    "github.com/chronicle-es/go-chronicle"
//	    "github.com/chronicle-es/go-chronicle/adapters/memory"
//	)
//
//	log := chronicle.New(memory.NewAdapter())
//
// For production, use the PostgreSQL adapter:
//
//	import (
//	    "github.com/chronicle-es/go-chronicle"
//	    "github.com/chronicle-es/go-chronicle/adapters/postgres"
//	)
//
//	adapter, err := postgres.NewAdapter(connStr)
//	if err != nil {
//	    return err
//	}
//	log := chronicle.New(adapter)
//
// # Defining Events
//
// Events are simple structs that represent something that happened in your domain:
//
//	type StudentRegistered struct {
//	    StudentID string `json:"studentId"`
//	    Name      string `json:"name"`
//	}
//
//	type CourseEnrolled struct {
//	    StudentID string `json:"studentId"`
//	    CourseID  string `json:"courseId"`
//	}
//
// Register events with the log so they can be serialized and deserialized:
//
//	log.RegisterEvents(StudentRegistered{}, CourseEnrolled{})
//
// # Defining Aggregates
//
// Aggregates are domain objects that fold their event stream into state:
//
//	type Student struct {
//	    chronicle.AggregateBase
//	    Name    string
//	    Courses []string
//	}
//
//	func NewStudent(id string) *Student {
//	    return &Student{
//	        AggregateBase: chronicle.NewAggregateBase(id, "Student"),
//	    }
//	}
//
//	func (s *Student) Register(name string) {
//	    s.Record(StudentRegistered{StudentID: s.AggregateID(), Name: name})
//	    s.Name = name
//	}
//
//	func (s *Student) ApplyEvent(event interface{}) error {
//	    switch e := event.(type) {
//	    case StudentRegistered:
//	        s.Name = e.Name
//	    case CourseEnrolled:
//	        s.Courses = append(s.Courses, e.CourseID)
//	    default:
//	        return chronicle.NewUnknownEventTypeError(s.StreamID().String(), chronicle.EventTypeOf(event), s.Version()+1)
//	    }
//	    s.IncrementVersion()
//	    return nil
//	}
//
// Save aggregates to persist their uncommitted events, and load them to
// rebuild state by replaying the stream:
//
//	student := NewStudent("s1")
//	student.Register("Ada")
//	err := log.SaveAggregate(ctx, student)
//
//	loaded := NewStudent("s1")
//	err = log.LoadAggregate(ctx, loaded)
//
// # Low-Level Event Operations
//
// Append events directly to a stream and read them back:
//
//	events := []interface{}{
//	    StudentRegistered{StudentID: "s1", Name: "Ada"},
//	}
//	err := log.Append(ctx, "Student-s1", events)
//
//	typed, err := log.ReadStream(ctx, "Student-s1", 1)
//
// The global feed interleaves every stream in commit order:
//
//	all, err := log.ReadAllSince(ctx, 0, 100)
//
// # Optimistic Concurrency
//
// Use expected versions to prevent concurrent modifications:
//
//	// Create new stream (must not exist)
//	err := log.Append(ctx, "Student-s1", events, chronicle.ExpectVersion(chronicle.NoStream))
//
//	// Append to existing stream at specific version
//	err := log.Append(ctx, "Student-s1", events, chronicle.ExpectVersion(1))
//
// Version constants:
//   - AnyVersion (-1): Skip version check
//   - NoStream (0): Stream must not exist
//   - StreamExists (-2): Stream must exist
//
// # Projections
//
// Projections derive read models from the global feed. A DocumentProjection
// maintains one JSON document per stream:
//
//	enrollments := chronicle.NewProjection[EnrollmentDoc]("enrollments").
//	    On("StudentRegistered", func(doc *EnrollmentDoc, event chronicle.Event) error {
//	        doc.Name = event.Data.(StudentRegistered).Name
//	        return nil
//	    }).
//	    On("CourseEnrolled", func(doc *EnrollmentDoc, event chronicle.Event) error {
//	        doc.Courses++
//	        return nil
//	    })
//
// The engine runs registered projections in the background, committing each
// document together with its checkpoint so a crash never loses or repeats
// acknowledged progress:
//
//	engine := chronicle.NewProjectionEngine(log, views)
//	engine.Register(enrollments)
//	engine.Start(ctx)
//	defer engine.Stop(ctx)
//
// Rebuild a projection from scratch after changing its handlers:
//
//	rebuilder := chronicle.NewProjectionRebuilder(log, views)
//	result, err := rebuilder.Rebuild(ctx, enrollments, chronicle.DefaultRebuildOptions())
//
// # Metadata
//
// Attach metadata to events for tracing and multi-tenancy:
//
//	metadata := chronicle.Metadata{}.
//	    WithUserID("user-123").
//	    WithCorrelationID("corr-456")
//
//	err := log.Append(ctx, "Student-s1", events, chronicle.WithAppendMetadata(metadata))
package chronicle

// Version returns the library version string.
func Version() string {
	return "0.1.0"
}
