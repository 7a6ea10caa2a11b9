// Package msgpack provides a MessagePack serializer for chronicle.
//
// MessagePack is a binary serialization format that produces smaller payloads
// than JSON while maintaining similar flexibility. It is useful for
// high-throughput event logs where payload size matters.
//
// Basic usage:
//
//	serializer := msgpack.NewSerializer()
//	serializer.Register("StudentCreated", StudentCreated{})
//
//	data, err := serializer.Serialize(StudentCreated{ID: "s1"})
//	event, err := serializer.Deserialize(data, "StudentCreated")
package msgpack

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrEventTypeNotRegistered is returned when deserializing an event type
// that has no registered Go type.
var ErrEventTypeNotRegistered = errors.New("chronicle/msgpack: event type not registered")

// Serializer is a MessagePack implementation of chronicle.Serializer.
// It provides efficient binary serialization with type registry support.
type Serializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

// NewSerializer creates a new MessagePack Serializer with an empty registry.
func NewSerializer() *Serializer {
	return &Serializer{
		registry: make(map[string]reflect.Type),
	}
}

// Register adds a mapping from eventType to the Go type of the example.
// The example should be a value (not a pointer) of the event type.
func (s *Serializer) Register(eventType string, example interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.registry[eventType] = t
}

// RegisterAll registers multiple events using their struct names as type names.
// Each example should be a value (not a pointer) of the event type.
func (s *Serializer) RegisterAll(examples ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, example := range examples {
		t := reflect.TypeOf(example)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		s.registry[t.Name()] = t
	}
}

// Lookup returns the Go type for the given event type name.
func (s *Serializer) Lookup(eventType string) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.registry[eventType]
	return t, ok
}

// RegisteredTypes returns a slice of all registered event type names.
func (s *Serializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.registry))
	for t := range s.registry {
		types = append(types, t)
	}
	return types
}

// Count returns the number of registered event types.
func (s *Serializer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registry)
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, &SerializationError{
			EventType: "nil",
			Operation: "serialize",
			Err:       fmt.Errorf("event cannot be nil"),
		}
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		eventType := reflect.TypeOf(event).Name()
		return nil, &SerializationError{
			EventType: eventType,
			Operation: "serialize",
			Err:       err,
		}
	}

	return data, nil
}

// Deserialize converts MessagePack bytes back to a value of the registered
// type for eventType. An unregistered type is an error: silently degrading
// to an untyped map would let aggregates fold a payload their handlers
// cannot recognize.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, &SerializationError{
			EventType: eventType,
			Operation: "deserialize",
			Err:       fmt.Errorf("data cannot be empty"),
		}
	}

	t, ok := s.Lookup(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventTypeNotRegistered, eventType)
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, &SerializationError{
			EventType: eventType,
			Operation: "deserialize",
			Err:       err,
		}
	}

	return ptr.Elem().Interface(), nil
}

// SerializationError represents a serialization or deserialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Err       error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("chronicle/msgpack: failed to %s event %s: %v", e.Operation, e.EventType, e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}
