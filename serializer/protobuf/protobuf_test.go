package protobuf

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type notAProtoMessage struct {
	Value string
}

func TestSerializer_Register(t *testing.T) {
	t.Run("registers a proto message", func(t *testing.T) {
		s := NewSerializer()

		require.NoError(t, s.Register("StudentName", &wrapperspb.StringValue{}))

		typ, ok := s.Lookup("StudentName")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(wrapperspb.StringValue{}), typ)
	})

	t.Run("rejects a non-proto type", func(t *testing.T) {
		s := NewSerializer()

		err := s.Register("Bad", notAProtoMessage{})
		assert.ErrorIs(t, err, ErrNotProtoMessage)
		assert.Equal(t, 0, s.Count())
	})

	t.Run("rejects nil", func(t *testing.T) {
		s := NewSerializer()
		assert.ErrorIs(t, s.Register("Nil", nil), ErrNilEvent)
	})

	t.Run("re-registering overwrites", func(t *testing.T) {
		s := NewSerializer()
		require.NoError(t, s.Register("Value", &wrapperspb.StringValue{}))
		require.NoError(t, s.Register("Value", &wrapperspb.Int64Value{}))

		typ, ok := s.Lookup("Value")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(wrapperspb.Int64Value{}), typ)
		assert.Equal(t, 1, s.Count())
	})

	t.Run("register all uses type names", func(t *testing.T) {
		s := NewSerializer()
		require.NoError(t, s.RegisterAll(&wrapperspb.StringValue{}, &wrapperspb.BoolValue{}))

		assert.ElementsMatch(t, []string{"StringValue", "BoolValue"}, s.RegisteredTypes())
	})

	t.Run("register all stops at the first bad type", func(t *testing.T) {
		s := NewSerializer()
		err := s.RegisterAll(&wrapperspb.StringValue{}, notAProtoMessage{})
		assert.ErrorIs(t, err, ErrNotProtoMessage)
	})

	t.Run("must register panics on error", func(t *testing.T) {
		s := NewSerializer()
		assert.Panics(t, func() {
			s.MustRegister("Bad", notAProtoMessage{})
		})
		assert.NotPanics(t, func() {
			s.MustRegister("Good", &wrapperspb.StringValue{})
		})
	})
}

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()
	s.MustRegister("StudentName", &wrapperspb.StringValue{})

	data, err := s.Serialize(wrapperspb.String("Ada Lovelace"))
	require.NoError(t, err)

	decoded, err := s.Deserialize(data, "StudentName")
	require.NoError(t, err)

	value, ok := decoded.(*wrapperspb.StringValue)
	require.True(t, ok, "expected *wrapperspb.StringValue, got %T", decoded)
	assert.Equal(t, "Ada Lovelace", value.GetValue())
}

func TestSerializer_Serialize(t *testing.T) {
	s := NewSerializer()

	t.Run("nil event", func(t *testing.T) {
		_, err := s.Serialize(nil)
		assert.ErrorIs(t, err, ErrNilEvent)
	})

	t.Run("non-proto event", func(t *testing.T) {
		_, err := s.Serialize(notAProtoMessage{Value: "x"})
		assert.ErrorIs(t, err, ErrNotProtoMessage)
	})
}

func TestSerializer_Deserialize(t *testing.T) {
	t.Run("unregistered type", func(t *testing.T) {
		s := NewSerializer()
		_, err := s.Deserialize([]byte{}, "Unknown")
		assert.ErrorIs(t, err, ErrTypeNotRegistered)
	})

	t.Run("nil data", func(t *testing.T) {
		s := NewSerializer()
		s.MustRegister("StudentName", &wrapperspb.StringValue{})

		_, err := s.Deserialize(nil, "StudentName")
		assert.ErrorIs(t, err, ErrEmptyData)
	})

	t.Run("empty slice is a valid zero-value message", func(t *testing.T) {
		s := NewSerializer()
		s.MustRegister("StudentName", &wrapperspb.StringValue{})

		decoded, err := s.Deserialize([]byte{}, "StudentName")
		require.NoError(t, err)

		value, ok := decoded.(*wrapperspb.StringValue)
		require.True(t, ok)
		assert.Empty(t, value.GetValue())
	})

	t.Run("malformed data", func(t *testing.T) {
		s := NewSerializer()
		s.MustRegister("StudentName", &wrapperspb.StringValue{})

		_, err := s.Deserialize([]byte{0xff, 0xff, 0xff}, "StudentName")
		require.Error(t, err)

		var serErr *SerializationError
		require.ErrorAs(t, err, &serErr)
		assert.Equal(t, "deserialize", serErr.Operation)
	})
}
