package msgpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TemperatureRecorded struct {
	SensorID string  `msgpack:"sensorId"`
	Celsius  float64 `msgpack:"celsius"`
}

type SensorRegistered struct {
	SensorID string `msgpack:"sensorId"`
	Location string `msgpack:"location"`
}

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()
	s.Register("TemperatureRecorded", TemperatureRecorded{})

	data, err := s.Serialize(TemperatureRecorded{SensorID: "roof-1", Celsius: 21.5})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := s.Deserialize(data, "TemperatureRecorded")
	require.NoError(t, err)

	event, ok := decoded.(TemperatureRecorded)
	require.True(t, ok, "expected a value of the registered type, got %T", decoded)
	assert.Equal(t, "roof-1", event.SensorID)
	assert.Equal(t, 21.5, event.Celsius)
}

func TestSerializer_Serialize(t *testing.T) {
	t.Run("nil event", func(t *testing.T) {
		s := NewSerializer()

		_, err := s.Serialize(nil)
		require.Error(t, err)

		var serErr *SerializationError
		require.ErrorAs(t, err, &serErr)
		assert.Equal(t, "serialize", serErr.Operation)
	})

	t.Run("pointer input serializes like a value", func(t *testing.T) {
		s := NewSerializer()
		s.Register("TemperatureRecorded", TemperatureRecorded{})

		fromValue, err := s.Serialize(TemperatureRecorded{SensorID: "a", Celsius: 1})
		require.NoError(t, err)
		fromPointer, err := s.Serialize(&TemperatureRecorded{SensorID: "a", Celsius: 1})
		require.NoError(t, err)

		assert.Equal(t, fromValue, fromPointer)
	})
}

func TestSerializer_Deserialize(t *testing.T) {
	t.Run("unregistered event type", func(t *testing.T) {
		s := NewSerializer()

		_, err := s.Deserialize([]byte{0x80}, "Unknown")
		assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
	})

	t.Run("empty data", func(t *testing.T) {
		s := NewSerializer()
		s.Register("TemperatureRecorded", TemperatureRecorded{})

		_, err := s.Deserialize(nil, "TemperatureRecorded")
		var serErr *SerializationError
		require.ErrorAs(t, err, &serErr)
		assert.Equal(t, "deserialize", serErr.Operation)
	})

	t.Run("malformed data", func(t *testing.T) {
		s := NewSerializer()
		s.Register("TemperatureRecorded", TemperatureRecorded{})

		_, err := s.Deserialize([]byte{0xc1}, "TemperatureRecorded")
		var serErr *SerializationError
		require.ErrorAs(t, err, &serErr)
		assert.Equal(t, "TemperatureRecorded", serErr.EventType)
	})
}

func TestSerializer_Registry(t *testing.T) {
	t.Run("register all uses struct names", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(TemperatureRecorded{}, &SensorRegistered{})

		assert.Equal(t, 2, s.Count())
		assert.ElementsMatch(t, []string{"TemperatureRecorded", "SensorRegistered"}, s.RegisteredTypes())

		_, ok := s.Lookup("SensorRegistered")
		assert.True(t, ok)
		_, ok = s.Lookup("Unknown")
		assert.False(t, ok)
	})

	t.Run("register with explicit name and pointer example", func(t *testing.T) {
		s := NewSerializer()
		s.Register("sensor.temperature.v1", &TemperatureRecorded{})

		data, err := s.Serialize(TemperatureRecorded{SensorID: "roof-1"})
		require.NoError(t, err)

		decoded, err := s.Deserialize(data, "sensor.temperature.v1")
		require.NoError(t, err)
		assert.IsType(t, TemperatureRecorded{}, decoded)
	})
}
