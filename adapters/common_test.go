package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCategory(t *testing.T) {
	tests := []struct {
		streamID string
		want     string
	}{
		{"Student-s1", "Student"},
		{"Account-acc-42", "Account"},
		{"nocategory", "nocategory"},
		{"-leading", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractCategory(tt.streamID), tt.streamID)
	}
}

func TestCheckVersion(t *testing.T) {
	t.Run("any version never conflicts", func(t *testing.T) {
		assert.NoError(t, CheckVersion("Student-s1", AnyVersion, 0, false))
		assert.NoError(t, CheckVersion("Student-s1", AnyVersion, 7, true))
	})

	t.Run("no stream", func(t *testing.T) {
		assert.NoError(t, CheckVersion("Student-s1", NoStream, 0, false))

		err := CheckVersion("Student-s1", NoStream, 3, true)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		var concErr *ConcurrencyError
		assert.ErrorAs(t, err, &concErr)
		assert.Equal(t, int64(3), concErr.ActualVersion)
	})

	t.Run("stream exists", func(t *testing.T) {
		assert.NoError(t, CheckVersion("Student-s1", StreamExists, 5, true))
		assert.ErrorIs(t, CheckVersion("Student-s1", StreamExists, 0, false), ErrStreamNotFound)
	})

	t.Run("exact version", func(t *testing.T) {
		assert.NoError(t, CheckVersion("Student-s1", 5, 5, true))
		assert.ErrorIs(t, CheckVersion("Student-s1", 5, 6, true), ErrConcurrencyConflict)
		assert.ErrorIs(t, CheckVersion("Student-s1", 2, 0, false), ErrConcurrencyConflict)
	})

	t.Run("invalid expected version", func(t *testing.T) {
		assert.ErrorIs(t, CheckVersion("Student-s1", -7, 0, false), ErrInvalidVersion)
	})
}

func TestDefaultLimit(t *testing.T) {
	assert.Equal(t, 100, DefaultLimit(0, 100))
	assert.Equal(t, 100, DefaultLimit(-5, 100))
	assert.Equal(t, 25, DefaultLimit(25, 100))
}

func TestConcurrencyError_Message(t *testing.T) {
	err := NewConcurrencyError("Student-s1", 2, 5)
	assert.Contains(t, err.Error(), "Student-s1")
	assert.Contains(t, err.Error(), "expected version 2")
}

func TestStreamNotFoundError_Message(t *testing.T) {
	err := NewStreamNotFoundError("Student-missing")
	assert.Contains(t, err.Error(), "Student-missing")
}
