package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2023, 4, 20, 0, 0, 0, 0, time.UTC)

func newTestValidator(skew time.Duration) *Validator {
	return &Validator{
		MaxAge:        30 * 24 * time.Hour,
		SkewTolerance: skew,
		Now:           func() time.Time { return testNow },
	}
}

func TestValidateFormats(t *testing.T) {
	tests := []struct {
		raw      string
		expected time.Time
	}{
		{"2023-04-15T02:30:00Z", time.Date(2023, 4, 15, 2, 30, 0, 0, time.UTC)},
		{"2023-04-15T02:30:00.123456Z", time.Date(2023, 4, 15, 2, 30, 0, 123456000, time.UTC)},
		{"2023-04-15T02:30:00", time.Date(2023, 4, 15, 2, 30, 0, 0, time.UTC)},
		{"2023-04-15T02:30:00.5", time.Date(2023, 4, 15, 2, 30, 0, 500000000, time.UTC)},
		{"2023-04-15 02:30:00", time.Date(2023, 4, 15, 2, 30, 0, 0, time.UTC)},
		{"2023-04-15", time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC)},
		{"2023-04-15T04:30:00+02:00", time.Date(2023, 4, 15, 2, 30, 0, 0, time.UTC)},
	}

	v := newTestValidator(0)
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ts, err := v.Validate(tt.raw)
			require.NoError(t, err)
			assert.True(t, ts.Equal(tt.expected), "got %s", ts)
			assert.Equal(t, time.UTC, ts.Location())
		})
	}
}

func TestValidateUnparsable(t *testing.T) {
	v := newTestValidator(0)

	for _, raw := range []string{"", "  ", "not-a-date", "15/04/2023", "1681524600"} {
		_, err := v.Validate(raw)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, raw)
	}
}

func TestValidateWindowBoundaries(t *testing.T) {
	v := newTestValidator(0)

	t.Run("oldest boundary inclusive", func(t *testing.T) {
		_, err := v.Validate("2023-03-21T00:00:00Z") // exactly now - 30d
		assert.NoError(t, err)
	})

	t.Run("one second too old", func(t *testing.T) {
		_, err := v.Validate("2023-03-20T23:59:59Z")
		assert.ErrorIs(t, err, ErrTimestampOutOfWindow)
	})

	t.Run("now is accepted", func(t *testing.T) {
		_, err := v.Validate("2023-04-20T00:00:00Z")
		assert.NoError(t, err)
	})

	t.Run("future rejected without skew tolerance", func(t *testing.T) {
		_, err := v.Validate("2023-04-20T00:00:01Z")
		assert.ErrorIs(t, err, ErrTimestampOutOfWindow)
	})
}

func TestValidateSkewTolerance(t *testing.T) {
	v := newTestValidator(time.Minute)

	_, err := v.Validate("2023-04-20T00:01:00Z") // exactly now + tolerance
	assert.NoError(t, err)

	_, err = v.Validate("2023-04-20T00:01:01Z")
	assert.ErrorIs(t, err, ErrTimestampOutOfWindow)
}
