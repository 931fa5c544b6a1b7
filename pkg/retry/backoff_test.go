package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(error) bool { return true }, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("bad input")
	}, func(error) bool { return false }, fastConfig(5))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	failed := 0
	err := DoWithCallbacks(context.Background(), func() error {
		calls++
		return errors.New("transient")
	}, func(error) bool { return true }, fastConfig(2), Callbacks{
		OnRetryFailure: func(attempt int, err error) { failed++ },
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.Equal(t, 1, failed)
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error {
		return errors.New("transient")
	}, func(error) bool { return true }, Config{
		MaxRetries:      3,
		InitialInterval: time.Minute,
		MaxInterval:     time.Minute,
		Multiplier:      1,
	})

	require.ErrorIs(t, err, context.Canceled)
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "status" }
func (e statusErr) StatusCode() int { return e.code }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"server error", statusErr{502}, true},
		{"too many requests", statusErr{429}, true},
		{"client error", statusErr{404}, false},
		{"wrapped server error", errors.Join(errors.New("call failed"), statusErr{500}), true},
		{"timeout", &net.DNSError{IsTimeout: true}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}
