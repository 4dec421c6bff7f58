package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	}, WithMaxAttempts(5), WithBaseDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("gateway timeout")
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return sentinel
	}, WithMaxAttempts(3), WithBaseDelay(time.Millisecond))

	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")
	assert.Equal(t, 3, attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("card declined")
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return Permanent(sentinel)
	}, WithMaxAttempts(5), WithBaseDelay(time.Millisecond))

	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error {
		return errors.New("fail")
	}, WithMaxAttempts(3), WithBaseDelay(time.Second))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, time.Second, calculateBackoff(0, time.Second, 30*time.Second))
	assert.Equal(t, 8*time.Second, calculateBackoff(3, time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, calculateBackoff(10, time.Second, 30*time.Second))
}
