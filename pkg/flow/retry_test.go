package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), zerolog.Nop(), 5, func() error {
		calls++
		return verificationRequired("captcha wall")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindVerificationRequired, KindOf(err))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), zerolog.Nop(), 3, func() error {
		calls++
		return captureTimeoutf("no url yet")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindCaptureTimeout, KindOf(err))
}

func TestRetrySucceedsAfterFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), zerolog.Nop(), 3, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, zerolog.Nop(), 10, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
