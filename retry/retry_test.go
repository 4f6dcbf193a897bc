package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0

	result, err := Do(context.Background(), fastPolicy(), func() (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0

	result, err := Do(context.Background(), fastPolicy(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttemptsAndPropagatesLastError(t *testing.T) {
	calls := 0
	boom := errors.New("remote unavailable")

	_, err := Do(context.Background(), fastPolicy(), func() (int, error) {
		calls++
		return 0, boom
	})

	// maxRetries=3 means 4 total attempts, and the last error comes back
	// unchanged.
	assert.Equal(t, 4, calls)
	assert.Same(t, boom, errors.Cause(err))
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("bad credentials")

	p := fastPolicy()
	p.IsRetryable = func(err error) bool { return false }

	_, err := Do(context.Background(), p, func() (int, error) {
		calls++
		return 0, fatal
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, fatal, errors.Cause(err))
}

func TestDo_RateLimitWaitOverridesBackoff(t *testing.T) {
	calls := 0
	var waitQueried int

	p := fastPolicy()
	p.RateLimitWait = func(err error) (time.Duration, bool) {
		waitQueried++
		return 20 * time.Millisecond, true
	}

	start := time.Now()
	_, err := Do(context.Background(), p, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("rate limited")
		}
		return 1, nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, waitQueried)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

func TestDo_CancelledDuringSleep(t *testing.T) {
	p := fastPolicy()
	p.InitialDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func() (int, error) {
			return 0, errors.New("transient")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, fastPolicy(), func() (int, error) {
		calls++
		return 0, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDo_ZeroMaxRetriesMeansSingleAttempt(t *testing.T) {
	calls := 0
	p := fastPolicy()
	p.MaxRetries = 0

	_, err := Do(context.Background(), p, func() (int, error) {
		calls++
		return 0, errors.New("nope")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
