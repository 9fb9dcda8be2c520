package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("version conflict")

func fastRetrier(attempts int, opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(attempts),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(2 * time.Millisecond),
		WithJitter(0),
	}
	return New(append(base, opts...)...)
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := fastRetrier(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := fastRetrier(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errConflict)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errConflict, err)
}

func TestDo_UnmarkedErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := fastRetrier(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errConflict
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errConflict)
	assert.False(t, IsExhausted(err))
}

func TestDo_Exhausted(t *testing.T) {
	var retries []int
	err := fastRetrier(3, WithOnRetry(func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	})).Do(context.Background(), func(ctx context.Context) error {
		return Retryable(errConflict)
	})

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, []int{1, 2}, retries)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDo_RetryIf(t *testing.T) {
	calls := 0
	r := fastRetrier(4, WithRetryIf(func(err error) bool { return errors.Is(err, errConflict) }))
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errConflict
	})

	assert.Equal(t, 4, calls)
	assert.True(t, IsExhausted(err))
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastRetrier(3).Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errConflict)
		}
		return 42, nil
	}, WithInitialDelay(time.Millisecond), WithJitter(0))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCalculateDelay_Capped(t *testing.T) {
	r := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(40*time.Millisecond), WithJitter(0))

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 20*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 40*time.Millisecond, r.calculateDelay(5))
}
