package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func TestPolicyBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	p := Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	require.Equal(t, time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 4*time.Second, p.Backoff(3))
	require.Equal(t, 5*time.Second, p.Backoff(4))
	require.Equal(t, 5*time.Second, p.Backoff(10))
	require.Equal(t, time.Second, p.Backoff(0))
}

func TestPolicyBackoffJitterStaysInRange(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.Backoff(2)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.Less(t, d, 200*time.Millisecond)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond}, sleeper, nil,
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, sleeper.waits)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3}, &recordingSleeper{},
		func(err error) bool { return !errors.Is(err, permanent) },
		func(context.Context) error {
			calls++
			return permanent
		})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 2}, &recordingSleeper{}, nil,
		func(context.Context) error {
			calls++
			return errors.New("down")
		})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestTimerSleeperHonoursCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := TimerSleeper{}.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}
