package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy(attempts int) Policy {
	return Policy{
		Attempts:  attempts,
		Initial:   time.Millisecond,
		Max:       2 * time.Millisecond,
		Retryable: func(err error) bool { return errors.Is(err, errFlaky) },
	}
}

func Test_Retry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var waits []int
	p := fastPolicy(5)
	p.OnRetry = func(_ error, attempt int, _ time.Duration) { waits = append(waits, attempt) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, waits)
}

func Test_Retry_StopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func Test_Retry_ExhaustsAttempts(t *testing.T) {
	calls := 0

	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

func Test_Retry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastPolicy(10)
	p.Initial = time.Second
	p.Max = time.Second

	err := Do(ctx, p, func(context.Context) error { return errFlaky })
	require.ErrorIs(t, err, context.Canceled)
}
