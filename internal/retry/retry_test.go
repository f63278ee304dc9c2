package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func instant(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	var slept []time.Duration
	p := Default()
	p.Sleep = instant(&slept)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return statusErr(503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	var slept []time.Duration
	p := Default()
	p.Sleep = instant(&slept)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return statusErr(400)
	})
	assert.Equal(t, statusErr(400), err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestGivesUpAfterAllDelays(t *testing.T) {
	var slept []time.Duration
	p := Default()
	p.Sleep = instant(&slept)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return statusErr(502)
	})
	assert.Equal(t, statusErr(502), err)
	assert.Equal(t, 4, calls)
	assert.Len(t, slept, 3)
}

func TestCancelledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Delays: []time.Duration{time.Hour}}

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return statusErr(503)
	})
	assert.Equal(t, statusErr(503), err)
	assert.Equal(t, 1, calls)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	p := Policy{Delays: []time.Duration{time.Hour}, Retryable: func(error) bool { return true }}

	start := time.Now()
	err := p.Do(ctx, func(ctx context.Context) error {
		if ctx.Err() == nil {
			return errors.New("boom")
		}
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDoValue(t *testing.T) {
	var slept []time.Duration
	p := Default()
	p.Sleep = instant(&slept)

	n := 0
	v, err := DoValue(context.Background(), p, func(context.Context) (string, error) {
		n++
		if n == 1 {
			return "", statusErr(429)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(statusErr(0)))
	assert.True(t, IsRetryable(statusErr(504)))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", statusErr(500))))
	assert.True(t, IsRetryable(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, IsRetryable(statusErr(401)))
	assert.False(t, IsRetryable(statusErr(404)))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
