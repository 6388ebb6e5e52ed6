package stability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/testutils"
	"tradewatch/internal/types"
)

func newTestOrchestrator(t *testing.T, policy RetryPolicy, breaker BreakerSettings) (*RecoveryOrchestrator, *[]time.Duration) {
	suite := testutils.NewTestSuite(t, nil)
	t.Cleanup(suite.TearDown)

	ro := NewRecoveryOrchestrator(policy, breaker, 10, suite.Logger, nil)
	var waits []time.Duration
	ro.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return ro, &waits
}

func criticalAlert(component string) *types.Alert {
	return &types.Alert{ID: "a-1", Component: component, AlertType: "health_check_failed", Level: types.LevelCritical, Active: true}
}

func TestRecoveryFailingHandlerExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Multiplier: 2}
	ro, waits := newTestOrchestrator(t, policy, BreakerSettings{ConsecutiveFailures: 10})

	var calls atomic.Int32
	require.NoError(t, ro.Register("database", func(ctx context.Context, alert *types.Alert) (bool, error) {
		calls.Add(1)
		return false, errors.New("connection refused")
	}))

	result := ro.Attempt(context.Background(), "database", criticalAlert("database"))
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, result.Error, "connection refused")
	assert.Equal(t, "a-1", result.AlertID)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)

	history := ro.History("database")
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestRecoverySucceedsAfterRetry(t *testing.T) {
	ro, _ := newTestOrchestrator(t, RetryPolicy{MaxAttempts: 3}, BreakerSettings{})

	var calls atomic.Int32
	require.NoError(t, ro.Register("exchange", func(ctx context.Context, alert *types.Alert) (bool, error) {
		return calls.Add(1) >= 2, nil
	}))

	result := ro.Attempt(context.Background(), "exchange", criticalAlert("exchange"))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	assert.Empty(t, result.Error)
	assert.Equal(t, "closed", result.Breaker)
}

func TestRecoveryBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ro, _ := newTestOrchestrator(t, RetryPolicy{MaxAttempts: 2}, BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Hour})

	var calls atomic.Int32
	require.NoError(t, ro.Register("database", func(ctx context.Context, alert *types.Alert) (bool, error) {
		calls.Add(1)
		return false, nil
	}))

	first := ro.Attempt(context.Background(), "database", criticalAlert("database"))
	assert.Equal(t, 2, first.Attempts)
	second := ro.Attempt(context.Background(), "database", criticalAlert("database"))
	assert.Contains(t, second.Error, "circuit breaker open")
	assert.Equal(t, "open", ro.BreakerState("database"))

	before := calls.Load()
	third := ro.Attempt(context.Background(), "database", criticalAlert("database"))
	assert.False(t, third.Success)
	assert.Equal(t, 1, third.Attempts)
	assert.Equal(t, before, calls.Load(), "open breaker must not invoke the handler")
	assert.Len(t, ro.History("database"), 3)
}

func TestRecoveryHandlerPanicIsContained(t *testing.T) {
	ro, _ := newTestOrchestrator(t, RetryPolicy{MaxAttempts: 1}, BreakerSettings{})
	require.NoError(t, ro.Register("strategy", func(ctx context.Context, alert *types.Alert) (bool, error) {
		panic("index out of range")
	}))

	result := ro.Attempt(context.Background(), "strategy", criticalAlert("strategy"))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "index out of range")
}

func TestRecoveryAttemptTimeout(t *testing.T) {
	ro, _ := newTestOrchestrator(t, RetryPolicy{MaxAttempts: 1, AttemptTimeout: 20 * time.Millisecond}, BreakerSettings{})
	require.NoError(t, ro.Register("slow", func(ctx context.Context, alert *types.Alert) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}))

	start := time.Now()
	result := ro.Attempt(context.Background(), "slow", nil)
	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, result.Error, "deadline exceeded")
}

func TestRecoveryWithoutHandler(t *testing.T) {
	ro, _ := newTestOrchestrator(t, DefaultRetryPolicy(), BreakerSettings{})

	result := ro.Attempt(context.Background(), "unknown", criticalAlert("unknown"))
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Attempts)
	assert.Contains(t, result.Error, "NO_RECOVERY_HANDLER")
	assert.False(t, ro.HasHandler("unknown"))
	assert.Equal(t, "", ro.BreakerState("unknown"))
}

func TestRecoveryCancelledContextStopsRetries(t *testing.T) {
	ro, _ := newTestOrchestrator(t, RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second}, BreakerSettings{})
	require.NoError(t, ro.Register("database", func(ctx context.Context, alert *types.Alert) (bool, error) {
		return false, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := ro.Attempt(ctx, "database", criticalAlert("database"))
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Contains(t, result.Error, "cancelled")
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))

	p.Jitter = 0.1
	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		if d < 1800*time.Millisecond || d > 2200*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", d)
		}
	}
}

func TestRecoveryHistoryIsBounded(t *testing.T) {
	ro, _ := newTestOrchestrator(t, RetryPolicy{MaxAttempts: 1}, BreakerSettings{ConsecutiveFailures: 100})
	require.NoError(t, ro.Register("api", func(ctx context.Context, alert *types.Alert) (bool, error) {
		return true, nil
	}))
	for i := 0; i < 15; i++ {
		ro.Attempt(context.Background(), "api", nil)
	}
	assert.Len(t, ro.History("api"), 10)
}
