package stability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/testutils"
)

func TestShutdownRunsStepsByPriority(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	sm := NewShutdownManager(time.Second, 100*time.Millisecond, suite.Logger, nil)
	var order []string
	step := func(name string, err error) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			return err
		}
	}
	sm.Register("store", 10, step("store", nil))
	sm.Register("api", 100, step("api", nil))
	sm.Register("monitor", 50, step("monitor", errors.New("persist failed")))

	result := sm.Shutdown(context.Background())
	assert.Equal(t, []string{"api", "monitor", "store"}, order)
	assert.False(t, result.Success)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, ShutdownStatusCompleted, result.Steps[0].Status)
	assert.Equal(t, ShutdownStatusFailed, result.Steps[1].Status)
	assert.Equal(t, "persist failed", result.Steps[1].Error)
	assert.Equal(t, ShutdownStatusCompleted, result.Steps[2].Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "monitor")
}

func TestShutdownStepTimeout(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	sm := NewShutdownManager(time.Second, 20*time.Millisecond, suite.Logger, nil)
	sm.Register("slow", 1, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	result := sm.Shutdown(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, ShutdownStatusFailed, result.Steps[0].Status)
	assert.Less(t, result.Duration, time.Second)
}

func TestShutdownSkipsStepsAfterDeadline(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	sm := NewShutdownManager(30*time.Millisecond, time.Second, suite.Logger, nil)
	sm.Register("first", 2, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ran := false
	sm.Register("second", 1, func(ctx context.Context) error {
		ran = true
		return nil
	})

	result := sm.Shutdown(context.Background())
	assert.False(t, ran)
	assert.False(t, result.Success)
	assert.Equal(t, ShutdownStatusCompleted, result.Steps[0].Status)
	assert.Equal(t, ShutdownStatusSkipped, result.Steps[1].Status)
}

func TestShutdownRunsOnce(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	sm := NewShutdownManager(time.Second, time.Second, suite.Logger, nil)
	calls := 0
	sm.Register("api", 1, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.True(t, sm.Shutdown(context.Background()).Success)
	second := sm.Shutdown(context.Background())
	assert.False(t, second.Success)
	assert.Empty(t, second.Steps)
	assert.Equal(t, 1, calls)
}
