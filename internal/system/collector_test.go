package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/testutils"
	"tradewatch/internal/types"
)

func snapshotAt(ts time.Time, cpu float64) *types.SystemMetricsSnapshot {
	return &types.SystemMetricsSnapshot{Timestamp: ts, CPUUsage: cpu}
}

func TestCollectorHistoryRange(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	c := NewCollector(ProbeFunc(nil), CollectorConfig{}, suite.Logger)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		c.Record(snapshotAt(base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	got := c.History(base.Add(2*time.Minute), base.Add(5*time.Minute))
	require.Len(t, got, 4)
	for i, s := range got {
		assert.Equal(t, float64(i+2), s.CPUUsage)
	}

	assert.Len(t, c.History(time.Time{}, time.Time{}), 10)
	assert.Empty(t, c.History(base.Add(time.Hour), time.Time{}))
	assert.Equal(t, 9.0, c.Latest().CPUUsage)
}

func TestCollectorKeepsOrderForLateSnapshots(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	c := NewCollector(ProbeFunc(nil), CollectorConfig{}, suite.Logger)
	now := time.Now()
	c.Record(snapshotAt(now, 1))
	c.Record(snapshotAt(now.Add(2*time.Second), 3))
	c.Record(snapshotAt(now.Add(time.Second), 2))

	got := c.History(time.Time{}, time.Time{})
	require.Len(t, got, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{got[0].CPUUsage, got[1].CPUUsage, got[2].CPUUsage})
}

func TestCollectorPrunesByEntriesAndRetention(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	c := NewCollector(ProbeFunc(nil), CollectorConfig{MaxEntries: 5, Retention: time.Hour}, suite.Logger)
	now := time.Now()
	for i := 0; i < 8; i++ {
		c.Record(snapshotAt(now.Add(time.Duration(i)*time.Second), float64(i)))
	}
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, 3.0, c.History(time.Time{}, time.Time{})[0].CPUUsage)

	dropped := c.Prune(now.Add(2 * time.Hour))
	assert.Equal(t, 5, dropped)
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Latest())
}

func TestCollectorSampleFailureSkipsTick(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	probe := ProbeFunc(func(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
		return nil, errors.New("proc not mounted")
	})
	c := NewCollector(probe, CollectorConfig{}, suite.Logger)

	snap, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeProbeFailure))
	assert.Equal(t, 0, c.Len())
}

func TestCollectorSampleTimeout(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	release := make(chan struct{})
	defer close(release)
	probe := ProbeFunc(func(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
		<-release
		return &types.SystemMetricsSnapshot{}, nil
	})
	c := NewCollector(probe, CollectorConfig{SampleTimeout: 20 * time.Millisecond}, suite.Logger)

	start := time.Now()
	_, err := c.Sample(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCollectorProbePanicIsContained(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	probe := ProbeFunc(func(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
		panic("boom")
	})
	c := NewCollector(probe, CollectorConfig{}, suite.Logger)

	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeProbeFailure))
}

func TestGopsutilProbeReadsHost(t *testing.T) {
	if testing.Short() {
		t.Skip("reads host metrics")
	}
	snap, err := NewGopsutilProbe().Sample(context.Background())
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, snap.CPUUsage, 0.0)
	assert.Greater(t, snap.MemoryTotal, uint64(0))
	assert.GreaterOrEqual(t, snap.DiskUsage, 0.0)
	assert.LessOrEqual(t, snap.DiskUsage, 100.0)
}
