package system

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// CollectorConfig bounds sampling time and retained history
type CollectorConfig struct {
	SampleTimeout time.Duration
	Retention     time.Duration
	MaxEntries    int
}

// Collector samples host metrics and keeps an ordered, bounded history
type Collector struct {
	probe  Probe
	config CollectorConfig
	log    logger.Logger

	mu      sync.RWMutex
	history []*types.SystemMetricsSnapshot
}

// NewCollector creates a collector; zero config fields fall back to
// 5s timeout, 7 days retention and 20160 entries.
func NewCollector(probe Probe, config CollectorConfig, log logger.Logger) *Collector {
	if config.SampleTimeout <= 0 {
		config.SampleTimeout = 5 * time.Second
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 20160
	}
	return &Collector{
		probe:  probe,
		config: config,
		log:    log.WithField("component", "metrics_collector"),
	}
}

// Sample reads one snapshot from the probe, bounded by SampleTimeout even
// when the probe ignores its context.
func (c *Collector) Sample(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SampleTimeout)
	defer cancel()

	type result struct {
		snap *types.SystemMetricsSnapshot
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: apperrors.NewAppErrorWithDetails(apperrors.ErrCodeProbeFailure,
					"metrics probe panicked", "", nil).WithContext("panic", r)}
			}
		}()
		snap, err := c.probe.Sample(ctx)
		ch <- result{snap: snap, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperrors.NewAppError(apperrors.ErrCodeTimeout, "metrics sample timed out", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, apperrors.WrapError(r.err, apperrors.ErrCodeProbeFailure, "metrics sample failed")
		}
		if r.snap == nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeProbeFailure, "metrics probe returned no data", nil)
		}
		if r.snap.Timestamp.IsZero() {
			r.snap.Timestamp = time.Now()
		}
		return r.snap, nil
	}
}

// Collect samples and records. A failed sample skips the tick with a warning.
func (c *Collector) Collect(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
	start := time.Now()
	snap, err := c.Sample(ctx)
	if err != nil {
		c.log.Warn("Skipping metrics tick", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	c.Record(snap)
	return snap, nil
}

// Record appends a snapshot, keeping history ordered by timestamp, and prunes
func (c *Collector) Record(snap *types.SystemMetricsSnapshot) {
	if snap == nil {
		return
	}
	stored := *snap

	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.history)
	if n == 0 || !stored.Timestamp.Before(c.history[n-1].Timestamp) {
		c.history = append(c.history, &stored)
	} else {
		i := sort.Search(n, func(i int) bool { return c.history[i].Timestamp.After(stored.Timestamp) })
		c.history = append(c.history, nil)
		copy(c.history[i+1:], c.history[i:])
		c.history[i] = &stored
	}
	c.pruneLocked(stored.Timestamp)
}

// Prune drops snapshots older than the retention window relative to now
func (c *Collector) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(now)
}

func (c *Collector) pruneLocked(now time.Time) int {
	cutoff := now.Add(-c.config.Retention)
	drop := sort.Search(len(c.history), func(i int) bool { return !c.history[i].Timestamp.Before(cutoff) })
	if over := len(c.history) - drop - c.config.MaxEntries; over > 0 {
		drop += over
	}
	if drop == 0 {
		return 0
	}
	remaining := copy(c.history, c.history[drop:])
	for i := remaining; i < len(c.history); i++ {
		c.history[i] = nil
	}
	c.history = c.history[:remaining]
	return drop
}

// Latest returns a copy of the newest snapshot, or nil when none exist
func (c *Collector) Latest() *types.SystemMetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return nil
	}
	snap := *c.history[len(c.history)-1]
	return &snap
}

// History returns copies of snapshots with start <= Timestamp <= end.
// A zero start or end leaves that side unbounded.
func (c *Collector) History(start, end time.Time) []types.SystemMetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(c.history), func(i int) bool { return !c.history[i].Timestamp.Before(start) })
	}
	hi := len(c.history)
	if !end.IsZero() {
		hi = sort.Search(len(c.history), func(i int) bool { return c.history[i].Timestamp.After(end) })
	}
	if lo >= hi {
		return []types.SystemMetricsSnapshot{}
	}

	out := make([]types.SystemMetricsSnapshot, 0, hi-lo)
	for _, s := range c.history[lo:hi] {
		out = append(out, *s)
	}
	return out
}

// Len returns the number of retained snapshots
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}
