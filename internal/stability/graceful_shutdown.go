package stability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradewatch/internal/logger"
)

// ShutdownStatus is the state of one component during shutdown
type ShutdownStatus string

const (
	ShutdownStatusPending   ShutdownStatus = "pending"
	ShutdownStatusCompleted ShutdownStatus = "completed"
	ShutdownStatusFailed    ShutdownStatus = "failed"
	ShutdownStatusSkipped   ShutdownStatus = "skipped"
)

// ShutdownStep is one component stopped by the shutdown manager.
// Higher priority steps run first.
type ShutdownStep struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Fn       func(ctx context.Context) error

	Status   ShutdownStatus
	Error    string
	Duration time.Duration
}

// ShutdownResult summarises a shutdown run
type ShutdownResult struct {
	Success  bool
	Duration time.Duration
	Steps    []ShutdownStep
	Errors   []string
}

// ShutdownManager stops registered components in priority order, each
// bounded by its own timeout and all bounded by the overall timeout.
type ShutdownManager struct {
	shutdownDuration prometheus.Histogram
	shutdownErrors   prometheus.Counter

	timeout        time.Duration
	defaultTimeout time.Duration
	log            logger.Logger

	mu    sync.Mutex
	steps []*ShutdownStep
	done  bool
}

// NewShutdownManager creates a manager. reg may be nil.
func NewShutdownManager(timeout, stepTimeout time.Duration, log logger.Logger, reg prometheus.Registerer) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	factory := promauto.With(reg)
	return &ShutdownManager{
		shutdownDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "graceful_shutdown_duration_seconds",
			Help:    "Graceful shutdown duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		shutdownErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "graceful_shutdown_errors_total",
			Help: "Components that failed to stop cleanly",
		}),
		timeout:        timeout,
		defaultTimeout: stepTimeout,
		log:            log.WithField("component", "shutdown"),
	}
}

// Register adds a component to stop on Shutdown
func (sm *ShutdownManager) Register(name string, priority int, fn func(ctx context.Context) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, &ShutdownStep{
		Name:     name,
		Priority: priority,
		Timeout:  sm.defaultTimeout,
		Fn:       fn,
		Status:   ShutdownStatusPending,
	})
}

// Shutdown runs every registered step once. Later calls return a failed
// result without running anything.
func (sm *ShutdownManager) Shutdown(ctx context.Context) *ShutdownResult {
	sm.mu.Lock()
	if sm.done {
		sm.mu.Unlock()
		return &ShutdownResult{Errors: []string{"shutdown already performed"}}
	}
	sm.done = true
	steps := make([]*ShutdownStep, len(sm.steps))
	copy(steps, sm.steps)
	sm.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority > steps[j].Priority })

	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	start := time.Now()
	result := &ShutdownResult{Success: true}
	for _, step := range steps {
		if ctx.Err() != nil {
			step.Status = ShutdownStatusSkipped
			step.Error = "shutdown deadline reached"
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", step.Name, step.Error))
			result.Steps = append(result.Steps, *step)
			continue
		}

		stepCtx, stepCancel := context.WithTimeout(ctx, step.Timeout)
		stepStart := time.Now()
		err := step.Fn(stepCtx)
		stepCancel()
		step.Duration = time.Since(stepStart)

		if err != nil {
			step.Status = ShutdownStatusFailed
			step.Error = err.Error()
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", step.Name, err))
			sm.shutdownErrors.Inc()
			sm.log.Error("Component shutdown failed", "step", step.Name, "error", err)
		} else {
			step.Status = ShutdownStatusCompleted
			sm.log.Info("Component stopped", "step", step.Name, "duration_ms", step.Duration.Milliseconds())
		}
		result.Steps = append(result.Steps, *step)
	}

	result.Duration = time.Since(start)
	sm.shutdownDuration.Observe(result.Duration.Seconds())
	sm.log.Info("Graceful shutdown finished", "success", result.Success, "duration", result.Duration.String())
	return result
}
