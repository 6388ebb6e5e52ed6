package stability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// CheckFunc probes one component. Returning an error, panicking or
// exceeding the registry timeout marks the component CRITICAL. A nil
// result with a nil error means HEALTHY.
type CheckFunc func(ctx context.Context) (*types.ComponentHealth, error)

type registeredCheck struct {
	name     string
	fn       CheckFunc
	failures int
}

// HealthChecker holds named health checks and the last result of each
type HealthChecker struct {
	// Prometheus metrics
	checkLatency  *prometheus.HistogramVec
	checkFailures *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec

	timeout time.Duration
	log     logger.Logger

	mu      sync.RWMutex
	checks  map[string]*registeredCheck
	results map[string]*types.ComponentHealth
}

// NewHealthChecker creates a registry. reg may be nil to skip metric registration.
func NewHealthChecker(timeout time.Duration, log logger.Logger, reg prometheus.Registerer) *HealthChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	factory := promauto.With(reg)
	return &HealthChecker{
		checkLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "health_check_latency_seconds",
			Help:    "Health check latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"component"}),
		checkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "health_check_failures_total",
			Help: "Total number of failed, panicked or timed out health checks",
		}, []string{"component"}),
		checkStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "component_health_status",
			Help: "Component status (0=unknown, 1=healthy, 2=warning, 3=error, 4=critical)",
		}, []string{"component"}),
		timeout: timeout,
		log:     log.WithField("component", "health_checker"),
		checks:  make(map[string]*registeredCheck),
		results: make(map[string]*types.ComponentHealth),
	}
}

// Register adds or replaces the check for name
func (hc *HealthChecker) Register(name string, fn CheckFunc) error {
	if name == "" || fn == nil {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "health check needs a name and a function", nil)
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = &registeredCheck{name: name, fn: fn}
	hc.log.Info("Registered health check", "check", name)
	return nil
}

// Unregister removes the check and its last result
func (hc *HealthChecker) Unregister(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.checks, name)
	delete(hc.results, name)
	hc.checkStatus.DeleteLabelValues(name)
}

// Names returns the registered check names in sorted order
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAll runs every check concurrently and returns once all of them have
// completed or timed out. Failures never propagate out of RunAll.
func (hc *HealthChecker) RunAll(ctx context.Context) map[string]*types.ComponentHealth {
	hc.mu.RLock()
	checks := make([]*registeredCheck, 0, len(hc.checks))
	for _, check := range hc.checks {
		checks = append(checks, check)
	}
	hc.mu.RUnlock()

	results := make(map[string]*types.ComponentHealth, len(checks))
	var resultsMu sync.Mutex

	var wg conc.WaitGroup
	for _, check := range checks {
		check := check
		wg.Go(func() {
			result := hc.performCheck(ctx, check)
			resultsMu.Lock()
			results[check.name] = result
			resultsMu.Unlock()
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		hc.log.Error("Health check worker panicked", "panic", r.Value)
	}

	out := make(map[string]*types.ComponentHealth, len(results))
	for name, r := range results {
		out[name] = r.Clone()
	}
	return out
}

// Run runs a single registered check
func (hc *HealthChecker) Run(ctx context.Context, name string) (*types.ComponentHealth, error) {
	hc.mu.RLock()
	check, ok := hc.checks[name]
	hc.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeNotFound, "health check not registered", name, nil)
	}
	return hc.performCheck(ctx, check).Clone(), nil
}

// performCheck runs one check under the registry timeout and stores the result
func (hc *HealthChecker) performCheck(ctx context.Context, check *registeredCheck) *types.ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	type outcome struct {
		result *types.ComponentHealth
		err    error
	}
	done := make(chan outcome, 1)

	startTime := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: apperrors.NewAppErrorWithDetails(apperrors.ErrCodeHealthCheckPanic,
					"health check panicked", fmt.Sprint(r), nil)}
			}
		}()
		res, err := check.fn(ctx)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = apperrors.NewAppError(apperrors.ErrCodeHealthCheckTimeout,
			fmt.Sprintf("health check timed out after %s", hc.timeout), ctx.Err())
	}
	latency := time.Since(startTime)

	health := &types.ComponentHealth{Status: types.StatusHealthy}
	if out.err != nil {
		health.Status = types.StatusCritical
		health.Message = out.err.Error()
	} else if out.result != nil {
		health = out.result.Clone()
		if health.Status == "" {
			health.Status = types.StatusHealthy
		}
	}
	health.Name = check.name
	health.ResponseTime = latency
	health.LastUpdated = time.Now()

	hc.mu.Lock()
	if out.err != nil {
		check.failures++
		hc.checkFailures.WithLabelValues(check.name).Inc()
	} else {
		check.failures = 0
	}
	if health.Details == nil {
		health.Details = make(map[string]interface{})
	}
	health.Details["consecutive_failures"] = check.failures
	// 检查可能已被注销
	if _, still := hc.checks[check.name]; still {
		hc.results[check.name] = health
	}
	hc.mu.Unlock()

	hc.checkLatency.WithLabelValues(check.name).Observe(latency.Seconds())
	hc.checkStatus.WithLabelValues(check.name).Set(float64(health.Status.Rank()))

	if out.err != nil {
		hc.log.Warn("Health check failed", "check", check.name, "error", out.err, "latency_ms", latency.Milliseconds())
	}
	return health
}

// Get returns the last result for name, or nil
func (hc *HealthChecker) Get(name string) *types.ComponentHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.results[name].Clone()
}

// Statuses returns copies of every last known result
func (hc *HealthChecker) Statuses() map[string]*types.ComponentHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]*types.ComponentHealth, len(hc.results))
	for name, r := range hc.results {
		out[name] = r.Clone()
	}
	return out
}

// Set records an externally produced status, e.g. from a push-based probe
func (hc *HealthChecker) Set(health *types.ComponentHealth) {
	if health == nil || health.Name == "" {
		return
	}
	c := health.Clone()
	if c.LastUpdated.IsZero() {
		c.LastUpdated = time.Now()
	}
	hc.mu.Lock()
	hc.results[c.Name] = c
	hc.mu.Unlock()
	hc.checkStatus.WithLabelValues(c.Name).Set(float64(c.Status.Rank()))
}
