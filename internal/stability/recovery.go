package stability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// RecoveryHandler tries to restore a component. It reports true on success.
type RecoveryHandler func(ctx context.Context, alert *types.Alert) (bool, error)

// RetryPolicy bounds how often and how fast a failing recovery is retried
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 1s→30s exponential backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.1,
		AttemptTimeout: 30 * time.Second,
	}
}

// Delay returns the wait before attempt n+1, n starting at 1
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * p.Jitter * delay
	}
	return time.Duration(delay)
}

// BreakerSettings configures the per-component circuit breaker
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial attempt
	OpenTimeout time.Duration
}

// RecoveryResult records one Attempt call
type RecoveryResult struct {
	Component  string        `json:"component"`
	AlertID    string        `json:"alert_id,omitempty"`
	Success    bool          `json:"success"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
	Breaker    string        `json:"breaker_state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

var errRecoveryDeclined = errors.New("recovery handler reported failure")

// RecoveryOrchestrator runs registered recovery handlers with retry and
// circuit breaking, and records every outcome.
type RecoveryOrchestrator struct {
	// Prometheus metrics
	attempts     *prometheus.CounterVec
	breakerState *prometheus.GaugeVec

	policy     RetryPolicy
	breaker    BreakerSettings
	maxHistory int
	log        logger.Logger

	mu       sync.RWMutex
	handlers map[string]RecoveryHandler
	breakers map[string]*gobreaker.CircuitBreaker
	history  map[string][]RecoveryResult

	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRecoveryOrchestrator creates an orchestrator. reg may be nil.
func NewRecoveryOrchestrator(policy RetryPolicy, breaker BreakerSettings, maxHistory int, log logger.Logger, reg prometheus.Registerer) *RecoveryOrchestrator {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if breaker.ConsecutiveFailures == 0 {
		breaker.ConsecutiveFailures = 5
	}
	if breaker.OpenTimeout <= 0 {
		breaker.OpenTimeout = time.Minute
	}
	if maxHistory <= 0 {
		maxHistory = 100
	}
	factory := promauto.With(reg)
	return &RecoveryOrchestrator{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_attempts_total",
			Help: "Recovery handler invocations by component and result",
		}, []string{"component", "result"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recovery_circuit_breaker_state",
			Help: "Recovery circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"component"}),
		policy:     policy,
		breaker:    breaker,
		maxHistory: maxHistory,
		log:        log.WithField("component", "recovery"),
		handlers:   make(map[string]RecoveryHandler),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		history:    make(map[string][]RecoveryResult),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Register sets the recovery handler for component and resets its breaker
func (ro *RecoveryOrchestrator) Register(component string, handler RecoveryHandler) error {
	if component == "" || handler == nil {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "recovery handler needs a component and a function", nil)
	}
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.handlers[component] = handler
	ro.breakers[component] = ro.newBreaker(component)
	ro.breakerState.WithLabelValues(component).Set(float64(gobreaker.StateClosed))
	ro.log.Info("Registered recovery handler", "target", component)
	return nil
}

// Unregister removes the handler for component
func (ro *RecoveryOrchestrator) Unregister(component string) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	delete(ro.handlers, component)
	delete(ro.breakers, component)
}

// HasHandler reports whether a handler is registered for component
func (ro *RecoveryOrchestrator) HasHandler(component string) bool {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	_, ok := ro.handlers[component]
	return ok
}

func (ro *RecoveryOrchestrator) newBreaker(component string) *gobreaker.CircuitBreaker {
	threshold := ro.breaker.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        component,
		MaxRequests: 1,
		Timeout:     ro.breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ro.log.Warn("Recovery circuit breaker state changed", "target", name, "from", from.String(), "to", to.String())
			ro.breakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Attempt runs the recovery handler for component under the retry policy.
// It never panics and never returns an error; the outcome is in the result.
func (ro *RecoveryOrchestrator) Attempt(ctx context.Context, component string, alert *types.Alert) RecoveryResult {
	result := RecoveryResult{Component: component, StartedAt: time.Now()}
	if alert != nil {
		result.AlertID = alert.ID
	}

	ro.mu.RLock()
	handler, ok := ro.handlers[component]
	cb := ro.breakers[component]
	ro.mu.RUnlock()

	if !ok {
		result.Error = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeNoRecovery,
			"no recovery handler registered", component, nil).Error()
		return ro.finish(result, cb)
	}

	var lastErr error
	for attempt := 1; attempt <= ro.policy.MaxAttempts; attempt++ {
		result.Attempts = attempt
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, ro.invoke(ctx, handler, alert)
		})
		if err == nil {
			result.Success = true
			ro.attempts.WithLabelValues(component, "success").Inc()
			break
		}

		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			ro.attempts.WithLabelValues(component, "rejected").Inc()
			lastErr = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeCircuitOpen,
				"recovery circuit breaker open", component, err)
			break
		}
		ro.attempts.WithLabelValues(component, "failure").Inc()
		ro.log.Warn("Recovery attempt failed", "target", component, "attempt", attempt,
			"max_attempts", ro.policy.MaxAttempts, "error", err)

		if attempt == ro.policy.MaxAttempts {
			break
		}
		if err := ro.sleep(ctx, ro.policy.Delay(attempt)); err != nil {
			lastErr = fmt.Errorf("recovery cancelled: %w", err)
			break
		}
	}

	if !result.Success && lastErr != nil {
		result.Error = lastErr.Error()
	}
	return ro.finish(result, cb)
}

// invoke calls the handler with the attempt timeout and turns panics and
// a false return into errors.
func (ro *RecoveryOrchestrator) invoke(ctx context.Context, handler RecoveryHandler, alert *types.Alert) (err error) {
	if ro.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ro.policy.AttemptTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeRecoveryFailure,
				"recovery handler panicked", fmt.Sprint(r), nil)
		}
	}()

	ok, herr := handler(ctx, alert.Clone())
	if herr != nil {
		return apperrors.WrapError(herr, apperrors.ErrCodeRecoveryFailure, "recovery handler failed")
	}
	if !ok {
		return errRecoveryDeclined
	}
	return nil
}

func (ro *RecoveryOrchestrator) finish(result RecoveryResult, cb *gobreaker.CircuitBreaker) RecoveryResult {
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if cb != nil {
		result.Breaker = cb.State().String()
	}

	ro.mu.Lock()
	h := append(ro.history[result.Component], result)
	if len(h) > ro.maxHistory {
		h = h[len(h)-ro.maxHistory:]
	}
	ro.history[result.Component] = h
	ro.mu.Unlock()

	if result.Success {
		ro.log.Info("Recovery succeeded", "target", result.Component, "attempts", result.Attempts)
	} else {
		ro.log.Error("Recovery failed", "target", result.Component, "attempts", result.Attempts, "error", result.Error)
	}
	return result
}

// History returns recorded results for component, oldest first
func (ro *RecoveryOrchestrator) History(component string) []RecoveryResult {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	h := ro.history[component]
	out := make([]RecoveryResult, len(h))
	copy(out, h)
	return out
}

// BreakerState returns the breaker state name for component, or "" when unknown
func (ro *RecoveryOrchestrator) BreakerState(component string) string {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	if cb, ok := ro.breakers[component]; ok {
		return cb.State().String()
	}
	return ""
}
