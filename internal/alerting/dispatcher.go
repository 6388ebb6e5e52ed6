package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// Handler receives alert events. Implementations must honour ctx.
type Handler interface {
	Name() string
	Notify(ctx context.Context, ev types.Event) error
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, ev types.Event) error
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Notify(ctx context.Context, ev types.Event) error { return h.fn(ctx, ev) }

// HandlerFunc adapts a function to Handler
func HandlerFunc(name string, fn func(ctx context.Context, ev types.Event) error) Handler {
	return &funcHandler{name: name, fn: fn}
}

// Result is the outcome of one handler invocation
type Result struct {
	Handler  string          `json:"handler"`
	AlertID  string          `json:"alert_id"`
	Kind     types.EventKind `json:"kind"`
	Err      error           `json:"-"`
	Duration time.Duration   `json:"duration"`
}

// Config configures the dispatcher
type Config struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
	// RateLimit is events per second per handler; 0 disables limiting
	RateLimit float64
	RateBurst int
	MinLevel  types.Level
}

type registeredHandler struct {
	handler Handler
	limiter *rate.Limiter
}

// Dispatcher fans alert events out to handlers on a bounded worker pool.
// Dispatch never blocks; a full queue drops the event.
type Dispatcher struct {
	sent     *prometheus.CounterVec
	dropped  prometheus.Counter
	duration *prometheus.HistogramVec

	config Config
	log    logger.Logger

	mu       sync.RWMutex
	handlers []*registeredHandler
	closed   bool

	queue   chan types.Event
	results chan Result
	workers *pool.Pool
	done    chan struct{}
}

// NewDispatcher starts a dispatcher. reg may be nil.
func NewDispatcher(config Config, log logger.Logger, reg prometheus.Registerer) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 10 * time.Second
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}
	if config.MinLevel.Rank() == 0 {
		config.MinLevel = types.LevelInfo
	}

	f := promauto.With(reg)
	d := &Dispatcher{
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification handler invocations by handler and result",
		}, []string{"handler", "result"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Events dropped because the dispatch queue was full",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_duration_seconds",
			Help:    "Notification handler duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"handler"}),
		config:  config,
		log:     log.WithField("component", "notification_dispatcher"),
		queue:   make(chan types.Event, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		workers: pool.New().WithMaxGoroutines(config.Workers),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Register adds a handler
func (d *Dispatcher) Register(h Handler) {
	var limiter *rate.Limiter
	if d.config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.config.RateLimit), d.config.RateBurst)
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, &registeredHandler{handler: h, limiter: limiter})
	d.mu.Unlock()
	d.log.Info("Registered notification handler", "handler", h.Name())
}

// Handlers returns the registered handler names
func (d *Dispatcher) Handlers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for _, rh := range d.handlers {
		names = append(names, rh.handler.Name())
	}
	return names
}

// Dispatch queues ev for delivery. Plain updates and events below the
// minimum level are ignored.
func (d *Dispatcher) Dispatch(ev types.Event) error {
	if ev.Alert == nil || !ev.Notifiable() || !ev.Alert.Level.AtLeast(d.config.MinLevel) {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return apperrors.NewAppError(apperrors.ErrCodeNotificationFailure, "dispatcher is closed", nil)
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		d.dropped.Inc()
		d.log.Warn("Notification queue full, dropping event", "alert_id", ev.Alert.ID, "kind", ev.Kind)
		return apperrors.NewAppError(apperrors.ErrCodeQueueFull, "notification queue is full", nil)
	}
}

// Results delivers handler outcomes. Results are dropped when nobody reads.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Close stops accepting events, delivers everything queued and waits for
// running handlers. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer close(d.results)
	for ev := range d.queue {
		d.mu.RLock()
		handlers := make([]*registeredHandler, len(d.handlers))
		copy(handlers, d.handlers)
		d.mu.RUnlock()

		for _, rh := range handlers {
			rh, ev := rh, ev
			d.workers.Go(func() { d.deliver(rh, ev) })
		}
	}
	d.workers.Wait()
}

// deliver runs one handler under its rate limit and timeout. A handler
// that ignores ctx is abandoned once the timeout passes.
func (d *Dispatcher) deliver(rh *registeredHandler, ev types.Event) {
	name := rh.handler.Name()
	res := Result{Handler: name, AlertID: ev.Alert.ID, Kind: ev.Kind}

	if rh.limiter != nil && !rh.limiter.Allow() {
		res.Err = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeRateLimit, "notification rate limited", name, nil)
		d.sent.WithLabelValues(name, "rate_limited").Inc()
		d.publish(res)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.HandlerTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		errCh <- rh.handler.Notify(ctx, ev.Clone())
	}()

	select {
	case err := <-errCh:
		res.Err = err
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	res.Duration = time.Since(start)
	d.duration.WithLabelValues(name).Observe(res.Duration.Seconds())

	if res.Err != nil {
		res.Err = apperrors.WrapError(res.Err, apperrors.ErrCodeNotificationFailure, "notification handler "+name+" failed")
		d.sent.WithLabelValues(name, "failure").Inc()
		d.log.Error("Notification failed", "handler", name, "alert_id", ev.Alert.ID, "error", res.Err)
	} else {
		d.sent.WithLabelValues(name, "success").Inc()
	}
	d.publish(res)
}

func (d *Dispatcher) publish(res Result) {
	select {
	case d.results <- res:
	default:
	}
}
