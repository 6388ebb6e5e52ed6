package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"

	"tradewatch/internal/alerting"
	"tradewatch/internal/config"
	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/export"
	"tradewatch/internal/logger"
	"tradewatch/internal/performance"
	"tradewatch/internal/stability"
	"tradewatch/internal/system"
	"tradewatch/internal/types"
)

// Alert sources. Each loop auto-resolves only the alerts it raised.
const (
	SourceMetrics = "metrics"
	SourceHealth  = "health"
	SourceTrade   = "trade"
)

// Alert types raised by the monitor itself
const (
	AlertComponentStatus = "component_status"
	AlertSlowResponse    = "slow_response"
)

// SystemComponent is the alert component of host resource alerts
const SystemComponent = "system"

// Store persists monitor state across restarts
type Store interface {
	SaveAlerts(ctx context.Context, alerts []*types.Alert) error
	LoadAlerts(ctx context.Context, since time.Time) ([]*types.Alert, error)
	SaveSnapshots(ctx context.Context, snapshots []types.SystemMetricsSnapshot) error
	SaveTradeMetrics(ctx context.Context, metrics []*types.TradeMetrics) error
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// StatusCache publishes the latest state for other processes
type StatusCache interface {
	PutSnapshot(ctx context.Context, snap *types.SystemMetricsSnapshot) error
	PutStatus(ctx context.Context, status types.HealthStatus, components map[string]*types.ComponentHealth) error
	PutActiveAlerts(ctx context.Context, alerts []*types.Alert) error
}

// Exporter writes snapshot history to a destination
type Exporter interface {
	Export(ctx context.Context, dest string, snapshots []types.SystemMetricsSnapshot) error
}

// Options carries the optional collaborators of a Monitor
type Options struct {
	Probe      system.Probe
	Store      Store
	Cache      StatusCache
	Exporter   Exporter
	Registerer prometheus.Registerer
}

// SystemSummary is the overall view returned by GetSystemSummary
type SystemSummary struct {
	Status          types.HealthStatus                `json:"status"`
	Running         bool                              `json:"running"`
	Uptime          string                            `json:"uptime"`
	Components      map[string]*types.ComponentHealth `json:"components"`
	ComponentCount  int                               `json:"component_count"`
	ActiveAlerts    int                               `json:"active_alerts"`
	AlertsByLevel   map[types.Level]int               `json:"alerts_by_level"`
	LatestMetrics   *types.SystemMetricsSnapshot      `json:"latest_metrics,omitempty"`
	MetricsSamples  int                               `json:"metrics_samples"`
	Handlers        []string                          `json:"notification_handlers"`
	SystemThreshold map[string]float64                `json:"system_thresholds"`
}

// Monitor owns the collectors, the alert table, notification and recovery,
// and runs the periodic loops.
type Monitor struct {
	config *config.Config
	log    logger.Logger
	start  time.Time

	collector  *system.Collector
	health     *stability.HealthChecker
	alerts     *AlertManager
	dispatcher *alerting.Dispatcher
	recovery   *stability.RecoveryOrchestrator
	engine     *performance.Engine
	metrics    *PromMetrics
	audit      *AuditLogger

	store    Store
	cache    StatusCache
	exporter Exporter

	thresholdMu   sync.RWMutex
	sysThresholds map[string]float64

	mu          sync.Mutex
	running     bool
	closed      bool
	cancel      context.CancelFunc
	loops       *conc.WaitGroup
	cron        *cron.Cron
	lastPersist time.Time

	// recoveryCtx scopes recovery attempts. Stop cancels it, waits for the
	// attempts and opens a new scope; Close cancels it for good.
	recoveringMu   sync.Mutex
	recoveryCtx    context.Context
	recoveryCancel context.CancelFunc
	recoveries     sync.WaitGroup
	recovering     map[string]bool
}

// New builds a Monitor from cfg. Nothing runs until Start.
func New(cfg *config.Config, log logger.Logger, opts Options) (*Monitor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.ValidateThresholds(config.KindSystem, cfg.Thresholds.System); err != nil {
		return nil, err
	}

	minLevel := types.LevelInfo
	if cfg.Notification.MinLevel != "" {
		level, ok := types.ParseLevel(cfg.Notification.MinLevel)
		if !ok {
			return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeConfigInvalid,
				"unknown notification level", cfg.Notification.MinLevel, nil)
		}
		minLevel = level
	}

	probe := opts.Probe
	if probe == nil {
		probe = system.NewGopsutilProbe()
	}

	mc := cfg.Monitor
	reg := opts.Registerer
	m := &Monitor{
		config: cfg,
		log:    log.WithField("component", "monitor"),
		start:  time.Now(),
		collector: system.NewCollector(probe, system.CollectorConfig{
			SampleTimeout: mc.SampleTimeout,
			Retention:     time.Duration(mc.MetricsRetentionDays) * 24 * time.Hour,
			MaxEntries:    mc.MaxMetricsEntries,
		}, log),
		health: stability.NewHealthChecker(mc.CheckTimeout, log, reg),
		alerts: NewAlertManager(time.Duration(mc.AlertRetentionDays)*24*time.Hour, mc.MaxAlertHistory, log),
		dispatcher: alerting.NewDispatcher(alerting.Config{
			Workers:        cfg.Notification.Workers,
			QueueSize:      cfg.Notification.QueueSize,
			HandlerTimeout: cfg.Notification.HandlerTimeout,
			RateLimit:      cfg.Notification.RateLimit,
			RateBurst:      cfg.Notification.RateBurst,
			MinLevel:       minLevel,
		}, log, reg),
		recovery: stability.NewRecoveryOrchestrator(stability.RetryPolicy{
			MaxAttempts:    cfg.Recovery.MaxAttempts,
			InitialBackoff: cfg.Recovery.InitialBackoff,
			MaxBackoff:     cfg.Recovery.MaxBackoff,
			Multiplier:     cfg.Recovery.Multiplier,
			Jitter:         cfg.Recovery.Jitter,
			AttemptTimeout: cfg.Recovery.AttemptTimeout,
		}, stability.BreakerSettings{
			ConsecutiveFailures: cfg.Recovery.BreakerFailures,
			OpenTimeout:         cfg.Recovery.BreakerOpenTime,
		}, cfg.Recovery.MaxHistoryPerKey, log, reg),
		engine:        performance.NewEngine(cfg.Trade, log),
		metrics:       NewPromMetrics(reg),
		audit:         NewAuditLogger(1000),
		store:         opts.Store,
		cache:         opts.Cache,
		exporter:      opts.Exporter,
		sysThresholds: copyThresholds(cfg.Thresholds.System),
		recovering:    make(map[string]bool),
	}
	if m.exporter == nil {
		m.exporter = export.NewExporter(nil, cfg.Export.Dir, log)
	}
	if err := m.engine.SetRiskThresholds(cfg.Thresholds.Risk); err != nil {
		return nil, err
	}
	if err := m.engine.SetPerformanceThresholds(cfg.Thresholds.Performance); err != nil {
		return nil, err
	}
	m.recoveryCtx, m.recoveryCancel = context.WithCancel(context.Background())
	m.alerts.OnEvent(m.onAlertEvent)
	return m, nil
}

func copyThresholds(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type cronJob struct {
	name     string
	schedule string
	fn       func(context.Context)
}

// Start launches the metrics, health and trade loops and the housekeeping
// schedule. Calling Start on a running monitor does nothing. ctx only bounds
// the store restore; the loops run until Stop or Close.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.NewAppError(apperrors.ErrCodeMonitorState, "monitor is closed", nil)
	}
	if m.running {
		return nil
	}

	c := cron.New(cron.WithSeconds())
	jobs := []cronJob{
		{"prune", m.config.Monitor.PruneSchedule, m.prune},
		{"daily_reset", m.config.Monitor.DailyResetSchedule, func(context.Context) { m.engine.ResetDaily() }},
	}
	if m.store != nil && m.config.Monitor.PersistSchedule != "" {
		jobs = append(jobs, cronJob{"persist", m.config.Monitor.PersistSchedule, func(ctx context.Context) {
			if err := m.Persist(ctx); err != nil {
				m.log.Error("Persist failed", "error", err)
			}
		}})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.schedule, func() { job.fn(runCtx) }); err != nil {
			cancel()
			return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid %s schedule", job.name), job.schedule, err)
		}
	}

	if m.store != nil {
		m.restore(ctx)
	}

	loops := conc.NewWaitGroup()
	loops.Go(func() { m.loop(runCtx, "metrics", m.config.Monitor.MetricsInterval, m.RunMetricsTick) })
	loops.Go(func() { m.loop(runCtx, "health", m.config.Monitor.CheckInterval, m.RunHealthTick) })
	loops.Go(func() { m.loop(runCtx, "trade", m.config.Monitor.TradeInterval, m.RunTradeTick) })
	c.Start()

	m.cron = c
	m.cancel = cancel
	m.loops = loops
	m.running = true
	m.log.Info("Monitor started",
		"metrics_interval", m.config.Monitor.MetricsInterval,
		"check_interval", m.config.Monitor.CheckInterval,
		"trade_interval", m.config.Monitor.TradeInterval)
	return nil
}

// Stop halts the loops and the schedule and waits for running ticks and
// recovery attempts. History, alerts and registrations are kept so Start
// can resume.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	cronDone := m.cron.Stop()
	loops := m.loops
	m.mu.Unlock()

	loops.Wait()
	<-cronDone.Done()
	m.endRecoveries(true)
	m.log.Info("Monitor stopped")
}

// endRecoveries cancels in-flight recovery attempts and waits for them.
// With reopen a fresh scope accepts new attempts afterwards.
func (m *Monitor) endRecoveries(reopen bool) {
	m.recoveringMu.Lock()
	m.recoveryCancel()
	m.recoveringMu.Unlock()

	m.recoveries.Wait()

	if reopen {
		m.recoveringMu.Lock()
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if !closed {
			m.recoveryCtx, m.recoveryCancel = context.WithCancel(context.Background())
		}
		m.recoveringMu.Unlock()
	}
}

// Close stops the monitor, waits for recoveries, flushes the store and
// shuts the dispatcher down. The monitor cannot be restarted afterwards.
func (m *Monitor) Close(ctx context.Context) error {
	m.Stop()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.endRecoveries(false)

	var err error
	if m.store != nil {
		err = m.Persist(ctx)
	}
	m.dispatcher.Close()
	return err
}

// IsRunning reports whether the loops are active
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.runTick(ctx, name, tick)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runTick(ctx context.Context, name string, tick func(context.Context) error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Monitor tick panicked", "loop", name, "panic", r)
		}
		m.metrics.ObserveTick(name, time.Since(start).Seconds())
	}()
	if err := tick(ctx); err != nil && ctx.Err() == nil {
		m.log.Warn("Monitor tick failed", "loop", name, "error", err)
	}
}

// RunMetricsTick samples the host once and evaluates the system thresholds
func (m *Monitor) RunMetricsTick(ctx context.Context) error {
	snap, err := m.collector.Collect(ctx)
	if err != nil {
		m.metrics.ObserveSnapshot(nil)
		return apperrors.WrapError(err, apperrors.ErrCodeProbeFailure, "failed to sample system metrics")
	}
	m.metrics.ObserveSnapshot(snap)

	th := m.SystemThresholds()
	m.alerts.Evaluate(SystemComponent, config.ThresholdCPUUsage, snap.CPUUsage, WarnAbove(th[config.ThresholdCPUUsage]), SourceMetrics)
	m.alerts.Evaluate(SystemComponent, config.ThresholdMemoryUsage, snap.MemoryUsage, WarnAbove(th[config.ThresholdMemoryUsage]), SourceMetrics)
	m.alerts.Evaluate(SystemComponent, config.ThresholdDiskUsage, snap.DiskUsage, ErrorAbove(th[config.ThresholdDiskUsage]), SourceMetrics)

	if m.cache != nil {
		if err := m.cache.PutSnapshot(ctx, snap); err != nil {
			m.log.Warn("Failed to cache snapshot", "error", err)
		}
	}
	return nil
}

// RunHealthTick runs every health check, then raises or resolves component
// alerts from the collected results.
func (m *Monitor) RunHealthTick(ctx context.Context) error {
	results := m.health.RunAll(ctx)
	limit := m.SystemThresholds()[config.ThresholdResponseTime]

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	reported := make(map[types.AlertKey]bool)
	for _, name := range names {
		h := results[name]
		if level, degraded := h.Status.AlertLevel(); degraded {
			m.alerts.Raise(Condition{
				Component: name,
				AlertType: AlertComponentStatus,
				Level:     level,
				Message:   fmt.Sprintf("%s is %s: %s", name, h.Status, h.Message),
				Value:     float64(h.Status.Rank()),
				Source:    SourceHealth,
			})
			reported[types.AlertKey{Component: name, AlertType: AlertComponentStatus}] = true
		}
		if secs := h.ResponseTime.Seconds(); secs > limit {
			m.alerts.Raise(Condition{
				Component: name,
				AlertType: AlertSlowResponse,
				Level:     types.LevelWarning,
				Message:   fmt.Sprintf("%s responded in %.2fs", name, secs),
				Value:     secs,
				Threshold: limit,
				Source:    SourceHealth,
			})
			reported[types.AlertKey{Component: name, AlertType: AlertSlowResponse}] = true
		}
	}
	m.alerts.AutoResolve(SourceHealth, reported)

	status := types.Aggregate(results)
	m.metrics.ObserveStatus(status)
	m.metrics.ObserveAlertSummary(m.alerts.Summary())
	if m.cache != nil {
		if err := m.cache.PutStatus(ctx, status, results); err != nil {
			m.log.Warn("Failed to cache status", "error", err)
		}
		if err := m.cache.PutActiveAlerts(ctx, m.alerts.ActiveAlerts("")); err != nil {
			m.log.Warn("Failed to cache active alerts", "error", err)
		}
	}
	return nil
}

// RunTradeTick recomputes every symbol and turns threshold breaches into
// alerts. Breaches that are no longer reported are resolved.
func (m *Monitor) RunTradeTick(ctx context.Context) error {
	all := m.engine.RecomputeAll()
	symbols := make([]string, 0, len(all))
	for symbol, tm := range all {
		symbols = append(symbols, symbol)
		m.metrics.ObserveTradeMetrics(tm)
	}
	sort.Strings(symbols)

	var signals []performance.Signal
	for _, symbol := range symbols {
		signals = append(signals, m.engine.Evaluate(symbol)...)
	}
	signals = append(signals, m.engine.EvaluatePortfolio()...)

	reported := make(map[types.AlertKey]bool, len(signals))
	for _, s := range signals {
		a := m.alerts.Raise(Condition{
			Component: s.Component,
			AlertType: s.AlertType,
			Level:     s.Level,
			Message:   s.Message,
			Value:     s.Value,
			Threshold: s.Threshold,
			Source:    SourceTrade,
		})
		if a.Count == 1 {
			m.engine.RecordSignal(s)
		}
		reported[a.Key()] = true
	}
	m.alerts.AutoResolve(SourceTrade, reported)
	return ctx.Err()
}

// onAlertEvent routes every alert transition to notification and, for
// critical conditions with a handler, to recovery.
func (m *Monitor) onAlertEvent(ev types.Event) {
	m.metrics.ObserveAlertEvent(ev)
	if err := m.dispatcher.Dispatch(ev); err != nil {
		m.log.Debug("Alert event not dispatched", "alert_id", ev.Alert.ID, "error", err)
	}

	if ev.Kind != types.EventRaised && ev.Kind != types.EventEscalated {
		return
	}
	if ev.Alert.Level != types.LevelCritical || !m.recovery.HasHandler(ev.Alert.Component) {
		return
	}
	m.startRecovery(ev.Alert)
}

func (m *Monitor) startRecovery(alert *types.Alert) {
	m.recoveringMu.Lock()
	if m.recovering[alert.Component] || m.recoveryCtx.Err() != nil {
		m.recoveringMu.Unlock()
		return
	}
	m.recovering[alert.Component] = true
	m.recoveries.Add(1)
	ctx := m.recoveryCtx
	m.recoveringMu.Unlock()

	go func() {
		defer func() {
			m.recoveringMu.Lock()
			delete(m.recovering, alert.Component)
			m.recoveringMu.Unlock()
			m.recoveries.Done()
		}()

		result := m.recovery.Attempt(ctx, alert.Component, alert)
		details := map[string]interface{}{"attempts": result.Attempts, "breaker": result.Breaker}
		if !result.Success {
			m.audit.Log(ActorSystem, ActionAutoRecovery, "alert", alert.ID, details,
				apperrors.NewAppErrorWithDetails(apperrors.ErrCodeRecoveryFailure, "recovery failed", result.Error, nil))
			return
		}
		if err := m.alerts.Resolve(alert.ID); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeAlertAlreadyResolved) {
			m.log.Warn("Failed to resolve recovered alert", "alert_id", alert.ID, "error", err)
		}
		m.audit.Log(ActorSystem, ActionAutoRecovery, "alert", alert.ID, details, nil)
	}()
}

// WaitRecoveries blocks until in-flight recovery attempts finish
func (m *Monitor) WaitRecoveries() {
	m.recoveries.Wait()
}

func (m *Monitor) prune(ctx context.Context) {
	now := time.Now()
	snaps := m.collector.Prune(now)
	alerts := m.alerts.Prune(now)
	if m.store != nil {
		cutoff := now.AddDate(0, 0, -m.config.Monitor.MetricsRetentionDays)
		if _, err := m.store.PruneSnapshots(ctx, cutoff); err != nil {
			m.log.Warn("Failed to prune stored snapshots", "error", err)
		}
	}
	m.log.Debug("Housekeeping done", "snapshots_pruned", snaps, "alerts_pruned", alerts)
}

// restore seeds the alert table from the store
func (m *Monitor) restore(ctx context.Context) {
	since := time.Now().AddDate(0, 0, -m.config.Monitor.AlertRetentionDays)
	alerts, err := m.store.LoadAlerts(ctx, since)
	if err != nil {
		m.log.Warn("Failed to restore alerts", "error", err)
		return
	}
	if n := m.alerts.Load(alerts); n > 0 {
		m.log.Info("Restored alerts from store", "count", n)
	}
}

// Persist writes alerts changed and snapshots taken since the previous
// call, plus the current trade metrics.
func (m *Monitor) Persist(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	since := m.lastPersist
	m.mu.Unlock()
	now := time.Now()

	var changed []*types.Alert
	for _, a := range m.alerts.History(0) {
		if !a.UpdatedAt.Before(since) {
			changed = append(changed, a)
		}
	}
	if len(changed) > 0 {
		if err := m.store.SaveAlerts(ctx, changed); err != nil {
			return err
		}
	}

	start := since
	if start.IsZero() {
		start = now.AddDate(0, 0, -m.config.Monitor.MetricsRetentionDays)
	}
	if snaps := m.collector.History(start, now); len(snaps) > 0 {
		if err := m.store.SaveSnapshots(ctx, snaps); err != nil {
			return err
		}
	}

	all := m.engine.AllMetrics()
	if len(all) > 0 {
		list := make([]*types.TradeMetrics, 0, len(all))
		for _, tm := range all {
			list = append(list, tm)
		}
		if err := m.store.SaveTradeMetrics(ctx, list); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.lastPersist = now
	m.mu.Unlock()
	return nil
}

// RegisterHealthCheck adds or replaces a named health check
func (m *Monitor) RegisterHealthCheck(name string, fn stability.CheckFunc) error {
	return m.health.Register(name, fn)
}

// UnregisterHealthCheck removes a health check; its alerts resolve on the
// next health tick.
func (m *Monitor) UnregisterHealthCheck(name string) {
	m.health.Unregister(name)
}

// RegisterNotificationHandler adds a notification handler
func (m *Monitor) RegisterNotificationHandler(h alerting.Handler) {
	m.dispatcher.Register(h)
}

// RegisterRecoveryHandler sets the recovery handler of a component
func (m *Monitor) RegisterRecoveryHandler(component string, fn stability.RecoveryHandler) error {
	return m.recovery.Register(component, fn)
}

// OnAlertEvent subscribes fn to alert transitions
func (m *Monitor) OnAlertEvent(fn func(types.Event)) {
	m.alerts.OnEvent(fn)
}

// NotificationResults exposes the dispatcher outcomes
func (m *Monitor) NotificationResults() <-chan alerting.Result {
	return m.dispatcher.Results()
}

// RecordTradeExecution ingests one execution and recomputes its symbol
func (m *Monitor) RecordTradeExecution(exec types.TradeExecution) error {
	if err := m.engine.RecordExecution(exec); err != nil {
		return err
	}
	m.metrics.ObserveExecution(exec)
	m.metrics.ObserveTradeMetrics(m.engine.Recompute(exec.Symbol))
	return nil
}

// ConsumeExecutions records executions from source until it closes or ctx
// is done.
func (m *Monitor) ConsumeExecutions(ctx context.Context, source <-chan types.TradeExecution) {
	for {
		select {
		case <-ctx.Done():
			return
		case exec, ok := <-source:
			if !ok {
				return
			}
			if err := m.RecordTradeExecution(exec); err != nil {
				m.log.Warn("Rejected trade execution", "execution_id", exec.ExecutionID, "error", err)
			}
		}
	}
}

// UpdatePosition replaces the position of a symbol
func (m *Monitor) UpdatePosition(pos types.PositionSnapshot) error {
	return m.engine.UpdatePosition(pos)
}

// GetSystemStatus aggregates the last health results
func (m *Monitor) GetSystemStatus() types.HealthStatus {
	return types.Aggregate(m.health.Statuses())
}

// GetSystemSummary returns status, components, alert counts and the latest sample
func (m *Monitor) GetSystemSummary() SystemSummary {
	components := m.health.Statuses()
	alerts := m.alerts.Summary()
	return SystemSummary{
		Status:          types.Aggregate(components),
		Running:         m.IsRunning(),
		Uptime:          time.Since(m.start).Round(time.Second).String(),
		Components:      components,
		ComponentCount:  len(components),
		ActiveAlerts:    alerts.Active,
		AlertsByLevel:   alerts.ByLevel,
		LatestMetrics:   m.collector.Latest(),
		MetricsSamples:  m.collector.Len(),
		Handlers:        m.dispatcher.Handlers(),
		SystemThreshold: m.SystemThresholds(),
	}
}

// GetLatestMetrics returns the newest host sample, or nil
func (m *Monitor) GetLatestMetrics() *types.SystemMetricsSnapshot {
	return m.collector.Latest()
}

// GetMetricsHistory returns samples within [start, end]
func (m *Monitor) GetMetricsHistory(start, end time.Time) []types.SystemMetricsSnapshot {
	return m.collector.History(start, end)
}

// GetComponentStatus returns the last result of a health check, or nil
func (m *Monitor) GetComponentStatus(name string) *types.ComponentHealth {
	return m.health.Get(name)
}

// GetActiveAlerts returns active alerts for component ("" for all)
func (m *Monitor) GetActiveAlerts(component string) []*types.Alert {
	return m.alerts.ActiveAlerts(component)
}

// GetAlert returns one alert by id
func (m *Monitor) GetAlert(id string) (*types.Alert, error) {
	return m.alerts.Get(id)
}

// GetAlertHistory returns up to limit alerts, newest first
func (m *Monitor) GetAlertHistory(limit int) []*types.Alert {
	return m.alerts.History(limit)
}

// GetAlertSummary counts alerts by state and level
func (m *Monitor) GetAlertSummary() AlertSummary {
	return m.alerts.Summary()
}

// ResolveAlert closes an alert on behalf of actor
func (m *Monitor) ResolveAlert(actor, id string) error {
	err := m.alerts.Resolve(id)
	m.audit.Log(actor, ActionResolveAlert, "alert", id, nil, err)
	return err
}

// ResolveAll closes every active alert and returns how many were closed
func (m *Monitor) ResolveAll(actor string) int {
	n := m.alerts.ResolveAll()
	m.audit.Log(actor, ActionResolveAll, "alert", "", map[string]interface{}{"resolved": n}, nil)
	return n
}

// GetTradeMetrics returns the metrics of symbol, or of every symbol for ""
func (m *Monitor) GetTradeMetrics(symbol string) map[string]*types.TradeMetrics {
	if symbol == "" {
		return m.engine.AllMetrics()
	}
	out := make(map[string]*types.TradeMetrics, 1)
	if tm := m.engine.Metrics(symbol); tm != nil {
		out[symbol] = tm
	}
	return out
}

// GetPositions returns the open positions
func (m *Monitor) GetPositions() map[string]types.PositionSnapshot {
	return m.engine.Positions()
}

// GetTradeEvents returns up to limit recent trade events
func (m *Monitor) GetTradeEvents(limit int) []types.TradeEvent {
	return m.engine.Events(limit)
}

func (m *Monitor) activeTradeAlerts() int {
	n := 0
	for _, a := range m.alerts.ActiveAlerts("") {
		if a.Source == SourceTrade {
			n++
		}
	}
	return n
}

// GetPerformanceSummary aggregates trading performance
func (m *Monitor) GetPerformanceSummary() performance.PerformanceSummary {
	s := m.engine.PerformanceSummary()
	s.ActiveAlerts = m.activeTradeAlerts()
	return s
}

// GetRiskSummary aggregates exposure, drawdown and VaR
func (m *Monitor) GetRiskSummary() performance.RiskSummary {
	s := m.engine.RiskSummary()
	s.ActiveAlerts = m.activeTradeAlerts()
	return s
}

// ResetTradeStats clears the trade engine and resolves trade alerts
func (m *Monitor) ResetTradeStats(actor string) {
	m.engine.Reset()
	m.metrics.ResetTradeMetrics()
	n := m.alerts.AutoResolve(SourceTrade, nil)
	m.audit.Log(actor, ActionResetTrades, "trade", "", map[string]interface{}{"resolved_alerts": n}, nil)
}

// GetRecoveryHistory returns the recovery results recorded for component
func (m *Monitor) GetRecoveryHistory(component string) []stability.RecoveryResult {
	return m.recovery.History(component)
}

// ExportMetrics writes the retained snapshot history to dest
func (m *Monitor) ExportMetrics(ctx context.Context, actor, dest string) error {
	snaps := m.collector.History(time.Time{}, time.Time{})
	err := m.exporter.Export(ctx, dest, snaps)
	m.audit.Log(actor, ActionExportMetrics, "metrics", dest, map[string]interface{}{"snapshots": len(snaps)}, err)
	return err
}

// SystemThresholds returns a copy of the system thresholds
func (m *Monitor) SystemThresholds() map[string]float64 {
	m.thresholdMu.RLock()
	defer m.thresholdMu.RUnlock()
	return copyThresholds(m.sysThresholds)
}

// RiskThresholds returns a copy of the risk thresholds
func (m *Monitor) RiskThresholds() map[string]float64 {
	risk, _ := m.engine.Thresholds()
	return risk
}

// PerformanceThresholds returns a copy of the performance thresholds
func (m *Monitor) PerformanceThresholds() map[string]float64 {
	_, perf := m.engine.Thresholds()
	return perf
}

// UpdateSystemThresholds merges updates into the system thresholds. Invalid
// updates are rejected and the previous values kept.
func (m *Monitor) UpdateSystemThresholds(actor string, updates map[string]float64) error {
	err := config.ValidateThresholds(config.KindSystem, updates)
	if err == nil {
		m.thresholdMu.Lock()
		for k, v := range updates {
			m.sysThresholds[k] = v
		}
		m.thresholdMu.Unlock()
	}
	m.auditThresholds(actor, config.KindSystem, updates, err)
	return err
}

// UpdateRiskThresholds merges updates into the risk thresholds
func (m *Monitor) UpdateRiskThresholds(actor string, updates map[string]float64) error {
	err := m.engine.SetRiskThresholds(updates)
	m.auditThresholds(actor, config.KindRisk, updates, err)
	return err
}

// UpdatePerformanceThresholds merges updates into the performance thresholds
func (m *Monitor) UpdatePerformanceThresholds(actor string, updates map[string]float64) error {
	err := m.engine.SetPerformanceThresholds(updates)
	m.auditThresholds(actor, config.KindPerformance, updates, err)
	return err
}

func (m *Monitor) auditThresholds(actor string, kind config.ThresholdKind, updates map[string]float64, err error) {
	details := make(map[string]interface{}, len(updates))
	for k, v := range updates {
		details[k] = v
	}
	m.audit.Log(actor, ActionUpdateThresholds, "thresholds", string(kind), details, err)
}

// ApplyConfig installs the threshold sections of a reloaded configuration.
// All three sections are validated first; on error nothing changes.
func (m *Monitor) ApplyConfig(cfg *config.Config) error {
	err := func() error {
		for kind, values := range map[config.ThresholdKind]map[string]float64{
			config.KindSystem:      cfg.Thresholds.System,
			config.KindRisk:        cfg.Thresholds.Risk,
			config.KindPerformance: cfg.Thresholds.Performance,
		} {
			if err := config.ValidateThresholds(kind, values); err != nil {
				return err
			}
		}
		if err := m.engine.SetRiskThresholds(cfg.Thresholds.Risk); err != nil {
			return err
		}
		if err := m.engine.SetPerformanceThresholds(cfg.Thresholds.Performance); err != nil {
			return err
		}
		m.thresholdMu.Lock()
		for k, v := range cfg.Thresholds.System {
			m.sysThresholds[k] = v
		}
		m.thresholdMu.Unlock()
		return nil
	}()
	m.audit.Log(ActorSystem, ActionReloadConfig, "config", "", nil, err)
	if err != nil {
		m.log.Error("Rejected configuration reload", "error", err)
		return err
	}
	m.log.Info("Applied configuration reload")
	return nil
}

// Audit returns the audit trail
func (m *Monitor) Audit() *AuditLogger {
	return m.audit
}
