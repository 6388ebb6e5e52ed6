package monitor

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradewatch/internal/types"
)

// PromMetrics exports monitor state as Prometheus series
type PromMetrics struct {
	// 系统性能指标
	systemCPUUsage    prometheus.Gauge
	systemMemoryUsage prometheus.Gauge
	systemDiskUsage   prometheus.Gauge
	systemProcesses   prometheus.Gauge
	systemUptime      prometheus.Gauge
	systemNetworkIO   *prometheus.GaugeVec
	systemStatus      prometheus.Gauge
	sampleFailures    prometheus.Counter

	// 告警指标
	alertsActive *prometheus.GaugeVec
	alertEvents  *prometheus.CounterVec

	// 交易指标
	tradePnL          *prometheus.GaugeVec
	tradeWinRate      *prometheus.GaugeVec
	tradeSharpe       *prometheus.GaugeVec
	tradeDrawdown     *prometheus.GaugeVec
	tradeVaR          *prometheus.GaugeVec
	tradeProfitFactor *prometheus.GaugeVec
	tradeExposure     *prometheus.GaugeVec
	tradeExecutions   *prometheus.CounterVec
	executionLatency  *prometheus.HistogramVec

	// 调度指标
	tickDuration *prometheus.HistogramVec
}

// NewPromMetrics registers the monitor series with reg. A nil reg creates
// unregistered collectors.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	f := promauto.With(reg)
	return &PromMetrics{
		systemCPUUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "Host CPU usage in percent",
		}),
		systemMemoryUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_usage_percent",
			Help: "Host memory usage in percent",
		}),
		systemDiskUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_disk_usage_percent",
			Help: "Disk usage in percent",
		}),
		systemProcesses: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_process_count",
			Help: "Number of running processes",
		}),
		systemUptime: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_uptime_seconds",
			Help: "Host uptime in seconds",
		}),
		systemNetworkIO: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "system_network_bytes",
			Help: "Cumulative network bytes by direction",
		}, []string{"direction"}),
		systemStatus: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_health_status",
			Help: "Overall status (0=unknown, 1=healthy, 2=warning, 3=error, 4=critical)",
		}),
		sampleFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "system_metrics_sample_failures_total",
			Help: "Metrics ticks skipped because the probe failed",
		}),
		alertsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alerts_active",
			Help: "Active alerts by level",
		}, []string{"level"}),
		alertEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_events_total",
			Help: "Alert transitions by kind and level",
		}, []string{"kind", "level"}),
		tradePnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_total_pnl",
			Help: "Cumulative realized PnL per symbol",
		}, []string{"symbol"}),
		tradeWinRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_win_rate",
			Help: "Winning trades over total trades per symbol",
		}, []string{"symbol"}),
		tradeSharpe: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_sharpe_ratio",
			Help: "Annualized Sharpe ratio per symbol",
		}, []string{"symbol"}),
		tradeDrawdown: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_drawdown",
			Help: "Drawdown of the cumulative PnL curve",
		}, []string{"symbol", "kind"}),
		tradeVaR: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_value_at_risk",
			Help: "Historical VaR per symbol, as a positive loss",
		}, []string{"symbol"}),
		tradeProfitFactor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_profit_factor",
			Help: "Gross profit over gross loss per symbol",
		}, []string{"symbol"}),
		tradeExposure: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_exposure",
			Help: "Open position notional per symbol",
		}, []string{"symbol"}),
		tradeExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trade_executions_total",
			Help: "Recorded executions by symbol and side",
		}, []string{"symbol", "side"}),
		executionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trade_execution_latency_seconds",
			Help:    "Order execution latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"symbol"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "monitor_tick_duration_seconds",
			Help:    "Duration of monitor loop iterations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"loop"}),
	}
}

// ObserveSnapshot updates the host gauges
func (pm *PromMetrics) ObserveSnapshot(s *types.SystemMetricsSnapshot) {
	if s == nil {
		pm.sampleFailures.Inc()
		return
	}
	pm.systemCPUUsage.Set(s.CPUUsage)
	pm.systemMemoryUsage.Set(s.MemoryUsage)
	pm.systemDiskUsage.Set(s.DiskUsage)
	pm.systemProcesses.Set(float64(s.ProcessCount))
	pm.systemUptime.Set(s.Uptime.Seconds())
	pm.systemNetworkIO.WithLabelValues("sent").Set(float64(s.Network.BytesSent))
	pm.systemNetworkIO.WithLabelValues("recv").Set(float64(s.Network.BytesRecv))
}

// ObserveStatus sets the overall status gauge
func (pm *PromMetrics) ObserveStatus(status types.HealthStatus) {
	pm.systemStatus.Set(float64(status.Rank()))
}

// ObserveAlertEvent counts a transition
func (pm *PromMetrics) ObserveAlertEvent(ev types.Event) {
	pm.alertEvents.WithLabelValues(string(ev.Kind), string(ev.Alert.Level)).Inc()
}

// ObserveAlertSummary sets the active alert gauges
func (pm *PromMetrics) ObserveAlertSummary(s AlertSummary) {
	for _, level := range []types.Level{types.LevelInfo, types.LevelWarning, types.LevelError, types.LevelCritical} {
		pm.alertsActive.WithLabelValues(string(level)).Set(float64(s.ByLevel[level]))
	}
}

// ObserveExecution counts an execution and its latency
func (pm *PromMetrics) ObserveExecution(e types.TradeExecution) {
	pm.tradeExecutions.WithLabelValues(e.Symbol, string(e.Side)).Inc()
	pm.executionLatency.WithLabelValues(e.Symbol).Observe(e.ExecutionTime.Seconds())
}

// ObserveTradeMetrics updates the per-symbol trade gauges
func (pm *PromMetrics) ObserveTradeMetrics(m *types.TradeMetrics) {
	if m == nil {
		return
	}
	pm.tradePnL.WithLabelValues(m.Symbol).Set(m.TotalPnL)
	pm.tradeWinRate.WithLabelValues(m.Symbol).Set(m.WinRate)
	pm.tradeSharpe.WithLabelValues(m.Symbol).Set(m.SharpeRatio)
	pm.tradeDrawdown.WithLabelValues(m.Symbol, "max").Set(m.MaxDrawdown)
	pm.tradeDrawdown.WithLabelValues(m.Symbol, "current").Set(m.CurrentDrawdown)
	pm.tradeVaR.WithLabelValues(m.Symbol).Set(m.VaR)
	pm.tradeExposure.WithLabelValues(m.Symbol).Set(m.Exposure)
	pf := m.ProfitFactor
	if math.IsInf(pf, 1) {
		pf = math.MaxFloat64
	}
	pm.tradeProfitFactor.WithLabelValues(m.Symbol).Set(pf)
}

// ResetTradeMetrics drops every per-symbol trade series
func (pm *PromMetrics) ResetTradeMetrics() {
	pm.tradePnL.Reset()
	pm.tradeWinRate.Reset()
	pm.tradeSharpe.Reset()
	pm.tradeDrawdown.Reset()
	pm.tradeVaR.Reset()
	pm.tradeProfitFactor.Reset()
	pm.tradeExposure.Reset()
}

// ObserveTick records how long a loop iteration took
func (pm *PromMetrics) ObserveTick(loop string, seconds float64) {
	pm.tickDuration.WithLabelValues(loop).Observe(seconds)
}
