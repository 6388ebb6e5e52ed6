package performance

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradewatch/internal/config"
	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// PortfolioComponent is the alert component used for account-wide signals
const PortfolioComponent = "ALL"

// Signal is a breached trade threshold
type Signal struct {
	Component string      `json:"component"`
	AlertType string      `json:"alert_type"`
	Level     types.Level `json:"level"`
	Message   string      `json:"message"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
}

// EventCallback receives every entry appended to the trade event log
type EventCallback func(types.TradeEvent)

// DailyStats accumulates executions of the current UTC day
type DailyStats struct {
	Date     string  `json:"date"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	PnL      float64 `json:"pnl"`
	Volume   float64 `json:"volume"`
	Notional float64 `json:"notional"`
	Fees     float64 `json:"fees"`

	pnl      decimal.Decimal
	notional decimal.Decimal
	fees     decimal.Decimal
}

func newDailyStats(now time.Time) DailyStats {
	return DailyStats{Date: now.UTC().Format("2006-01-02")}
}

func (d *DailyStats) add(e types.TradeExecution) {
	d.Trades++
	switch {
	case e.PnL > 0:
		d.Wins++
	case e.PnL < 0:
		d.Losses++
	}
	d.pnl = d.pnl.Add(decimal.NewFromFloat(e.PnL))
	d.notional = d.notional.Add(decimal.NewFromFloat(e.Notional()))
	d.fees = d.fees.Add(decimal.NewFromFloat(e.Fees))
	d.Volume += math.Abs(e.Amount)
	d.PnL = d.pnl.InexactFloat64()
	d.Notional = d.notional.InexactFloat64()
	d.Fees = d.fees.InexactFloat64()
}

// PerformanceSummary aggregates all symbols
type PerformanceSummary struct {
	Symbols            int        `json:"total_symbols"`
	TotalTrades        int        `json:"total_trades"`
	TotalVolume        float64    `json:"total_volume"`
	TotalRealizedPnL   float64    `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64    `json:"total_unrealized_pnl"`
	TotalPnL           float64    `json:"total_pnl"`
	AvgWinRate         float64    `json:"avg_win_rate"`
	ActivePositions    int        `json:"active_positions"`
	ActiveAlerts       int        `json:"active_alerts"`
	Uptime             string     `json:"uptime"`
	Daily              DailyStats `json:"daily_stats"`
}

// RiskSummary aggregates exposure and drawdown over all symbols
type RiskSummary struct {
	TotalExposure         float64            `json:"total_exposure"`
	ExposureRatio         float64            `json:"exposure_ratio"`
	MaxDrawdown           float64            `json:"max_drawdown"`
	CurrentDrawdown       float64            `json:"current_drawdown"`
	MaxVaR                float64            `json:"max_var"`
	ActiveAlerts          int                `json:"active_alerts"`
	RiskThresholds        map[string]float64 `json:"risk_thresholds"`
	PerformanceThresholds map[string]float64 `json:"performance_thresholds"`
}

// Engine derives per-symbol trade metrics from executions and positions
// and checks them against risk and performance thresholds.
type Engine struct {
	config config.TradeConfig
	log    logger.Logger
	now    func() time.Time
	start  time.Time

	mu          sync.RWMutex
	executions  map[string][]types.TradeExecution
	positions   map[string]types.PositionSnapshot
	metrics     map[string]*types.TradeMetrics
	risk        map[string]float64
	performance map[string]float64
	daily       DailyStats
	totalTrades int
	totalVolume float64
	events      []types.TradeEvent
	subscribers []EventCallback
}

// NewEngine creates an engine with the default thresholds
func NewEngine(cfg config.TradeConfig, log logger.Logger) *Engine {
	def := config.Default().Trade
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = def.EventLogSize
	}
	if cfg.VaRConfidence <= 0 || cfg.VaRConfidence >= 1 {
		cfg.VaRConfidence = def.VaRConfidence
	}
	if cfg.VaRWindow <= 0 {
		cfg.VaRWindow = def.VaRWindow
	}
	if cfg.VaRMinSamples <= 0 {
		cfg.VaRMinSamples = def.VaRMinSamples
	}
	if cfg.AnnualizationFactor <= 0 {
		cfg.AnnualizationFactor = def.AnnualizationFactor
	}
	now := time.Now()
	return &Engine{
		config:      cfg,
		log:         log.WithField("component", "trade_metrics"),
		now:         time.Now,
		start:       now,
		executions:  make(map[string][]types.TradeExecution),
		positions:   make(map[string]types.PositionSnapshot),
		metrics:     make(map[string]*types.TradeMetrics),
		risk:        config.DefaultRiskThresholds(),
		performance: config.DefaultPerformanceThresholds(),
		daily:       newDailyStats(now),
	}
}

func validFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// RecordExecution appends an execution to its symbol's bounded history
func (e *Engine) RecordExecution(exec types.TradeExecution) error {
	if exec.Symbol == "" {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "execution symbol is required", nil)
	}
	if exec.Amount < 0 || exec.Price < 0 || exec.ExecutionTime < 0 ||
		!validFinite(exec.Amount, exec.Price, exec.PnL, exec.Slippage, exec.Fees) {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"execution has invalid numeric fields", exec.ExecutionID, nil)
	}
	if exec.Timestamp.IsZero() {
		exec.Timestamp = e.now()
	}

	e.mu.Lock()
	e.rollDailyLocked(e.now())
	h := append(e.executions[exec.Symbol], exec)
	if len(h) > e.config.HistorySize {
		h = h[len(h)-e.config.HistorySize:]
	}
	e.executions[exec.Symbol] = h
	e.totalTrades++
	e.totalVolume += math.Abs(exec.Amount)
	if exec.Timestamp.UTC().Format("2006-01-02") == e.daily.Date {
		e.daily.add(exec)
	}
	ev := e.appendEventLocked(types.TradeEventExecution, exec.Symbol, map[string]interface{}{
		"execution_id": exec.ExecutionID,
		"side":         exec.Side,
		"amount":       exec.Amount,
		"price":        exec.Price,
		"pnl":          exec.PnL,
	})
	subs := e.subscribers
	e.mu.Unlock()

	e.notify(subs, ev)
	return nil
}

// UpdatePosition replaces the symbol's position. A zero size closes it.
func (e *Engine) UpdatePosition(pos types.PositionSnapshot) error {
	if pos.Symbol == "" {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "position symbol is required", nil)
	}
	if !validFinite(pos.Size, pos.AvgPrice, pos.UnrealizedPnL, pos.RealizedPnL) {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
			"position has invalid numeric fields", pos.Symbol, nil)
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = e.now()
	}

	e.mu.Lock()
	if pos.Size == 0 {
		delete(e.positions, pos.Symbol)
	} else {
		e.positions[pos.Symbol] = pos
	}
	ev := e.appendEventLocked(types.TradeEventPosition, pos.Symbol, map[string]interface{}{
		"side":           pos.Side,
		"size":           pos.Size,
		"avg_price":      pos.AvgPrice,
		"unrealized_pnl": pos.UnrealizedPnL,
	})
	subs := e.subscribers
	e.mu.Unlock()

	e.notify(subs, ev)
	return nil
}

// Recompute derives the metrics of one symbol and stores them
func (e *Engine) Recompute(symbol string) *types.TradeMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMetrics(e.recomputeLocked(symbol))
}

// RecomputeAll recomputes every symbol with executions or a position
func (e *Engine) RecomputeAll() map[string]*types.TradeMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*types.TradeMetrics)
	for _, symbol := range e.symbolsLocked() {
		out[symbol] = cloneMetrics(e.recomputeLocked(symbol))
	}
	return out
}

func cloneMetrics(m *types.TradeMetrics) *types.TradeMetrics {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func (e *Engine) symbolsLocked() []string {
	seen := make(map[string]bool)
	for s := range e.executions {
		seen[s] = true
	}
	for s := range e.positions {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) recomputeLocked(symbol string) *types.TradeMetrics {
	m := computeMetrics(symbol, e.executions[symbol], e.config)
	if pos, ok := e.positions[symbol]; ok {
		m.Exposure = pos.Exposure()
	}
	m.LastUpdated = e.now()
	e.metrics[symbol] = m
	return m
}

func computeMetrics(symbol string, execs []types.TradeExecution, cfg config.TradeConfig) *types.TradeMetrics {
	m := &types.TradeMetrics{Symbol: symbol}
	n := len(execs)
	if n == 0 {
		return m
	}

	pnls := make([]float64, n)
	returns := make([]float64, 0, n)
	var execTime time.Duration
	slippage := decimal.Zero
	fees := decimal.Zero
	for i, ex := range execs {
		pnls[i] = ex.PnL
		if notional := ex.Notional(); notional > 0 {
			returns = append(returns, ex.PnL/notional)
		}
		execTime += ex.ExecutionTime
		slippage = slippage.Add(decimal.NewFromFloat(ex.Slippage))
		fees = fees.Add(decimal.NewFromFloat(ex.Fees))
	}

	s := SummarizePnL(pnls)
	m.TotalTrades = n
	m.WinningTrades = s.Wins
	m.LosingTrades = s.Losses
	m.WinRate = WinRate(s.Wins, n)
	m.TotalPnL = s.Total
	m.GrossProfit = s.GrossProfit
	m.GrossLoss = s.GrossLoss
	m.AvgWin = s.AvgWin
	m.AvgLoss = s.AvgLoss
	m.ProfitFactor = ProfitFactor(s.GrossProfit, s.GrossLoss)
	m.SharpeRatio = SharpeRatio(returns, cfg.AnnualizationFactor)

	curve := EquityCurve(pnls)
	m.MaxDrawdown, m.CurrentDrawdown = Drawdown(curve)
	m.MaxDrawdownRatio = DrawdownRatio(curve, cfg.AccountEquity)

	m.AvgExecutionTime = execTime / time.Duration(n)
	m.AvgSlippage = slippage.Div(decimal.NewFromInt(int64(n))).InexactFloat64()
	m.TotalFees = fees.InexactFloat64()
	m.ConsecutiveLosses = TrailingLosses(pnls)

	if n >= cfg.VaRMinSamples {
		window := pnls
		if len(window) > cfg.VaRWindow {
			window = window[len(window)-cfg.VaRWindow:]
		}
		m.VaR = HistoricalVaR(window, cfg.VaRConfidence)
	}
	return m
}

// Metrics returns the last computed metrics of symbol, or nil
func (e *Engine) Metrics(symbol string) *types.TradeMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneMetrics(e.metrics[symbol])
}

// AllMetrics returns the last computed metrics of every symbol
func (e *Engine) AllMetrics() map[string]*types.TradeMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*types.TradeMetrics, len(e.metrics))
	for s, m := range e.metrics {
		out[s] = cloneMetrics(m)
	}
	return out
}

// Positions returns the open positions
func (e *Engine) Positions() map[string]types.PositionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]types.PositionSnapshot, len(e.positions))
	for s, p := range e.positions {
		out[s] = p
	}
	return out
}

// Executions returns up to limit most recent executions of symbol
func (e *Engine) Executions(symbol string, limit int) []types.TradeExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.executions[symbol]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]types.TradeExecution, len(h))
	copy(out, h)
	return out
}

// Symbols returns every tracked symbol in sorted order
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.symbolsLocked()
}

// SetRiskThresholds merges updates into the risk thresholds. Invalid
// updates are rejected and the previous values kept.
func (e *Engine) SetRiskThresholds(updates map[string]float64) error {
	return e.setThresholds(config.KindRisk, updates)
}

// SetPerformanceThresholds merges updates into the performance thresholds
func (e *Engine) SetPerformanceThresholds(updates map[string]float64) error {
	return e.setThresholds(config.KindPerformance, updates)
}

func (e *Engine) setThresholds(kind config.ThresholdKind, updates map[string]float64) error {
	if err := config.ValidateThresholds(kind, updates); err != nil {
		return err
	}
	e.mu.Lock()
	target := e.risk
	if kind == config.KindPerformance {
		target = e.performance
	}
	for k, v := range updates {
		target[k] = v
	}
	e.mu.Unlock()
	e.log.Info("Updated thresholds", "kind", kind, "values", fmt.Sprint(updates))
	return nil
}

// Thresholds returns copies of the risk and performance thresholds
func (e *Engine) Thresholds() (risk, performance map[string]float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyMap(e.risk), copyMap(e.performance)
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ratio divides an absolute amount by account equity. ok is false when no
// equity is configured; ratio limits are not checked then.
func (e *Engine) ratio(v float64) (r float64, ok bool) {
	if e.config.AccountEquity <= 0 {
		return 0, false
	}
	return v / e.config.AccountEquity, true
}

// Evaluate checks the last computed metrics and position of symbol
func (e *Engine) Evaluate(symbol string) []Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Signal
	add := func(alertType string, level types.Level, value, threshold float64, format string, args ...interface{}) {
		out = append(out, Signal{
			Component: symbol,
			AlertType: alertType,
			Level:     level,
			Message:   fmt.Sprintf(format, args...),
			Value:     value,
			Threshold: threshold,
		})
	}

	if m := e.metrics[symbol]; m != nil && m.TotalTrades > 0 {
		if m.TotalTrades >= e.config.MinTradesForAnalysis {
			if lim := e.performance[config.PerfMinWinRate]; m.WinRate < lim {
				add("low_win_rate", types.LevelWarning, m.WinRate, lim, "win rate too low: %.1f%%", m.WinRate*100)
			}
			if lim := e.performance[config.PerfMinProfitFactor]; m.ProfitFactor < lim {
				add("low_profit_factor", types.LevelWarning, m.ProfitFactor, lim, "profit factor too low: %.2f", m.ProfitFactor)
			}
			if lim := e.performance[config.PerfMinSharpeRatio]; m.SharpeRatio < lim {
				add("low_sharpe_ratio", types.LevelWarning, m.SharpeRatio, lim, "sharpe ratio too low: %.2f", m.SharpeRatio)
			}
			if avg := e.avgWinReturnLocked(symbol); m.WinningTrades > 0 && avg < e.performance[config.PerfMinAvgWin] {
				add("low_avg_win", types.LevelWarning, avg, e.performance[config.PerfMinAvgWin], "average win too small: %.4f%%", avg*100)
			}
		}
		if lim := e.risk[config.RiskMaxDrawdown]; m.MaxDrawdownRatio > lim {
			add("max_drawdown_exceeded", types.LevelCritical, m.MaxDrawdownRatio, lim, "max drawdown exceeded: %.2f%%", m.MaxDrawdownRatio*100)
		}
		if v, ok := e.ratio(m.VaR); ok && v > e.risk[config.RiskVaRLimit] {
			lim := e.risk[config.RiskVaRLimit]
			add("var_95_exceeded", types.LevelError, v, lim, "VaR exceeded: %.4g", v)
		}
		if secs, lim := m.AvgExecutionTime.Seconds(), e.risk[config.RiskExecutionTimeLimit]; secs > lim {
			add("slow_execution", types.LevelWarning, secs, lim, "execution too slow: %.2fs", secs)
		}
		if s, lim := math.Abs(m.AvgSlippage), e.risk[config.RiskSlippageLimit]; s > lim {
			add("high_slippage", types.LevelWarning, s, lim, "slippage too high: %.2f%%", s*100)
		}
		if lim := e.risk[config.RiskConsecutiveLosses]; float64(m.ConsecutiveLosses) >= lim {
			add("consecutive_losses", types.LevelError, float64(m.ConsecutiveLosses), lim, "%d consecutive losing trades", m.ConsecutiveLosses)
		}
	}

	if pos, ok := e.positions[symbol]; ok {
		if v, ok := e.ratio(pos.Exposure()); ok && v > e.risk[config.RiskPositionSizeLimit] {
			lim := e.risk[config.RiskPositionSizeLimit]
			add("large_position", types.LevelError, v, lim, "position too large: %.4g", v)
		}
		if v, ok := e.ratio(pos.UnrealizedPnL); ok && v < -e.risk[config.RiskDailyLossLimit] {
			lim := e.risk[config.RiskDailyLossLimit]
			add("large_unrealized_loss", types.LevelError, v, -lim, "unrealized loss too large: %.4g", v)
		}
	}
	return out
}

func (e *Engine) avgWinReturnLocked(symbol string) float64 {
	var sum float64
	var n int
	for _, ex := range e.executions[symbol] {
		if notional := ex.Notional(); ex.PnL > 0 && notional > 0 {
			sum += ex.PnL / notional
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// EvaluatePortfolio checks account-wide limits: total exposure, the daily
// loss and the trade count of the last hour.
func (e *Engine) EvaluatePortfolio() []Signal {
	now := e.now()
	e.mu.Lock()
	e.rollDailyLocked(now)
	e.mu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Signal
	var exposure float64
	for _, p := range e.positions {
		exposure += p.Exposure()
	}
	if v, ok := e.ratio(exposure); ok && v > e.risk[config.RiskTotalExposureLimit] {
		lim := e.risk[config.RiskTotalExposureLimit]
		out = append(out, Signal{Component: PortfolioComponent, AlertType: "high_total_exposure", Level: types.LevelCritical,
			Message: fmt.Sprintf("total exposure too high: %.4g", v), Value: v, Threshold: lim})
	}
	if v, ok := e.ratio(e.daily.PnL); ok && v < -e.risk[config.RiskDailyLossLimit] {
		lim := e.risk[config.RiskDailyLossLimit]
		out = append(out, Signal{Component: PortfolioComponent, AlertType: "daily_loss_limit", Level: types.LevelCritical,
			Message: fmt.Sprintf("daily loss limit exceeded: %.4g", v), Value: v, Threshold: -lim})
	}

	hourAgo := now.Add(-time.Hour)
	recent := 0
	for _, h := range e.executions {
		for i := len(h) - 1; i >= 0 && h[i].Timestamp.After(hourAgo); i-- {
			recent++
		}
	}
	if lim := e.performance[config.PerfMaxTradeFrequency]; float64(recent) > lim {
		out = append(out, Signal{Component: PortfolioComponent, AlertType: "high_trade_frequency", Level: types.LevelWarning,
			Message: fmt.Sprintf("trade frequency too high: %d trades in the last hour", recent), Value: float64(recent), Threshold: lim})
	}
	return out
}

// DailyStats returns the stats of the current day
func (e *Engine) DailyStats() DailyStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDailyLocked(e.now())
	return e.daily
}

// ResetDaily starts a new day unconditionally
func (e *Engine) ResetDaily() {
	e.mu.Lock()
	e.daily = newDailyStats(e.now())
	e.mu.Unlock()
}

func (e *Engine) rollDailyLocked(now time.Time) {
	if date := now.UTC().Format("2006-01-02"); date != e.daily.Date {
		e.daily = newDailyStats(now)
	}
}

// PerformanceSummary aggregates metrics over all symbols
func (e *Engine) PerformanceSummary() PerformanceSummary {
	e.mu.Lock()
	e.rollDailyLocked(e.now())
	e.mu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	s := PerformanceSummary{
		Symbols:         len(e.metrics),
		TotalTrades:     e.totalTrades,
		TotalVolume:     e.totalVolume,
		ActivePositions: len(e.positions),
		Uptime:          time.Since(e.start).Round(time.Second).String(),
		Daily:           e.daily,
	}
	realized := decimal.Zero
	var winRates []float64
	for _, m := range e.metrics {
		realized = realized.Add(decimal.NewFromFloat(m.TotalPnL))
		if m.TotalTrades > 0 {
			winRates = append(winRates, m.WinRate)
		}
	}
	unrealized := decimal.Zero
	for _, p := range e.positions {
		unrealized = unrealized.Add(decimal.NewFromFloat(p.UnrealizedPnL))
	}
	s.TotalRealizedPnL = realized.InexactFloat64()
	s.TotalUnrealizedPnL = unrealized.InexactFloat64()
	s.TotalPnL = realized.Add(unrealized).InexactFloat64()
	if len(winRates) > 0 {
		var sum float64
		for _, w := range winRates {
			sum += w
		}
		s.AvgWinRate = sum / float64(len(winRates))
	}
	return s
}

// RiskSummary aggregates exposure, drawdown and VaR over all symbols
func (e *Engine) RiskSummary() RiskSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := RiskSummary{
		RiskThresholds:        copyMap(e.risk),
		PerformanceThresholds: copyMap(e.performance),
	}
	for _, p := range e.positions {
		s.TotalExposure += p.Exposure()
	}
	if e.config.AccountEquity > 0 {
		s.ExposureRatio = s.TotalExposure / e.config.AccountEquity
	}
	for _, m := range e.metrics {
		s.MaxDrawdown = math.Max(s.MaxDrawdown, m.MaxDrawdown)
		s.CurrentDrawdown = math.Max(s.CurrentDrawdown, m.CurrentDrawdown)
		s.MaxVaR = math.Max(s.MaxVaR, m.VaR)
	}
	return s
}

// Subscribe registers a callback for trade events
func (e *Engine) Subscribe(cb EventCallback) {
	e.mu.Lock()
	e.subscribers = append(e.subscribers, cb)
	e.mu.Unlock()
}

// RecordSignal appends a threshold breach to the event log
func (e *Engine) RecordSignal(s Signal) {
	e.mu.Lock()
	ev := e.appendEventLocked(types.TradeEventSignal, s.Component, map[string]interface{}{
		"alert_type": s.AlertType,
		"level":      s.Level,
		"value":      s.Value,
		"threshold":  s.Threshold,
	})
	subs := e.subscribers
	e.mu.Unlock()
	e.notify(subs, ev)
}

// Events returns up to limit most recent trade events, oldest first
func (e *Engine) Events(limit int) []types.TradeEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	evs := e.events
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	out := make([]types.TradeEvent, len(evs))
	copy(out, evs)
	return out
}

func (e *Engine) appendEventLocked(kind types.TradeEventType, symbol string, data map[string]interface{}) types.TradeEvent {
	ev := types.TradeEvent{Type: kind, Symbol: symbol, Timestamp: e.now(), Data: data}
	e.events = append(e.events, ev)
	if over := len(e.events) - e.config.EventLogSize; over > 0 {
		e.events = append(e.events[:0], e.events[over:]...)
	}
	return ev
}

func (e *Engine) notify(subs []EventCallback, ev types.TradeEvent) {
	for _, cb := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("Trade event subscriber panicked", "panic", r, "event", ev.Type)
				}
			}()
			cb(ev)
		}()
	}
}

// Reset clears executions, positions, metrics, daily stats and the event
// log. Thresholds and subscribers are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.executions = make(map[string][]types.TradeExecution)
	e.positions = make(map[string]types.PositionSnapshot)
	e.metrics = make(map[string]*types.TradeMetrics)
	e.daily = newDailyStats(e.now())
	e.totalTrades = 0
	e.totalVolume = 0
	e.events = nil
	ev := e.appendEventLocked(types.TradeEventReset, PortfolioComponent, nil)
	subs := e.subscribers
	e.mu.Unlock()

	e.log.Info("Trade statistics reset")
	e.notify(subs, ev)
}
