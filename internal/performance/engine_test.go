package performance

import (
	"encoding/json"
	"math"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/config"
	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/testutils"
	"tradewatch/internal/types"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cfg config.TradeConfig) (*Engine, *testutils.MockData) {
	t.Helper()
	suite := testutils.NewTestSuite(t, nil)
	t.Cleanup(suite.TearDown)

	e := NewEngine(cfg, suite.Logger)
	e.now = func() time.Time { return testNow }
	e.daily = newDailyStats(testNow)
	return e, testutils.NewMockData(1)
}

func record(t *testing.T, e *Engine, mock *testutils.MockData, symbol string, pnls ...float64) {
	t.Helper()
	for i, p := range pnls {
		ts := testNow.Add(time.Duration(i-len(pnls)) * time.Second)
		require.NoError(t, e.RecordExecution(mock.Execution(symbol, p, ts)))
	}
}

func alertTypes(signals []Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.AlertType)
	}
	sort.Strings(out)
	return out
}

func TestEngineComputesMetrics(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})
	record(t, e, mock, "BTCUSDT", 10, -5, 20, -2)

	m := e.Recompute("BTCUSDT")
	require.NotNil(t, m)
	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.Equal(t, 0.5, m.WinRate)
	assert.InDelta(t, 30.0/7.0, m.ProfitFactor, 1e-9)
	assert.Equal(t, 23.0, m.TotalPnL)
	assert.Equal(t, 15.0, m.AvgWin)
	assert.Equal(t, -3.5, m.AvgLoss)
	assert.Equal(t, 1, m.ConsecutiveLosses)
	assert.Equal(t, 50*time.Millisecond, m.AvgExecutionTime)
	assert.InDelta(t, 0.0005, m.AvgSlippage, 1e-12)
	assert.InDelta(t, 0.4, m.TotalFees, 1e-12)
	assert.Zero(t, m.VaR, "VaR needs the minimum sample count")
	assert.Equal(t, testNow, m.LastUpdated)

	// curve 0,10,5,25,23
	assert.Equal(t, 5.0, m.MaxDrawdown)
	assert.Equal(t, 2.0, m.CurrentDrawdown)
	assert.InDelta(t, 0.5, m.MaxDrawdownRatio, 1e-12)

	stored := e.Metrics("BTCUSDT")
	assert.Equal(t, m, stored)
	stored.TotalTrades = 99
	assert.Equal(t, 4, e.Metrics("BTCUSDT").TotalTrades)
	assert.Nil(t, e.Metrics("ETHUSDT"))
}

func TestEngineDrawdownFromEquityCurve(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})
	record(t, e, mock, "BTCUSDT", 100, -50, 100, -120, 170)

	m := e.Recompute("BTCUSDT")
	assert.Equal(t, 120.0, m.MaxDrawdown)
	assert.Equal(t, 0.0, m.CurrentDrawdown)
}

func TestEngineInfiniteProfitFactor(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})
	record(t, e, mock, "BTCUSDT", 5, 5)

	m := e.Recompute("BTCUSDT")
	assert.True(t, math.IsInf(m.ProfitFactor, 1))

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":null`)

	e.Reset()
	record(t, e, mock, "BTCUSDT", -5)
	assert.Equal(t, 0.0, e.Recompute("BTCUSDT").ProfitFactor)
}

func TestEngineVaRUsesWindow(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{VaRWindow: 40, VaRMinSamples: 30})

	pnls := make([]float64, 0, 60)
	for i := 0; i < 20; i++ {
		pnls = append(pnls, -1000)
	}
	for i := 0; i < 40; i++ {
		pnls = append(pnls, float64(i-20))
	}
	record(t, e, mock, "BTCUSDT", pnls...)

	// window holds -20..19 only
	m := e.Recompute("BTCUSDT")
	assert.InDelta(t, 18.05, m.VaR, 1e-9)
}

func TestEngineHistoryIsBounded(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{HistorySize: 5})
	record(t, e, mock, "BTCUSDT", 1, 2, 3, 4, 5, 6, 7, 8)

	execs := e.Executions("BTCUSDT", 0)
	require.Len(t, execs, 5)
	assert.Equal(t, 4.0, execs[0].PnL)
	assert.Len(t, e.Executions("BTCUSDT", 2), 2)
	assert.Equal(t, 5, e.Recompute("BTCUSDT").TotalTrades)
	assert.Equal(t, 8, e.PerformanceSummary().TotalTrades)
}

func TestEngineRejectsInvalidInput(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})

	exec := mock.Execution("", 1, testNow)
	assert.True(t, apperrors.HasCode(e.RecordExecution(exec), apperrors.ErrCodeInvalidInput))

	exec = mock.Execution("BTCUSDT", math.NaN(), testNow)
	assert.True(t, apperrors.HasCode(e.RecordExecution(exec), apperrors.ErrCodeInvalidInput))

	exec = mock.Execution("BTCUSDT", 1, testNow)
	exec.Price = -1
	assert.Error(t, e.RecordExecution(exec))

	assert.Error(t, e.UpdatePosition(types.PositionSnapshot{Size: 1}))
	assert.Error(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "BTCUSDT", Size: math.Inf(1)}))
	assert.Empty(t, e.Symbols())
}

func TestEnginePositions(t *testing.T) {
	e, _ := newTestEngine(t, config.TradeConfig{})

	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "BTCUSDT", Side: types.SideLong, Size: 2, AvgPrice: 100}))
	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "ETHUSDT", Side: types.SideShort, Size: -3, AvgPrice: 10, UnrealizedPnL: -4}))
	assert.Len(t, e.Positions(), 2)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, e.Symbols())

	all := e.RecomputeAll()
	assert.Equal(t, 200.0, all["BTCUSDT"].Exposure)
	assert.Equal(t, 30.0, all["ETHUSDT"].Exposure)
	assert.Equal(t, 230.0, e.RiskSummary().TotalExposure)
	assert.Equal(t, -4.0, e.PerformanceSummary().TotalUnrealizedPnL)

	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "ETHUSDT", Size: 0}))
	_, ok := e.Positions()["ETHUSDT"]
	assert.False(t, ok)
	assert.Equal(t, 1, e.PerformanceSummary().ActivePositions)
}

func TestEnginePerformanceSignals(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{MinTradesForAnalysis: 10})

	record(t, e, mock, "BTCUSDT", -1, -1, -1, -1, -1, -1, -1, -1, -1)
	e.Recompute("BTCUSDT")
	// below the minimum trade count only risk checks apply
	assert.Equal(t, []string{"consecutive_losses"}, alertTypes(e.Evaluate("BTCUSDT")))

	record(t, e, mock, "BTCUSDT", -1)
	e.Recompute("BTCUSDT")
	signals := e.Evaluate("BTCUSDT")
	assert.Equal(t, []string{"consecutive_losses", "low_profit_factor", "low_sharpe_ratio", "low_win_rate"}, alertTypes(signals))
	for _, s := range signals {
		assert.Equal(t, "BTCUSDT", s.Component)
		switch s.AlertType {
		case "consecutive_losses":
			assert.Equal(t, types.LevelError, s.Level)
			assert.Equal(t, 10.0, s.Value)
			assert.Equal(t, 5.0, s.Threshold)
		default:
			assert.Equal(t, types.LevelWarning, s.Level)
		}
	}
}

func TestEngineAvgWinSignal(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{MinTradesForAnalysis: 2})
	require.NoError(t, e.SetPerformanceThresholds(map[string]float64{
		config.PerfMinWinRate:      0,
		config.PerfMinProfitFactor: 0,
		config.PerfMinSharpeRatio:  -100,
	}))

	// returns of 0.0005 on a notional of 100
	record(t, e, mock, "BTCUSDT", 0.05, 0.05, 0.05)
	e.Recompute("BTCUSDT")
	signals := e.Evaluate("BTCUSDT")
	require.Len(t, signals, 1)
	assert.Equal(t, "low_avg_win", signals[0].AlertType)
	assert.InDelta(t, 0.0005, signals[0].Value, 1e-12)
}

func TestEngineRiskSignalsNormalizeByEquity(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{AccountEquity: 10000})

	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "BTCUSDT", Size: 10, AvgPrice: 100, UnrealizedPnL: -300}))
	e.Recompute("BTCUSDT")
	signals := e.Evaluate("BTCUSDT")
	assert.Equal(t, []string{"large_position", "large_unrealized_loss"}, alertTypes(signals))
	for _, s := range signals {
		assert.Equal(t, types.LevelError, s.Level)
	}
	assert.Empty(t, e.EvaluatePortfolio())

	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "ETHUSDT", Size: 20, AvgPrice: 100}))
	record(t, e, mock, "ETHUSDT", -150, -150)
	require.NoError(t, e.SetPerformanceThresholds(map[string]float64{config.PerfMaxTradeFrequency: 1}))

	portfolio := e.EvaluatePortfolio()
	assert.Equal(t, []string{"daily_loss_limit", "high_total_exposure", "high_trade_frequency"}, alertTypes(portfolio))
	for _, s := range portfolio {
		assert.Equal(t, PortfolioComponent, s.Component)
		switch s.AlertType {
		case "high_total_exposure":
			assert.Equal(t, types.LevelCritical, s.Level)
			assert.InDelta(t, 0.3, s.Value, 1e-12)
		case "daily_loss_limit":
			assert.Equal(t, types.LevelCritical, s.Level)
			assert.InDelta(t, -0.03, s.Value, 1e-12)
		case "high_trade_frequency":
			assert.Equal(t, types.LevelWarning, s.Level)
			assert.Equal(t, 2.0, s.Value)
		}
	}
}

func TestEngineRatioLimitsNeedEquity(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{VaRWindow: 40, VaRMinSamples: 30})

	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "BTCUSDT", Size: 10, AvgPrice: 100, UnrealizedPnL: -300}))
	pnls := make([]float64, 40)
	for i := range pnls {
		pnls[i] = float64(i%5) - 3
	}
	record(t, e, mock, "BTCUSDT", pnls...)
	require.NoError(t, e.SetPerformanceThresholds(map[string]float64{config.PerfMaxTradeFrequency: 1}))

	e.Recompute("BTCUSDT")
	for _, s := range e.Evaluate("BTCUSDT") {
		assert.NotContains(t, []string{"large_position", "large_unrealized_loss", "var_95_exceeded"}, s.AlertType)
	}
	assert.Equal(t, []string{"high_trade_frequency"}, alertTypes(e.EvaluatePortfolio()))
}

func TestEngineMaxDrawdownSignal(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})
	record(t, e, mock, "BTCUSDT", 100, -50)

	e.Recompute("BTCUSDT")
	signals := e.Evaluate("BTCUSDT")
	require.Equal(t, []string{"max_drawdown_exceeded"}, alertTypes(signals))
	assert.Equal(t, types.LevelCritical, signals[0].Level)
	assert.InDelta(t, 0.5, signals[0].Value, 1e-12)
}

func TestEngineThresholdUpdates(t *testing.T) {
	e, _ := newTestEngine(t, config.TradeConfig{})

	require.NoError(t, e.SetRiskThresholds(map[string]float64{config.RiskMaxDrawdown: 0.2}))
	risk, perf := e.Thresholds()
	assert.Equal(t, 0.2, risk[config.RiskMaxDrawdown])
	assert.Equal(t, 0.05, risk[config.RiskPositionSizeLimit])
	assert.Equal(t, 0.35, perf[config.PerfMinWinRate])

	err := e.SetRiskThresholds(map[string]float64{config.RiskMaxDrawdown: 0.3, "bogus": 1})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfigInvalid))
	err = e.SetPerformanceThresholds(map[string]float64{config.PerfMinWinRate: math.NaN()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfigInvalid))
	err = e.SetPerformanceThresholds(map[string]float64{config.PerfMinWinRate: 1.5})
	assert.Error(t, err)

	risk, perf = e.Thresholds()
	assert.Equal(t, 0.2, risk[config.RiskMaxDrawdown])
	assert.Equal(t, 0.35, perf[config.PerfMinWinRate])

	risk[config.RiskMaxDrawdown] = 1
	assert.Equal(t, 0.2, e.RiskSummary().RiskThresholds[config.RiskMaxDrawdown])
}

func TestEngineDailyStatsRollOver(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})
	record(t, e, mock, "BTCUSDT", 10, -4)

	d := e.DailyStats()
	assert.Equal(t, "2026-03-02", d.Date)
	assert.Equal(t, 2, d.Trades)
	assert.Equal(t, 1, d.Wins)
	assert.Equal(t, 1, d.Losses)
	assert.Equal(t, 6.0, d.PnL)
	assert.Equal(t, 2.0, d.Volume)
	assert.Equal(t, 200.0, d.Notional)

	e.now = func() time.Time { return testNow.Add(24 * time.Hour) }
	d = e.DailyStats()
	assert.Equal(t, "2026-03-03", d.Date)
	assert.Zero(t, d.Trades)

	require.NoError(t, e.RecordExecution(mock.Execution("BTCUSDT", 1, testNow.Add(24*time.Hour))))
	assert.Equal(t, 1, e.DailyStats().Trades)
	e.ResetDaily()
	assert.Zero(t, e.DailyStats().Trades)
	assert.Len(t, e.Executions("BTCUSDT", 0), 3)
}

func TestEngineEventLogAndSubscribers(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{EventLogSize: 3})

	var seen atomic.Int32
	e.Subscribe(func(ev types.TradeEvent) { panic("subscriber bug") })
	e.Subscribe(func(ev types.TradeEvent) { seen.Add(1) })

	record(t, e, mock, "BTCUSDT", 1, 2, 3, 4, 5)
	e.RecordSignal(Signal{Component: "BTCUSDT", AlertType: "low_win_rate", Level: types.LevelWarning})
	assert.Equal(t, int32(6), seen.Load())

	events := e.Events(0)
	require.Len(t, events, 3)
	assert.Equal(t, types.TradeEventSignal, events[2].Type)
	assert.Equal(t, "exec-5", events[1].Data["execution_id"])
	assert.Len(t, e.Events(1), 1)
}

func TestEngineReset(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})
	require.NoError(t, e.SetRiskThresholds(map[string]float64{config.RiskMaxDrawdown: 0.25}))
	record(t, e, mock, "BTCUSDT", 1, -1)
	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "BTCUSDT", Size: 1, AvgPrice: 1}))
	e.RecomputeAll()

	var resets atomic.Int32
	e.Subscribe(func(ev types.TradeEvent) {
		if ev.Type == types.TradeEventReset {
			resets.Add(1)
		}
	})
	e.Reset()

	assert.Empty(t, e.Symbols())
	assert.Empty(t, e.AllMetrics())
	assert.Zero(t, e.DailyStats().Trades)
	assert.Zero(t, e.PerformanceSummary().TotalTrades)
	require.Len(t, e.Events(0), 1)
	assert.Equal(t, types.TradeEventReset, e.Events(0)[0].Type)
	assert.Equal(t, int32(1), resets.Load())

	risk, _ := e.Thresholds()
	assert.Equal(t, 0.25, risk[config.RiskMaxDrawdown])
}

func TestPerformanceSummary(t *testing.T) {
	e, mock := newTestEngine(t, config.TradeConfig{})
	record(t, e, mock, "BTCUSDT", 10, -5)
	record(t, e, mock, "ETHUSDT", 3, 3, 3, -1)
	require.NoError(t, e.UpdatePosition(types.PositionSnapshot{Symbol: "ETHUSDT", Size: 1, AvgPrice: 10, UnrealizedPnL: 2}))
	e.RecomputeAll()

	s := e.PerformanceSummary()
	assert.Equal(t, 2, s.Symbols)
	assert.Equal(t, 6, s.TotalTrades)
	assert.Equal(t, 6.0, s.TotalVolume)
	assert.Equal(t, 13.0, s.TotalRealizedPnL)
	assert.Equal(t, 2.0, s.TotalUnrealizedPnL)
	assert.Equal(t, 15.0, s.TotalPnL)
	assert.InDelta(t, (0.5+0.75)/2, s.AvgWinRate, 1e-12)
	assert.Equal(t, 6, s.Daily.Trades)

	r := e.RiskSummary()
	assert.Equal(t, 5.0, r.MaxDrawdown)
	assert.Equal(t, 5.0, r.CurrentDrawdown)
	assert.Zero(t, r.ExposureRatio)
}
