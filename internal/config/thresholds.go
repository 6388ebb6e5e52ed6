package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "tradewatch/internal/errors"
)

// 系统阈值
const (
	ThresholdCPUUsage     = "cpu_usage"
	ThresholdMemoryUsage  = "memory_usage"
	ThresholdDiskUsage    = "disk_usage"
	ThresholdResponseTime = "response_time"
)

// 风险阈值
const (
	RiskMaxDrawdown        = "max_drawdown"
	RiskPositionSizeLimit  = "position_size_limit"
	RiskTotalExposureLimit = "total_exposure_limit"
	RiskDailyLossLimit     = "daily_loss_limit"
	RiskVaRLimit           = "var_95_limit"
	RiskConsecutiveLosses  = "consecutive_losses"
	RiskExecutionTimeLimit = "execution_time_limit"
	RiskSlippageLimit      = "slippage_limit"
)

// 绩效阈值
const (
	PerfMinWinRate        = "min_win_rate"
	PerfMinProfitFactor   = "min_profit_factor"
	PerfMinSharpeRatio    = "min_sharpe_ratio"
	PerfMaxTradeFrequency = "max_trade_frequency"
	PerfMinAvgWin         = "min_avg_win"
)

// ThresholdKind selects which named-threshold map is addressed
type ThresholdKind string

const (
	KindSystem      ThresholdKind = "system"
	KindRisk        ThresholdKind = "risk"
	KindPerformance ThresholdKind = "performance"
)

type bounds struct {
	min, max float64
}

var thresholdRules = map[ThresholdKind]map[string]bounds{
	KindSystem: {
		ThresholdCPUUsage:     {0, 100},
		ThresholdMemoryUsage:  {0, 100},
		ThresholdDiskUsage:    {0, 100},
		ThresholdResponseTime: {0, 3600},
	},
	KindRisk: {
		RiskMaxDrawdown:        {0, math.Inf(1)},
		RiskPositionSizeLimit:  {0, math.Inf(1)},
		RiskTotalExposureLimit: {0, math.Inf(1)},
		RiskDailyLossLimit:     {0, math.Inf(1)},
		RiskVaRLimit:           {0, math.Inf(1)},
		RiskConsecutiveLosses:  {1, 10000},
		RiskExecutionTimeLimit: {0, 3600},
		RiskSlippageLimit:      {0, 1},
	},
	KindPerformance: {
		PerfMinWinRate:        {0, 1},
		PerfMinProfitFactor:   {0, math.Inf(1)},
		PerfMinSharpeRatio:    {math.Inf(-1), math.Inf(1)},
		PerfMaxTradeFrequency: {1, math.Inf(1)},
		PerfMinAvgWin:         {0, math.Inf(1)},
	},
}

// DefaultSystemThresholds 默认系统阈值（百分比与秒）
func DefaultSystemThresholds() map[string]float64 {
	return map[string]float64{
		ThresholdCPUUsage:     80,
		ThresholdMemoryUsage:  85,
		ThresholdDiskUsage:    90,
		ThresholdResponseTime: 5.0,
	}
}

// DefaultRiskThresholds 默认风险阈值
func DefaultRiskThresholds() map[string]float64 {
	return map[string]float64{
		RiskMaxDrawdown:        0.10,
		RiskPositionSizeLimit:  0.05,
		RiskTotalExposureLimit: 0.20,
		RiskDailyLossLimit:     0.02,
		RiskVaRLimit:           0.03,
		RiskConsecutiveLosses:  5,
		RiskExecutionTimeLimit: 5.0,
		RiskSlippageLimit:      0.01,
	}
}

// DefaultPerformanceThresholds 默认绩效阈值
func DefaultPerformanceThresholds() map[string]float64 {
	return map[string]float64{
		PerfMinWinRate:        0.35,
		PerfMinProfitFactor:   1.2,
		PerfMinSharpeRatio:    0.5,
		PerfMaxTradeFrequency: 1000,
		PerfMinAvgWin:         0.001,
	}
}

// ValidateThresholds 校验阈值更新，未知键、NaN和越界值都会被拒绝
func ValidateThresholds(kind ThresholdKind, values map[string]float64) error {
	rules, ok := thresholdRules[kind]
	if !ok {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeConfigInvalid,
			"unknown threshold kind", string(kind), nil)
	}

	var problems []string
	for name, value := range values {
		rule, known := rules[name]
		switch {
		case !known:
			problems = append(problems, fmt.Sprintf("未知的阈值: %s", name))
		case math.IsNaN(value):
			problems = append(problems, fmt.Sprintf("阈值 %s 不能为NaN", name))
		case value < rule.min || value > rule.max:
			problems = append(problems, fmt.Sprintf("阈值 %s=%g 超出范围 [%g, %g]", name, value, rule.min, rule.max))
		}
	}
	if len(problems) == 0 {
		return nil
	}

	sort.Strings(problems)
	return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeConfigInvalid,
		fmt.Sprintf("invalid %s thresholds", kind), strings.Join(problems, "; "), nil)
}
