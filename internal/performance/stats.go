package performance

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// PnLStats aggregates realized PnL with exact decimal sums
type PnLStats struct {
	Total       float64
	GrossProfit float64
	GrossLoss   float64 // positive
	Wins        int
	Losses      int
	AvgWin      float64
	AvgLoss     float64 // negative
}

// SummarizePnL counts wins and losses and sums them. Zero PnL trades count
// as neither.
func SummarizePnL(pnls []float64) PnLStats {
	total := decimal.Zero
	profit := decimal.Zero
	loss := decimal.Zero
	var s PnLStats
	for _, p := range pnls {
		d := decimal.NewFromFloat(p)
		total = total.Add(d)
		switch {
		case p > 0:
			profit = profit.Add(d)
			s.Wins++
		case p < 0:
			loss = loss.Add(d)
			s.Losses++
		}
	}
	s.Total = total.InexactFloat64()
	s.GrossProfit = profit.InexactFloat64()
	s.GrossLoss = loss.Abs().InexactFloat64()
	if s.Wins > 0 {
		s.AvgWin = profit.Div(decimal.NewFromInt(int64(s.Wins))).InexactFloat64()
	}
	if s.Losses > 0 {
		s.AvgLoss = loss.Div(decimal.NewFromInt(int64(s.Losses))).InexactFloat64()
	}
	return s
}

// WinRate is wins over total trades, 0 without trades
func WinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// ProfitFactor is gross profit over gross loss. It is +Inf with profit and
// no loss, and 0 with no profit.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossProfit <= 0 {
		return 0
	}
	if grossLoss == 0 {
		return math.Inf(1)
	}
	return grossProfit / grossLoss
}

// SharpeRatio returns mean/stdev scaled by sqrt(annualization), using the
// sample standard deviation. It is 0 with fewer than two returns or no
// dispersion.
func SharpeRatio(returns []float64, annualization float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	stdev := math.Sqrt(sq / float64(n-1))
	if stdev == 0 || math.IsNaN(stdev) {
		return 0
	}
	if annualization <= 0 {
		annualization = 1
	}
	return mean / stdev * math.Sqrt(annualization)
}

// EquityCurve returns cumulative PnL starting at 0, one point per trade plus
// the origin.
func EquityCurve(pnls []float64) []float64 {
	curve := make([]float64, 0, len(pnls)+1)
	acc := decimal.Zero
	curve = append(curve, 0)
	for _, p := range pnls {
		acc = acc.Add(decimal.NewFromFloat(p))
		curve = append(curve, acc.InexactFloat64())
	}
	return curve
}

// Drawdown returns the largest peak-to-trough decline of curve and the
// decline of the last point from its running peak, in curve units.
func Drawdown(curve []float64) (maxDD, current float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0]
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD, peak - curve[len(curve)-1]
}

// DrawdownRatio returns the largest decline relative to the equity at its
// peak. With equity <= 0 the peak PnL itself is the base and points with a
// non-positive peak are skipped.
func DrawdownRatio(curve []float64, equity float64) float64 {
	if len(curve) == 0 {
		return 0
	}
	var worst float64
	peak := curve[0]
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		base := equity + peak
		if equity <= 0 {
			base = peak
		}
		if base <= 0 {
			continue
		}
		if r := (peak - v) / base; r > worst {
			worst = r
		}
	}
	return worst
}

// HistoricalVaR returns the loss at the given confidence from the empirical
// PnL distribution, as a positive number. It returns 0 when the percentile
// is not a loss.
func HistoricalVaR(pnls []float64, confidence float64) float64 {
	n := len(pnls)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, pnls)
	sort.Float64s(sorted)

	// linear interpolation between closest ranks
	pos := (1 - confidence) * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	q := sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
	if q >= 0 {
		return 0
	}
	return -q
}

// TrailingLosses counts consecutive losing trades at the end of pnls
func TrailingLosses(pnls []float64) int {
	n := 0
	for i := len(pnls) - 1; i >= 0 && pnls[i] < 0; i-- {
		n++
	}
	return n
}
