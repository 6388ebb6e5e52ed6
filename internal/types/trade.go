package types

import (
	"encoding/json"
	"math"
	"time"
)

// Side of an execution or position
type Side string

const (
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// TradeExecution is a single fill. Immutable once recorded.
type TradeExecution struct {
	ExecutionID   string        `json:"execution_id"`
	OrderID       string        `json:"order_id"`
	Symbol        string        `json:"symbol"`
	Side          Side          `json:"side"`
	Amount        float64       `json:"amount"`
	Price         float64       `json:"price"`
	ExecutionTime time.Duration `json:"execution_time"`
	Timestamp     time.Time     `json:"timestamp"`
	PnL           float64       `json:"pnl"`
	Slippage      float64       `json:"slippage"`
	Fees          float64       `json:"fees"`
}

// Notional is the absolute traded value
func (e TradeExecution) Notional() float64 {
	return math.Abs(e.Amount * e.Price)
}

// PositionSnapshot is the latest known state of a symbol's position
type PositionSnapshot struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`
	AvgPrice      float64   `json:"avg_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	Timestamp     time.Time `json:"timestamp"`
}

// Exposure is the absolute notional of the position
func (p PositionSnapshot) Exposure() float64 {
	return math.Abs(p.Size * p.AvgPrice)
}

// TradeMetrics is derived per symbol by the trade metrics engine.
// ProfitFactor is +Inf when there are gains and no losses; it encodes as
// null in JSON.
type TradeMetrics struct {
	Symbol            string        `json:"symbol"`
	TotalTrades       int           `json:"total_trades"`
	WinningTrades     int           `json:"winning_trades"`
	LosingTrades      int           `json:"losing_trades"`
	WinRate           float64       `json:"win_rate"`
	ProfitFactor      float64       `json:"profit_factor"`
	SharpeRatio       float64       `json:"sharpe_ratio"`
	MaxDrawdown       float64       `json:"max_drawdown"`
	CurrentDrawdown   float64       `json:"current_drawdown"`
	MaxDrawdownRatio  float64       `json:"max_drawdown_ratio"`
	TotalPnL          float64       `json:"total_pnl"`
	GrossProfit       float64       `json:"gross_profit"`
	GrossLoss         float64       `json:"gross_loss"`
	AvgWin            float64       `json:"avg_win"`
	AvgLoss           float64       `json:"avg_loss"`
	AvgExecutionTime  time.Duration `json:"avg_execution_time"`
	AvgSlippage       float64       `json:"avg_slippage"`
	VaR               float64       `json:"var"`
	Exposure          float64       `json:"exposure"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	TotalFees         float64       `json:"total_fees"`
	LastUpdated       time.Time     `json:"last_updated"`
}

// MarshalJSON encodes an infinite profit factor as null
func (m TradeMetrics) MarshalJSON() ([]byte, error) {
	type plain TradeMetrics
	var pf *float64
	if !math.IsInf(m.ProfitFactor, 0) && !math.IsNaN(m.ProfitFactor) {
		v := m.ProfitFactor
		pf = &v
	}
	return json.Marshal(struct {
		plain
		ProfitFactor *float64 `json:"profit_factor"`
	}{plain(m), pf})
}

// TradeEventType names entries of the trade event log
type TradeEventType string

const (
	TradeEventExecution TradeEventType = "execution"
	TradeEventPosition  TradeEventType = "position"
	TradeEventSignal    TradeEventType = "signal"
	TradeEventReset     TradeEventType = "reset"
)

// TradeEvent is one entry of the bounded trade event log
type TradeEvent struct {
	Type      TradeEventType         `json:"type"`
	Symbol    string                 `json:"symbol"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
