package api

import (
	"time"

	"tradewatch/internal/types"
)

// ExecutionRequest is the body of POST /trade/executions
type ExecutionRequest struct {
	ExecutionID     string     `json:"execution_id" binding:"required"`
	OrderID         string     `json:"order_id"`
	Symbol          string     `json:"symbol" binding:"required"`
	Side            types.Side `json:"side" binding:"required,oneof=BUY SELL LONG SHORT"`
	Amount          float64    `json:"amount" binding:"required,gt=0"`
	Price           float64    `json:"price" binding:"gte=0"`
	ExecutionTimeMs int64      `json:"execution_time_ms" binding:"gte=0"`
	Timestamp       time.Time  `json:"timestamp"`
	PnL             float64    `json:"pnl"`
	Slippage        float64    `json:"slippage"`
	Fees            float64    `json:"fees" binding:"gte=0"`
}

// Execution converts the request; a zero timestamp means now
func (r ExecutionRequest) Execution() types.TradeExecution {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.TradeExecution{
		ExecutionID:   r.ExecutionID,
		OrderID:       r.OrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Amount:        r.Amount,
		Price:         r.Price,
		ExecutionTime: time.Duration(r.ExecutionTimeMs) * time.Millisecond,
		Timestamp:     ts,
		PnL:           r.PnL,
		Slippage:      r.Slippage,
		Fees:          r.Fees,
	}
}

// PositionRequest is the body of PUT /trade/positions
type PositionRequest struct {
	Symbol        string     `json:"symbol" binding:"required"`
	Side          types.Side `json:"side" binding:"required,oneof=BUY SELL LONG SHORT"`
	Size          float64    `json:"size" binding:"gte=0"`
	AvgPrice      float64    `json:"avg_price" binding:"gte=0"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	RealizedPnL   float64    `json:"realized_pnl"`
}

// Position converts the request, stamped with the current time
func (r PositionRequest) Position() types.PositionSnapshot {
	return types.PositionSnapshot{
		Symbol:        r.Symbol,
		Side:          r.Side,
		Size:          r.Size,
		AvgPrice:      r.AvgPrice,
		UnrealizedPnL: r.UnrealizedPnL,
		RealizedPnL:   r.RealizedPnL,
		Timestamp:     time.Now(),
	}
}

// ExportRequest is the body of POST /metrics/export
type ExportRequest struct {
	Destination string `json:"destination" binding:"required"`
}

// ThresholdsResponse lists every threshold group
type ThresholdsResponse struct {
	System      map[string]float64 `json:"system"`
	Risk        map[string]float64 `json:"risk"`
	Performance map[string]float64 `json:"performance"`
}

// ResolveAllResponse reports how many alerts were closed
type ResolveAllResponse struct {
	Resolved int `json:"resolved"`
}

// HealthResponse is served on /health
type HealthResponse struct {
	Status    types.HealthStatus `json:"status"`
	Running   bool               `json:"running"`
	Uptime    string             `json:"uptime"`
	Timestamp time.Time          `json:"timestamp"`
}
