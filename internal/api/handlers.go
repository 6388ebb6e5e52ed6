package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradewatch/internal/config"
	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/monitor"
	"tradewatch/internal/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Handlers exposes the monitor over HTTP
type Handlers struct {
	monitor *monitor.Monitor
}

// NewHandlers creates the handler set
func NewHandlers(mon *monitor.Monitor) *Handlers {
	return &Handlers{monitor: mon}
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput, "limit must be a positive integer", raw, nil)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func queryTime(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput, name+" must be RFC3339", raw, err)
	}
	return t, nil
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		respondError(c, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput, "invalid request body", err.Error(), err))
		return false
	}
	return true
}

// Health reports the aggregate status; CRITICAL answers 503
// @Summary Service health
// @Tags Status
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handlers) Health(c *gin.Context) {
	summary := h.monitor.GetSystemSummary()
	code := http.StatusOK
	if summary.Status == types.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    summary.Status,
		Running:   summary.Running,
		Uptime:    summary.Uptime,
		Timestamp: time.Now(),
	})
}

// GetStatus returns the system summary
// @Summary System summary
// @Tags Status
// @Produce json
// @Success 200 {object} Response{data=monitor.SystemSummary}
// @Router /api/v1/status [get]
func (h *Handlers) GetStatus(c *gin.Context) {
	respondOK(c, h.monitor.GetSystemSummary())
}

// GetComponent returns one health check result
// @Summary Component health
// @Tags Status
// @Produce json
// @Param name path string true "Component name"
// @Success 200 {object} Response{data=types.ComponentHealth}
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/status/components/{name} [get]
func (h *Handlers) GetComponent(c *gin.Context) {
	name := c.Param("name")
	health := h.monitor.GetComponentStatus(name)
	if health == nil {
		respondError(c, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeNotFound, "component not found", name, nil))
		return
	}
	respondOK(c, health)
}

// GetLatestMetrics returns the newest host sample
// @Summary Latest host sample
// @Tags Metrics
// @Produce json
// @Success 200 {object} Response{data=types.SystemMetricsSnapshot}
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/metrics/latest [get]
func (h *Handlers) GetLatestMetrics(c *gin.Context) {
	snap := h.monitor.GetLatestMetrics()
	if snap == nil {
		respondError(c, apperrors.NewAppError(apperrors.ErrCodeNotFound, "no metrics collected yet", nil))
		return
	}
	respondOK(c, snap)
}

// GetMetricsHistory returns samples between ?start and ?end
// @Summary Host sample history
// @Tags Metrics
// @Produce json
// @Param start query string false "RFC3339 start"
// @Param end query string false "RFC3339 end"
// @Success 200 {object} Response{data=[]types.SystemMetricsSnapshot}
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/v1/metrics/history [get]
func (h *Handlers) GetMetricsHistory(c *gin.Context) {
	start, err := queryTime(c, "start")
	if err != nil {
		respondError(c, err)
		return
	}
	end, err := queryTime(c, "end")
	if err != nil {
		respondError(c, err)
		return
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		respondError(c, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "end is before start", nil))
		return
	}
	respondOK(c, h.monitor.GetMetricsHistory(start, end))
}

// ExportMetrics writes the retained history to a file or s3:// destination
// @Summary Export sample history
// @Tags Metrics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ExportRequest true "Destination relative to the export directory, or s3://bucket/key"
// @Success 200 {object} Response
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Router /api/v1/metrics/export [post]
func (h *Handlers) ExportMetrics(c *gin.Context) {
	var req ExportRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.monitor.ExportMetrics(c.Request.Context(), actorOf(c), req.Destination); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "metrics exported to " + req.Destination})
}

// GetAlerts lists alerts. ?active=true returns only active ones.
// @Summary List alerts
// @Tags Alerts
// @Produce json
// @Param active query bool false "Only active alerts"
// @Param component query string false "Component filter"
// @Param limit query int false "Maximum results"
// @Success 200 {object} Response{data=[]types.Alert}
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/v1/alerts [get]
func (h *Handlers) GetAlerts(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	component := c.Query("component")

	var alerts []*types.Alert
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		alerts = h.monitor.GetActiveAlerts(component)
	} else {
		for _, a := range h.monitor.GetAlertHistory(0) {
			if component == "" || a.Component == component {
				alerts = append(alerts, a)
			}
		}
	}
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	if alerts == nil {
		alerts = []*types.Alert{}
	}
	respondOK(c, alerts)
}

// GetAlertSummary counts alerts by state and level
// @Summary Alert counts
// @Tags Alerts
// @Produce json
// @Success 200 {object} Response{data=monitor.AlertSummary}
// @Router /api/v1/alerts/summary [get]
func (h *Handlers) GetAlertSummary(c *gin.Context) {
	respondOK(c, h.monitor.GetAlertSummary())
}

// GetAlert returns one alert
// @Summary Get alert
// @Tags Alerts
// @Produce json
// @Param id path string true "Alert ID"
// @Success 200 {object} Response{data=types.Alert}
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/alerts/{id} [get]
func (h *Handlers) GetAlert(c *gin.Context) {
	alert, err := h.monitor.GetAlert(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, alert)
}

// ResolveAlert closes one alert
// @Summary Resolve alert
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Alert ID"
// @Success 200 {object} Response{data=types.Alert}
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /api/v1/alerts/{id}/resolve [post]
func (h *Handlers) ResolveAlert(c *gin.Context) {
	id := c.Param("id")
	if err := h.monitor.ResolveAlert(actorOf(c), id); err != nil {
		respondError(c, err)
		return
	}
	alert, _ := h.monitor.GetAlert(id)
	respondOK(c, alert)
}

// ResolveAll closes every active alert
// @Summary Resolve every active alert
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=ResolveAllResponse}
// @Failure 401 {object} errors.ErrorResponse
// @Router /api/v1/alerts/resolve-all [post]
func (h *Handlers) ResolveAll(c *gin.Context) {
	respondOK(c, ResolveAllResponse{Resolved: h.monitor.ResolveAll(actorOf(c))})
}

// GetTradeMetrics returns per-symbol trade metrics
// @Summary Trade metrics
// @Tags Trade
// @Produce json
// @Param symbol query string false "Symbol filter"
// @Success 200 {object} Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/trade/metrics [get]
func (h *Handlers) GetTradeMetrics(c *gin.Context) {
	symbol := c.Query("symbol")
	metrics := h.monitor.GetTradeMetrics(symbol)
	if symbol != "" && len(metrics) == 0 {
		respondError(c, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeNotFound, "no trades for symbol", symbol, nil))
		return
	}
	respondOK(c, metrics)
}

// GetPositions returns the open positions
// @Summary Open positions
// @Tags Trade
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/trade/positions [get]
func (h *Handlers) GetPositions(c *gin.Context) {
	respondOK(c, h.monitor.GetPositions())
}

// UpdatePosition replaces the position of a symbol
// @Summary Update position
// @Tags Trade
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PositionRequest true "Position"
// @Success 200 {object} Response
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/v1/trade/positions [put]
func (h *Handlers) UpdatePosition(c *gin.Context) {
	var req PositionRequest
	if !bindJSON(c, &req) {
		return
	}
	pos := req.Position()
	if err := h.monitor.UpdatePosition(pos); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, pos)
}

// RecordExecution ingests one execution
// @Summary Record execution
// @Tags Trade
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ExecutionRequest true "Execution"
// @Success 201 {object} Response
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/v1/trade/executions [post]
func (h *Handlers) RecordExecution(c *gin.Context) {
	var req ExecutionRequest
	if !bindJSON(c, &req) {
		return
	}
	exec := req.Execution()
	if err := h.monitor.RecordTradeExecution(exec); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: exec})
}

// GetTradeEvents returns recent trade events, newest last
// @Summary Trade events
// @Tags Trade
// @Produce json
// @Param limit query int false "Maximum results"
// @Success 200 {object} Response{data=[]types.TradeEvent}
// @Router /api/v1/trade/events [get]
func (h *Handlers) GetTradeEvents(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, h.monitor.GetTradeEvents(limit))
}

// GetPerformance returns the performance summary
// @Summary Performance summary
// @Tags Trade
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/trade/performance [get]
func (h *Handlers) GetPerformance(c *gin.Context) {
	respondOK(c, h.monitor.GetPerformanceSummary())
}

// GetRisk returns the risk summary
// @Summary Risk summary
// @Tags Trade
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/trade/risk [get]
func (h *Handlers) GetRisk(c *gin.Context) {
	respondOK(c, h.monitor.GetRiskSummary())
}

// ResetTrades clears trade statistics
// @Summary Reset trade statistics
// @Tags Trade
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Failure 401 {object} errors.ErrorResponse
// @Router /api/v1/trade/reset [post]
func (h *Handlers) ResetTrades(c *gin.Context) {
	h.monitor.ResetTradeStats(actorOf(c))
	c.JSON(http.StatusOK, Response{Success: true, Message: "trade statistics reset"})
}

// GetThresholds returns every threshold group
// @Summary All thresholds
// @Tags Thresholds
// @Produce json
// @Success 200 {object} Response{data=ThresholdsResponse}
// @Router /api/v1/thresholds [get]
func (h *Handlers) GetThresholds(c *gin.Context) {
	respondOK(c, ThresholdsResponse{
		System:      h.monitor.SystemThresholds(),
		Risk:        h.monitor.RiskThresholds(),
		Performance: h.monitor.PerformanceThresholds(),
	})
}

// UpdateThresholds merges the body into one threshold group
// @Summary Update thresholds
// @Tags Thresholds
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param kind path string true "system, risk or performance"
// @Param request body map[string]number true "Threshold values"
// @Success 200 {object} Response
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/thresholds/{kind} [put]
func (h *Handlers) UpdateThresholds(c *gin.Context) {
	var updates map[string]float64
	if !bindJSON(c, &updates) {
		return
	}

	var err error
	actor := actorOf(c)
	kind := config.ThresholdKind(c.Param("kind"))
	switch kind {
	case config.KindSystem:
		err = h.monitor.UpdateSystemThresholds(actor, updates)
	case config.KindRisk:
		err = h.monitor.UpdateRiskThresholds(actor, updates)
	case config.KindPerformance:
		err = h.monitor.UpdatePerformanceThresholds(actor, updates)
	default:
		err = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeNotFound, "unknown threshold group", string(kind), nil)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.GetThresholds(c)
}

// GetRecoveryHistory returns recovery results for a component
// @Summary Recovery history
// @Tags Recovery
// @Produce json
// @Param component path string true "Component name"
// @Success 200 {object} Response
// @Router /api/v1/recovery/{component} [get]
func (h *Handlers) GetRecoveryHistory(c *gin.Context) {
	respondOK(c, h.monitor.GetRecoveryHistory(c.Param("component")))
}

// GetAuditLogs filters the audit trail
// @Summary Audit trail
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param actor query string false "Actor"
// @Param action query string false "Action"
// @Param resource query string false "Resource"
// @Param start query string false "RFC3339 start"
// @Param end query string false "RFC3339 end"
// @Param limit query int false "Maximum results"
// @Success 200 {object} Response
// @Failure 401 {object} errors.ErrorResponse
// @Router /api/v1/audit [get]
func (h *Handlers) GetAuditLogs(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	start, err := queryTime(c, "start")
	if err != nil {
		respondError(c, err)
		return
	}
	end, err := queryTime(c, "end")
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, h.monitor.Audit().GetLogs(c.Query("actor"), c.Query("action"), c.Query("resource"), start, end, limit))
}
