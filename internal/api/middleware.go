package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
)

const ctxRequestID = "request_id"

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// respondError writes the error envelope and aborts the chain
func respondError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = apperrors.NewAppError(apperrors.ErrCodeInternal, "Internal server error", err)
	}
	if rid := c.GetString(ctxRequestID); rid != "" {
		// copy so shared errors are never mutated
		scoped := *appErr
		scoped.Context = make(map[string]interface{}, len(appErr.Context)+1)
		for k, v := range appErr.Context {
			scoped.Context[k] = v
		}
		appErr = scoped.WithContext(ctxRequestID, rid)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), apperrors.NewErrorResponse(appErr, c.Request.URL.Path))
}

// requestID propagates X-Request-ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(ctxRequestID, rid)
		c.Header("X-Request-ID", rid)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.ContextKeyRequestID, rid))
		c.Next()
	}
}

// recovery turns handler panics into INTERNAL_ERROR responses
func recovery(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithContext(c.Request.Context()).Error("Panic recovered",
			"error", recovered,
			"stack", string(debug.Stack()),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		respondError(c, apperrors.NewAppError(apperrors.ErrCodeInternal, "Internal server error", nil))
	})
}

// requestLogger logs every request; slow ones at warn level
func requestLogger(log logger.Logger, slow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.NewPerformanceLogger(log.WithContext(c.Request.Context()), slow).LogDuration(
			c.Request.Method+" "+c.Request.URL.Path, time.Since(start),
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
		)
	}
}

// httpMetrics holds the API Prometheus metrics
type httpMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	errorsTotal      *prometheus.CounterVec
	wsConnections    prometheus.Gauge
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	factory := promauto.With(reg)
	return &httpMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradewatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		requestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tradewatch_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradewatch_api_errors_total",
			Help: "Total number of API errors",
		}, []string{"endpoint", "error_type"}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tradewatch_websocket_connections_active",
			Help: "Number of active alert stream connections",
		}),
	}
}

// middleware records request counts, latency and errors
func (m *httpMetrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		m.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			m.errorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}
