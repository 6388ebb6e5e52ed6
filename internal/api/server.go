package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"tradewatch/internal/config"
	"tradewatch/internal/logger"
	"tradewatch/internal/monitor"
)

// slowRequest is the latency above which requests are logged at warn level
const slowRequest = 500 * time.Millisecond

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	monitor    *monitor.Monitor
	handlers   *Handlers
	hub        *AlertHub
	auth       *JWTManager
	metrics    *httpMetrics
	log        logger.Logger
}

// NewServer creates the API server for mon. Metrics are registered with reg
// and served from gatherer.
func NewServer(cfg *config.Config, mon *monitor.Monitor, gatherer prometheus.Gatherer, reg prometheus.Registerer, log logger.Logger) *Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := newHTTPMetrics(reg)
	s := &Server{
		config:   cfg,
		router:   gin.New(),
		monitor:  mon,
		handlers: NewHandlers(mon),
		hub:      NewAlertHub(metrics.wsConnections, log.WithField("component", "alert_hub")),
		auth:     NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.Duration, cfg.JWT.Enabled),
		metrics:  metrics,
		log:      log.WithField("component", "api"),
	}
	mon.OnAlertEvent(s.hub.Broadcast)
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(requestID())
	s.router.Use(recovery(s.log))
	s.router.Use(requestLogger(s.log, slowRequest))
	s.router.Use(s.metrics.middleware())
	s.router.Use(corsMiddleware())

	// Swagger documentation
	if s.config.App.Environment == "development" {
		s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	s.router.GET("/health", s.handlers.Health)
	if gatherer != nil {
		s.router.GET(s.config.Server.MetricsPath, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	h := s.handlers
	protected := s.auth.AuthMiddleware()

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", h.GetStatus)
		v1.GET("/status/components/:name", h.GetComponent)

		metrics := v1.Group("/metrics")
		{
			metrics.GET("/latest", h.GetLatestMetrics)
			metrics.GET("/history", h.GetMetricsHistory)
			metrics.POST("/export", protected, h.ExportMetrics)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", h.GetAlerts)
			alerts.GET("/summary", h.GetAlertSummary)
			alerts.GET("/stream", s.hub.AlertsStream)
			alerts.GET("/:id", h.GetAlert)
			alerts.POST("/:id/resolve", protected, h.ResolveAlert)
			alerts.POST("/resolve-all", protected, h.ResolveAll)
		}

		trade := v1.Group("/trade")
		{
			trade.GET("/metrics", h.GetTradeMetrics)
			trade.GET("/positions", h.GetPositions)
			trade.PUT("/positions", protected, h.UpdatePosition)
			trade.GET("/events", h.GetTradeEvents)
			trade.GET("/performance", h.GetPerformance)
			trade.GET("/risk", h.GetRisk)
			trade.POST("/executions", protected, h.RecordExecution)
			trade.POST("/reset", protected, h.ResetTrades)
		}

		v1.GET("/thresholds", h.GetThresholds)
		v1.PUT("/thresholds/:kind", protected, h.UpdateThresholds)

		v1.GET("/recovery/:component", h.GetRecoveryHistory)
		v1.GET("/audit", protected, h.GetAuditLogs)
	}
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Auth returns the token manager
func (s *Server) Auth() *JWTManager {
	return s.auth
}

// Start serves until Stop is called; a clean stop returns nil
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	s.log.Info("Starting API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and disconnects stream clients
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Shutting down server...")
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("Server stopped gracefully")
	return nil
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID, X-Actor")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
