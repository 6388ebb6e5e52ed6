package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/config"
	"tradewatch/internal/monitor"
	"tradewatch/internal/testutils"
	"tradewatch/internal/types"
)

type stubProbe struct {
	cpu float64
}

func (p *stubProbe) Sample(ctx context.Context) (*types.SystemMetricsSnapshot, error) {
	return &types.SystemMetricsSnapshot{Timestamp: time.Now(), CPUUsage: p.cpu, MemoryUsage: 30, DiskUsage: 40}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testEnv struct {
	suite   *testutils.TestSuite
	server  *Server
	monitor *monitor.Monitor
	probe   *stubProbe
	http    *testutils.HTTPTestHelper
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	suite := testutils.NewTestSuite(t, nil)
	t.Cleanup(suite.TearDown)

	cfg := config.Default()
	cfg.App.Environment = "test"
	cfg.Monitor.MetricsInterval = time.Hour
	cfg.Monitor.CheckInterval = time.Hour
	cfg.Monitor.TradeInterval = time.Hour
	cfg.Export.Dir = filepath.Join(suite.TempDir, "exports")
	if mutate != nil {
		mutate(cfg)
	}

	probe := &stubProbe{cpu: 20}
	reg := prometheus.NewRegistry()
	mon, err := monitor.New(cfg, suite.Logger, monitor.Options{Probe: probe, Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Close(context.Background()) })

	server := NewServer(cfg, mon, reg, reg, suite.Logger)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	return &testEnv{
		suite:   suite,
		server:  server,
		monitor: mon,
		probe:   probe,
		http:    testutils.NewHTTPTestHelper(suite, server.Handler()),
	}
}

func decode(t *testing.T, resp *testutils.HTTPResponse, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, resp.GetJSON(&env), string(resp.Body))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	var health HealthResponse
	resp := env.http.GET("/health", nil).AssertStatus(http.StatusOK)
	require.NoError(t, resp.GetJSON(&health))
	assert.Equal(t, types.StatusUnknown, health.Status)

	require.NoError(t, env.monitor.RegisterHealthCheck("exchange", func(ctx context.Context) (*types.ComponentHealth, error) {
		return &types.ComponentHealth{Status: types.StatusCritical, Message: "down"}, nil
	}))
	require.NoError(t, env.monitor.RunHealthTick(context.Background()))

	resp = env.http.GET("/health", nil).AssertStatus(http.StatusServiceUnavailable)
	require.NoError(t, resp.GetJSON(&health))
	assert.Equal(t, types.StatusCritical, health.Status)

	var component types.ComponentHealth
	decode(t, env.http.GET("/api/v1/status/components/exchange", nil).AssertStatus(http.StatusOK), &component)
	assert.Equal(t, "down", component.Message)

	env.http.GET("/api/v1/status/components/missing", nil).AssertStatus(http.StatusNotFound)
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	env.probe.cpu = 95
	require.NoError(t, env.monitor.RunMetricsTick(context.Background()))

	var alerts []*types.Alert
	decode(t, env.http.GET("/api/v1/alerts?active=true&component=system", nil).AssertStatus(http.StatusOK), &alerts)
	require.Len(t, alerts, 1)
	id := alerts[0].ID

	var summary monitor.AlertSummary
	decode(t, env.http.GET("/api/v1/alerts/summary", nil).AssertStatus(http.StatusOK), &summary)
	assert.Equal(t, 1, summary.Active)

	headers := map[string]string{"X-Actor": "ops"}
	var resolved types.Alert
	decode(t, env.http.POST("/api/v1/alerts/"+id+"/resolve", nil, headers).AssertStatus(http.StatusOK), &resolved)
	assert.False(t, resolved.Active)
	assert.NotNil(t, resolved.ResolvedAt)

	failed := decode(t, env.http.POST("/api/v1/alerts/"+id+"/resolve", nil, headers).AssertStatus(http.StatusConflict), nil)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "ALERT_ALREADY_RESOLVED", failed.Error.Code)

	env.http.GET("/api/v1/alerts/does-not-exist", nil).AssertStatus(http.StatusNotFound)

	var logs []*monitor.AuditLog
	decode(t, env.http.GET("/api/v1/audit?actor=ops", nil).AssertStatus(http.StatusOK), &logs)
	require.Len(t, logs, 2)
	assert.Equal(t, monitor.ActionResolveAlert, logs[0].Action)
	assert.Equal(t, monitor.AuditResultSuccess, logs[0].Result)
	assert.Equal(t, monitor.AuditResultFailure, logs[1].Result)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.JWT.Enabled = true
		cfg.JWT.SecretKey = "test-secret"
	})

	failed := decode(t, env.http.POST("/api/v1/alerts/resolve-all", nil, nil).AssertStatus(http.StatusUnauthorized), nil)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "UNAUTHORIZED", failed.Error.Code)

	env.http.POST("/api/v1/alerts/resolve-all", nil, map[string]string{"Authorization": "Bearer not-a-token"}).
		AssertStatus(http.StatusUnauthorized)

	other := NewJWTManager("other-secret", "tradewatch", time.Hour, true)
	forged, err := other.GenerateToken("mallory", nil)
	require.NoError(t, err)
	env.http.POST("/api/v1/alerts/resolve-all", nil, map[string]string{"Authorization": "Bearer " + forged}).
		AssertStatus(http.StatusUnauthorized)

	token, err := env.server.Auth().GenerateToken("alice", []string{"operator"})
	require.NoError(t, err)
	var result ResolveAllResponse
	decode(t, env.http.POST("/api/v1/alerts/resolve-all", nil, map[string]string{"Authorization": "Bearer " + token}).
		AssertStatus(http.StatusOK), &result)
	assert.Equal(t, 0, result.Resolved)

	logs := env.monitor.Audit().GetLogs("alice", monitor.ActionResolveAll, "", time.Time{}, time.Time{}, 0)
	assert.Len(t, logs, 1)

	// reads stay open
	env.http.GET("/api/v1/status", nil).AssertStatus(http.StatusOK)
}

func TestJWTManagerExpiredToken(t *testing.T) {
	m := NewJWTManager("secret", "tradewatch", time.Nanosecond, true)
	token, err := m.GenerateToken("bob", nil)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = m.ParseToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestTradeEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	exec := ExecutionRequest{
		ExecutionID:     "e-1",
		Symbol:          "BTCUSDT",
		Side:            types.SideBuy,
		Amount:          0.5,
		Price:           30000,
		ExecutionTimeMs: 120,
		PnL:             25,
	}
	var recorded types.TradeExecution
	decode(t, env.http.POST("/api/v1/trade/executions", exec, nil).AssertStatus(http.StatusCreated), &recorded)
	assert.Equal(t, 120*time.Millisecond, recorded.ExecutionTime)
	assert.False(t, recorded.Timestamp.IsZero())

	bad := exec
	bad.Side = "SIDEWAYS"
	env.http.POST("/api/v1/trade/executions", bad, nil).AssertStatus(http.StatusBadRequest)

	var metrics map[string]*types.TradeMetrics
	decode(t, env.http.GET("/api/v1/trade/metrics?symbol=BTCUSDT", nil).AssertStatus(http.StatusOK), &metrics)
	require.Contains(t, metrics, "BTCUSDT")
	assert.Equal(t, 1, metrics["BTCUSDT"].TotalTrades)
	env.http.GET("/api/v1/trade/metrics?symbol=ETHUSDT", nil).AssertStatus(http.StatusNotFound)

	pos := PositionRequest{Symbol: "BTCUSDT", Side: types.SideLong, Size: 0.5, AvgPrice: 30000}
	env.http.PUT("/api/v1/trade/positions", pos, nil).AssertStatus(http.StatusOK)
	var positions map[string]types.PositionSnapshot
	decode(t, env.http.GET("/api/v1/trade/positions", nil).AssertStatus(http.StatusOK), &positions)
	assert.Equal(t, 0.5, positions["BTCUSDT"].Size)

	env.http.GET("/api/v1/trade/performance", nil).AssertStatus(http.StatusOK)
	env.http.GET("/api/v1/trade/risk", nil).AssertStatus(http.StatusOK)
	env.http.GET("/api/v1/trade/events?limit=0", nil).AssertStatus(http.StatusBadRequest)

	env.http.POST("/api/v1/trade/reset", nil, nil).AssertStatus(http.StatusOK)
	decode(t, env.http.GET("/api/v1/trade/metrics", nil).AssertStatus(http.StatusOK), &metrics)
	assert.Empty(t, metrics)
}

func TestThresholdEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	var updated ThresholdsResponse
	decode(t, env.http.PUT("/api/v1/thresholds/system", map[string]float64{config.ThresholdCPUUsage: 70}, nil).
		AssertStatus(http.StatusOK), &updated)
	assert.Equal(t, 70.0, updated.System[config.ThresholdCPUUsage])

	env.http.PUT("/api/v1/thresholds/system", map[string]float64{config.ThresholdCPUUsage: 500}, nil).
		AssertStatus(http.StatusBadRequest)
	env.http.PUT("/api/v1/thresholds/risk", map[string]float64{"no_such_limit": 1}, nil).
		AssertStatus(http.StatusBadRequest)
	env.http.PUT("/api/v1/thresholds/weather", map[string]float64{}, nil).
		AssertStatus(http.StatusNotFound)

	assert.Equal(t, 70.0, env.monitor.SystemThresholds()[config.ThresholdCPUUsage])
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	env.http.GET("/api/v1/metrics/latest", nil).AssertStatus(http.StatusNotFound)
	require.NoError(t, env.monitor.RunMetricsTick(context.Background()))

	var snap types.SystemMetricsSnapshot
	decode(t, env.http.GET("/api/v1/metrics/latest", nil).AssertStatus(http.StatusOK), &snap)
	assert.Equal(t, 20.0, snap.CPUUsage)

	var history []types.SystemMetricsSnapshot
	start := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	decode(t, env.http.GET("/api/v1/metrics/history?start="+start, nil).AssertStatus(http.StatusOK), &history)
	assert.Len(t, history, 1)
	env.http.GET("/api/v1/metrics/history?start=yesterday", nil).AssertStatus(http.StatusBadRequest)

	env.http.POST("/api/v1/metrics/export", ExportRequest{Destination: "export.json"}, nil).AssertStatus(http.StatusOK)
	_, err := os.Stat(filepath.Join(env.suite.TempDir, "exports", "export.json"))
	require.NoError(t, err)
	env.http.POST("/api/v1/metrics/export", map[string]string{}, nil).AssertStatus(http.StatusBadRequest)

	// destinations outside the export directory are refused
	victim := filepath.Join(env.suite.TempDir, "victim.conf")
	require.NoError(t, os.WriteFile(victim, []byte("important=true"), 0o644))
	for _, dest := range []string{victim, "../victim.conf"} {
		resp := env.http.POST("/api/v1/metrics/export", ExportRequest{Destination: dest}, nil).AssertStatus(http.StatusBadRequest)
		body := decode(t, resp, nil)
		require.NotNil(t, body.Error)
		assert.Equal(t, "INVALID_INPUT", body.Error.Code)
	}
	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "important=true", string(data))

	resp := env.http.GET("/metrics", nil).AssertStatus(http.StatusOK)
	resp.AssertContains("tradewatch_http_requests_total")
	assert.NotEmpty(t, resp.Headers.Get("X-Request-ID"))
}

func TestSwaggerOnlyInDevelopment(t *testing.T) {
	dev := newTestEnv(t, func(cfg *config.Config) { cfg.App.Environment = "development" })
	dev.http.GET("/swagger/index.html", nil).AssertStatus(http.StatusOK).AssertContains("swagger")

	env := newTestEnv(t, nil)
	env.http.GET("/swagger/index.html", nil).AssertStatus(http.StatusNotFound)
}

func TestAlertStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/alerts/stream?min_level=warning"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)
	assert.Equal(t, 1, env.server.hub.Clients())

	env.probe.cpu = 95
	require.NoError(t, env.monitor.RunMetricsTick(context.Background()))

	var frame struct {
		Type string      `json:"type"`
		Data types.Event `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "alert_raised", frame.Type)
	assert.Equal(t, config.ThresholdCPUUsage, frame.Data.Alert.AlertType)

	env.server.hub.Close()
	testutils.Eventually(t, func() bool { return env.server.hub.Clients() == 0 }, time.Second, "hub should drop clients on close")
}

func TestAlertStreamRejectsUnknownLevel(t *testing.T) {
	env := newTestEnv(t, nil)
	env.http.GET("/api/v1/alerts/stream?min_level=loud", nil).AssertStatus(http.StatusBadRequest)
}
