package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// TestConfig 测试配置
type TestConfig struct {
	LogLevel logger.LogLevel
	// LogOutput 不为空时日志写入该writer，便于断言日志内容
	LogOutput io.Writer
}

// DefaultTestConfig 默认测试配置
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		LogLevel: logger.LevelError, // 测试时减少日志输出
	}
}

// TestSuite 测试套件
type TestSuite struct {
	T       *testing.T
	Config  *TestConfig
	Logger  logger.Logger
	TempDir string
	Cleanup []func()
}

// NewTestSuite 创建测试套件
func NewTestSuite(t *testing.T, config *TestConfig) *TestSuite {
	if config == nil {
		config = DefaultTestConfig()
	}

	tempDir, err := os.MkdirTemp("", "tradewatch_test_*")
	require.NoError(t, err)

	out := config.LogOutput
	if out == nil {
		out = io.Discard
	}
	testLogger := logger.NewWithWriter(logger.Config{
		Level:  config.LogLevel,
		Format: logger.FormatText,
	}, out)

	suite := &TestSuite{
		T:       t,
		Config:  config,
		Logger:  testLogger,
		TempDir: tempDir,
	}
	suite.AddCleanup(func() { os.RemoveAll(tempDir) })
	return suite
}

// AddCleanup 添加清理函数
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown 按注册的逆序执行清理
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
	s.Cleanup = nil
}

// CreateTempFile 在临时目录中创建文件
func (s *TestSuite) CreateTempFile(name, content string) string {
	path := filepath.Join(s.TempDir, name)
	require.NoError(s.T, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(s.T, os.WriteFile(path, []byte(content), 0644))
	return path
}

// HTTPTestHelper HTTP测试助手
type HTTPTestHelper struct {
	Handler http.Handler
	Suite   *TestSuite
}

// NewHTTPTestHelper 创建HTTP测试助手
func NewHTTPTestHelper(suite *TestSuite, handler http.Handler) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	return &HTTPTestHelper{Handler: handler, Suite: suite}
}

// GET 发送GET请求
func (h *HTTPTestHelper) GET(path string, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodGet, path, nil, headers)
}

// POST 发送POST请求
func (h *HTTPTestHelper) POST(path string, body interface{}, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodPost, path, body, headers)
}

// PUT 发送PUT请求
func (h *HTTPTestHelper) PUT(path string, body interface{}, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodPut, path, body, headers)
}

// Request 发送HTTP请求
func (h *HTTPTestHelper) Request(method, path string, body interface{}, headers map[string]string) *HTTPResponse {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(h.Suite.T, err)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	h.Handler.ServeHTTP(w, req)

	return &HTTPResponse{
		StatusCode: w.Code,
		Body:       w.Body.Bytes(),
		Headers:    w.Header(),
		suite:      h.Suite,
	}
}

// HTTPResponse HTTP响应
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	suite      *TestSuite
}

// AssertStatus 断言状态码
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.suite.T, expectedStatus, r.StatusCode, string(r.Body))
	return r
}

// AssertContains 断言响应包含指定内容
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.suite.T, string(r.Body), substring)
	return r
}

// GetJSON 获取JSON响应
func (r *HTTPResponse) GetJSON(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

// MockData 模拟交易数据生成器
type MockData struct {
	rand *rand.Rand
	seq  int
}

// NewMockData 创建固定种子的模拟数据生成器
func NewMockData(seed int64) *MockData {
	return &MockData{rand: rand.New(rand.NewSource(seed))}
}

// Execution 生成指定盈亏的成交记录
func (m *MockData) Execution(symbol string, pnl float64, ts time.Time) types.TradeExecution {
	m.seq++
	return types.TradeExecution{
		ExecutionID:   fmt.Sprintf("exec-%d", m.seq),
		OrderID:       fmt.Sprintf("order-%d", m.seq),
		Symbol:        symbol,
		Side:          types.SideBuy,
		Amount:        1,
		Price:         100,
		ExecutionTime: 50 * time.Millisecond,
		Timestamp:     ts,
		PnL:           pnl,
		Slippage:      0.0005,
		Fees:          0.1,
	}
}

// RandomExecutions 生成n条随机盈亏的成交记录
func (m *MockData) RandomExecutions(symbol string, n int, start time.Time) []types.TradeExecution {
	out := make([]types.TradeExecution, 0, n)
	for i := 0; i < n; i++ {
		pnl := m.rand.Float64()*20 - 9
		out = append(out, m.Execution(symbol, pnl, start.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

// TimeoutContext 创建带超时的上下文
func TimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// Eventually 等待条件满足，超时则失败
func Eventually(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !condition() {
		t.Fatalf("Timeout waiting for condition: %s", message)
	}
}

// Consistently 在整个时间段内条件都必须成立
func Consistently(t *testing.T, condition func() bool, duration time.Duration, message string) {
	t.Helper()
	end := time.Now().Add(duration)
	for time.Now().Before(end) {
		if !condition() {
			t.Fatalf("Condition failed during consistency check: %s", message)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// SetEnv 设置环境变量（测试结束后自动恢复）
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

// RequireEnv 返回环境变量的值，未设置时跳过测试
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set, skipping integration test", key)
	}
	return value
}
