package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 定义错误代码类型
type ErrorCode string

const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"

	// 探测错误
	ErrCodeProbeFailure       ErrorCode = "PROBE_FAILURE"
	ErrCodeHealthCheckTimeout ErrorCode = "HEALTH_CHECK_TIMEOUT"
	ErrCodeHealthCheckPanic   ErrorCode = "HEALTH_CHECK_PANIC"

	// 告警与通知错误
	ErrCodeAlertNotFound        ErrorCode = "ALERT_NOT_FOUND"
	ErrCodeAlertAlreadyResolved ErrorCode = "ALERT_ALREADY_RESOLVED"
	ErrCodeNotificationFailure  ErrorCode = "NOTIFICATION_FAILURE"
	ErrCodeQueueFull            ErrorCode = "QUEUE_FULL"

	// 恢复错误
	ErrCodeRecoveryFailure ErrorCode = "RECOVERY_FAILURE"
	ErrCodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
	ErrCodeNoRecovery      ErrorCode = "NO_RECOVERY_HANDLER"

	// 配置错误
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"

	// 存储与导出错误
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"
	ErrCodeCacheFailure   ErrorCode = "CACHE_FAILURE"
	ErrCodeExportFailure  ErrorCode = "EXPORT_FAILURE"

	// 生命周期错误
	ErrCodeMonitorState ErrorCode = "MONITOR_STATE"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError 应用错误结构
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码比较，使 errors.Is(err, ErrAlertNotFound) 可用
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeAlertNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeInvalidInput, ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case ErrCodeAlertAlreadyResolved:
		return http.StatusConflict
	case ErrCodeTimeout, ErrCodeHealthCheckTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit, ErrCodeQueueFull:
		return http.StatusTooManyRequests
	case ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError 创建新的应用错误
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewAppErrorWithDetails 创建带详细信息的应用错误
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// getSeverityByCode 根据错误代码确定严重程度
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeProbeFailure, ErrCodeHealthCheckPanic:
		return SeverityCritical
	case ErrCodeRecoveryFailure, ErrCodeStorageFailure, ErrCodeCircuitOpen, ErrCodeHealthCheckTimeout:
		return SeverityHigh
	case ErrCodeNotificationFailure, ErrCodeCacheFailure, ErrCodeExportFailure, ErrCodeQueueFull:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable 判断错误是否可重试
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeHealthCheckTimeout, ErrCodeStorageFailure,
		ErrCodeCacheFailure, ErrCodeNotificationFailure, ErrCodeRecoveryFailure:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, path string) *ErrorResponse {
	return &ErrorResponse{
		Error:     err,
		Success:   false,
		Timestamp: time.Now(),
		Path:      path,
	}
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrAlertNotFound        = &AppError{Code: ErrCodeAlertNotFound, Message: "alert not found"}
	ErrAlertAlreadyResolved = &AppError{Code: ErrCodeAlertAlreadyResolved, Message: "alert already resolved"}
	ErrConfigInvalid        = &AppError{Code: ErrCodeConfigInvalid, Message: "invalid configuration"}
	ErrCircuitOpen          = &AppError{Code: ErrCodeCircuitOpen, Message: "circuit breaker open"}
	ErrMonitorState         = &AppError{Code: ErrCodeMonitorState, Message: "invalid monitor state"}
)

// WrapError 包装标准错误为应用错误
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	// 如果已经是AppError，直接返回
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(code, message, err)
}

// IsAppError 检查是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode 判断错误链中是否包含指定代码的应用错误
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
