package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel 日志级别
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat 日志格式
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config 日志配置
type Config struct {
	Level      LogLevel  `yaml:"level" json:"level"`
	Format     LogFormat `yaml:"format" json:"format"`
	Output     string    `yaml:"output" json:"output"`           // stdout, stderr, file
	Filename   string    `yaml:"filename" json:"filename"`       // 日志文件路径
	MaxSize    int       `yaml:"max_size" json:"max_size"`       // 单个日志文件最大大小(MB)
	MaxAge     int       `yaml:"max_age" json:"max_age"`         // 日志文件保留天数
	MaxBackups int       `yaml:"max_backups" json:"max_backups"` // 最大备份文件数
	Compress   bool      `yaml:"compress" json:"compress"`
	Caller     bool      `yaml:"caller" json:"caller"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatJSON,
		Output:     "stdout",
		Filename:   "logs/tradewatch.log",
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 10,
		Compress:   true,
	}
}

// Logger 日志器接口
type Logger interface {
	Trace(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger

	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// StructuredLogger 基于logrus的结构化日志器
type StructuredLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
	level  *levelHolder
}

type levelHolder struct {
	mu    sync.RWMutex
	level LogLevel
}

// NewLogger 创建新的日志器
func NewLogger(config Config) Logger {
	return NewWithWriter(config, outputFor(config))
}

// NewWithWriter 创建写入指定writer的日志器，测试中用于捕获输出
func NewWithWriter(config Config, w io.Writer) Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
		config.Level = LevelInfo
	}
	l.SetLevel(level)

	prettyfier := func(f *runtime.Frame) (string, string) {
		return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	if config.Format == FormatText {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyfier,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyfier,
		})
	}

	l.SetOutput(w)
	l.SetReportCaller(config.Caller)

	return &StructuredLogger{
		logger: l,
		entry:  logrus.NewEntry(l),
		level:  &levelHolder{level: config.Level},
	}
}

func outputFor(config Config) io.Writer {
	switch config.Output {
	case "stderr":
		return os.Stderr
	case "file":
		filename := config.Filename
		if filename == "" {
			filename = DefaultConfig().Filename
		}
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}
	default:
		return os.Stdout
	}
}

func (l *StructuredLogger) Trace(msg string, fields ...interface{}) {
	l.logWithFields(logrus.TraceLevel, msg, fields...)
}

func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.logWithFields(logrus.DebugLevel, msg, fields...)
}

func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.logWithFields(logrus.InfoLevel, msg, fields...)
}

func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.logWithFields(logrus.WarnLevel, msg, fields...)
}

func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.logWithFields(logrus.ErrorLevel, msg, fields...)
}

// WithField 添加单个字段
func (l *StructuredLogger) WithField(key string, value interface{}) Logger {
	return &StructuredLogger{logger: l.logger, entry: l.entry.WithField(key, value), level: l.level}
}

// WithFields 添加多个字段
func (l *StructuredLogger) WithFields(fields map[string]interface{}) Logger {
	return &StructuredLogger{logger: l.logger, entry: l.entry.WithFields(fields), level: l.level}
}

type ctxKey string

// ContextKeyRequestID 请求ID在context中的键
const ContextKeyRequestID ctxKey = "request_id"

// WithContext 添加上下文
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)
	if requestID := ctx.Value(ContextKeyRequestID); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}
	return &StructuredLogger{logger: l.logger, entry: entry, level: l.level}
}

// SetLevel 设置日志级别
func (l *StructuredLogger) SetLevel(level LogLevel) {
	parsed, err := logrus.ParseLevel(string(level))
	if err != nil {
		return
	}

	l.level.mu.Lock()
	defer l.level.mu.Unlock()
	l.logger.SetLevel(parsed)
	l.level.level = level
}

// GetLevel 获取日志级别
func (l *StructuredLogger) GetLevel() LogLevel {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return l.level.level
}

// logWithFields 将 key, value 成对的参数转换为logrus字段
func (l *StructuredLogger) logWithFields(level logrus.Level, msg string, fields ...interface{}) {
	entry := l.entry
	if len(fields) > 0 {
		fieldMap := make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			if err, isErr := fields[i+1].(error); isErr {
				fieldMap[key] = err.Error()
				continue
			}
			fieldMap[key] = fields[i+1]
		}
		if len(fieldMap) > 0 {
			entry = entry.WithFields(fieldMap)
		}
	}
	entry.Log(level, msg)
}

// PerformanceLogger 耗时日志记录器
type PerformanceLogger struct {
	logger Logger
	slow   time.Duration
}

// NewPerformanceLogger 创建耗时日志记录器，超过slow的操作以warn级别记录
func NewPerformanceLogger(logger Logger, slow time.Duration) *PerformanceLogger {
	return &PerformanceLogger{logger: logger, slow: slow}
}

// LogDuration 记录一次操作的耗时
func (pl *PerformanceLogger) LogDuration(operation string, duration time.Duration, fields ...interface{}) {
	fields = append(fields, "operation", operation, "duration_ms", duration.Milliseconds())
	if pl.slow > 0 && duration > pl.slow {
		pl.logger.Warn("slow operation", fields...)
		return
	}
	pl.logger.Debug("operation completed", fields...)
}
