package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
)

var structValidator = validator.New()

// Validator 配置验证器
type Validator struct {
	config *Config
}

// NewValidator 创建配置验证器
func NewValidator(config *Config) *Validator {
	return &Validator{config: config}
}

// ValidateConfig 验证配置
func ValidateConfig(config *Config) error {
	return NewValidator(config).Validate()
}

// Validate 验证配置，汇总所有错误后一次性返回
func (v *Validator) Validate() error {
	var errs []string

	// 结构体标签校验
	for _, section := range []struct {
		name  string
		value interface{}
	}{
		{"应用配置", v.config.App},
		{"监控配置", v.config.Monitor},
		{"交易指标配置", v.config.Trade},
		{"通知配置", v.config.Notification},
		{"恢复配置", v.config.Recovery},
		{"服务器配置", v.config.Server},
	} {
		if err := structValidator.Struct(section.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s错误: %s", section.name, describe(err)))
		}
	}

	if err := v.validateSchedules(); err != nil {
		errs = append(errs, fmt.Sprintf("调度配置错误: %v", err))
	}
	if err := v.validateThresholds(); err != nil {
		errs = append(errs, fmt.Sprintf("阈值配置错误: %v", err))
	}
	if err := v.validateTrade(); err != nil {
		errs = append(errs, fmt.Sprintf("交易指标配置错误: %v", err))
	}
	if err := v.validateDatabase(); err != nil {
		errs = append(errs, fmt.Sprintf("数据库配置错误: %v", err))
	}
	if err := v.validateRedis(); err != nil {
		errs = append(errs, fmt.Sprintf("Redis配置错误: %v", err))
	}
	if err := v.validateJWT(); err != nil {
		errs = append(errs, fmt.Sprintf("JWT配置错误: %v", err))
	}
	if err := v.validateNotification(); err != nil {
		errs = append(errs, fmt.Sprintf("通知配置错误: %v", err))
	}

	if len(errs) > 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeConfigInvalid,
			"配置验证失败", strings.Join(errs, "\n"), nil)
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s 不满足 %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s 不满足 %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

func (v *Validator) validateSchedules() error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	m := v.config.Monitor
	for name, spec := range map[string]string{
		"prune_schedule":       m.PruneSchedule,
		"daily_reset_schedule": m.DailyResetSchedule,
		"persist_schedule":     m.PersistSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("无效的cron表达式 %s=%q: %v", name, spec, err)
		}
	}
	return nil
}

func (v *Validator) validateThresholds() error {
	t := v.config.Thresholds
	for kind, values := range map[ThresholdKind]map[string]float64{
		KindSystem:      t.System,
		KindRisk:        t.Risk,
		KindPerformance: t.Performance,
	} {
		if err := ValidateThresholds(kind, values); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateTrade() error {
	t := v.config.Trade
	if t.VaRMinSamples > t.VaRWindow {
		return fmt.Errorf("VaR最小样本数(%d)不能大于窗口长度(%d)", t.VaRMinSamples, t.VaRWindow)
	}
	if t.VaRWindow > t.HistorySize {
		return fmt.Errorf("VaR窗口长度(%d)不能大于历史长度(%d)", t.VaRWindow, t.HistorySize)
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	db := v.config.Database
	if !db.Enabled {
		return nil
	}
	if db.Host == "" {
		return fmt.Errorf("数据库主机不能为空")
	}
	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("无效的数据库端口: %d", db.Port)
	}
	if db.User == "" || db.DBName == "" {
		return fmt.Errorf("数据库用户名和名称不能为空")
	}
	switch db.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("无效的SSL模式: %s", db.SSLMode)
	}
	if db.MaxIdle > db.MaxOpen {
		return fmt.Errorf("最大空闲连接数不能大于最大连接数")
	}
	return nil
}

func (v *Validator) validateRedis() error {
	r := v.config.Redis
	if r.Enabled && r.Addr == "" {
		return fmt.Errorf("Redis地址不能为空")
	}
	if r.Enabled && r.DB < 0 {
		return fmt.Errorf("无效的Redis数据库: %d", r.DB)
	}
	return nil
}

func (v *Validator) validateJWT() error {
	j := v.config.JWT
	if !j.Enabled {
		return nil
	}
	if len(j.SecretKey) < 16 {
		return fmt.Errorf("JWT密钥长度不能少于16个字符")
	}
	return nil
}

func (v *Validator) validateNotification() error {
	n := v.config.Notification
	if n.MinLevel != "" && !validLevelName(n.MinLevel) {
		return fmt.Errorf("无效的最低通知级别: %s", n.MinLevel)
	}
	if n.RedisChannel != "" && !v.config.Redis.Enabled {
		return fmt.Errorf("配置了Redis通知频道但Redis未启用")
	}
	if n.Email.Enabled && (n.Email.From == "" || len(n.Email.To) == 0) {
		return fmt.Errorf("邮件通知需要发件人和收件人")
	}
	return nil
}

func validLevelName(name string) bool {
	switch strings.ToUpper(name) {
	case "INFO", "LOW", "MEDIUM", "WARNING", "HIGH", "ERROR", "CRITICAL":
		return true
	}
	return false
}

func loggerLevel(s string) logger.LogLevel {
	return logger.LogLevel(strings.ToLower(s))
}
