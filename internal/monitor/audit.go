package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "tradewatch/internal/errors"
)

// AuditLogger keeps a bounded trail of operator and automatic actions that
// change monitor state.
type AuditLogger struct {
	logs    []*AuditLog
	maxLogs int
	now     func() time.Time
	mu      sync.RWMutex
}

// AuditLog represents an audit log entry
type AuditLog struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Result     AuditResult            `json:"result"`
	Error      string                 `json:"error,omitempty"`
}

// AuditResult represents audit result
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// Actions recorded by the monitor
const (
	ActionResolveAlert     = "resolve_alert"
	ActionResolveAll       = "resolve_all_alerts"
	ActionAutoRecovery     = "auto_recovery"
	ActionUpdateThresholds = "update_thresholds"
	ActionReloadConfig     = "reload_config"
	ActionExportMetrics    = "export_metrics"
	ActionResetTrades      = "reset_trade_stats"
)

// ActorSystem marks actions the monitor takes on its own
const ActorSystem = "system"

// NewAuditLogger creates a new audit logger
func NewAuditLogger(maxLogs int) *AuditLogger {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &AuditLogger{
		logs:    make([]*AuditLog, 0),
		maxLogs: maxLogs,
		now:     time.Now,
	}
}

// Log records an action. A non-nil err marks the entry as failed.
func (al *AuditLogger) Log(actor, action, resource, resourceID string, details map[string]interface{}, err error) *AuditLog {
	if actor == "" {
		actor = ActorSystem
	}
	log := &AuditLog{
		ID:         uuid.NewString(),
		Timestamp:  al.now(),
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		Result:     AuditResultSuccess,
	}
	if err != nil {
		log.Result = AuditResultFailure
		log.Error = err.Error()
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	al.logs = append(al.logs, log)

	// Maintain log size limit
	if len(al.logs) > al.maxLogs {
		al.logs = al.logs[len(al.logs)-al.maxLogs:]
	}

	return log
}

// GetLogs gets audit logs with filters, oldest first
func (al *AuditLogger) GetLogs(actor, action, resource string, startTime, endTime time.Time, limit int) []*AuditLog {
	al.mu.RLock()
	defer al.mu.RUnlock()

	var filteredLogs []*AuditLog
	for _, log := range al.logs {
		// Apply filters
		if actor != "" && log.Actor != actor {
			continue
		}
		if action != "" && log.Action != action {
			continue
		}
		if resource != "" && log.Resource != resource {
			continue
		}
		if !startTime.IsZero() && log.Timestamp.Before(startTime) {
			continue
		}
		if !endTime.IsZero() && log.Timestamp.After(endTime) {
			continue
		}

		c := *log
		filteredLogs = append(filteredLogs, &c)
	}

	// Apply limit
	if limit > 0 && len(filteredLogs) > limit {
		filteredLogs = filteredLogs[len(filteredLogs)-limit:]
	}

	return filteredLogs
}

// GetLog gets a specific audit log
func (al *AuditLogger) GetLog(logID string) (*AuditLog, error) {
	al.mu.RLock()
	defer al.mu.RUnlock()

	for _, log := range al.logs {
		if log.ID == logID {
			c := *log
			return &c, nil
		}
	}

	return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeNotFound, "audit log not found", logID, nil)
}
