package types

import "time"

// HealthStatus is the status of a single component or of the whole system
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "HEALTHY"
	StatusWarning  HealthStatus = "WARNING"
	StatusError    HealthStatus = "ERROR"
	StatusCritical HealthStatus = "CRITICAL"
	StatusUnknown  HealthStatus = "UNKNOWN"
)

// Rank orders statuses by severity; UNKNOWN sorts below HEALTHY
func (s HealthStatus) Rank() int {
	switch s {
	case StatusHealthy:
		return 1
	case StatusWarning:
		return 2
	case StatusError:
		return 3
	case StatusCritical:
		return 4
	default:
		return 0
	}
}

// AlertLevel maps a degraded status to the level used when alerting on it
func (s HealthStatus) AlertLevel() (Level, bool) {
	switch s {
	case StatusWarning:
		return LevelWarning, true
	case StatusError:
		return LevelError, true
	case StatusCritical:
		return LevelCritical, true
	}
	return "", false
}

// ComponentHealth is the last known result of a component's health check
type ComponentHealth struct {
	Name         string                 `json:"name"`
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message"`
	ResponseTime time.Duration          `json:"response_time"`
	LastUpdated  time.Time              `json:"last_updated"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Clone returns a copy with its own details map
func (h *ComponentHealth) Clone() *ComponentHealth {
	if h == nil {
		return nil
	}
	c := *h
	if h.Details != nil {
		c.Details = make(map[string]interface{}, len(h.Details))
		for k, v := range h.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// Aggregate folds component statuses into the overall system status:
// UNKNOWN when empty, otherwise the most severe status present.
func Aggregate(components map[string]*ComponentHealth) HealthStatus {
	if len(components) == 0 {
		return StatusUnknown
	}
	worst := StatusHealthy
	for _, c := range components {
		if c.Status.Rank() > worst.Rank() {
			worst = c.Status
		}
	}
	return worst
}
