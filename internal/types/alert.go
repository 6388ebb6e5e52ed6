package types

import (
	"strings"
	"time"
)

// Level is the severity of an alert
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels so that a higher rank is more severe
func (l Level) Rank() int {
	switch l {
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other or more
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// ParseLevel maps level names, including the LOW/MEDIUM/HIGH trade
// aliases, onto the four canonical levels.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, true
	case "WARNING", "WARN", "LOW", "MEDIUM":
		return LevelWarning, true
	case "ERROR", "HIGH":
		return LevelError, true
	case "CRITICAL":
		return LevelCritical, true
	}
	return "", false
}

// Alert is a deduplicated condition raised against a component.
// At most one active alert exists per (Component, AlertType).
type Alert struct {
	ID         string     `json:"id"`
	Component  string     `json:"component"`
	AlertType  string     `json:"alert_type"`
	Level      Level      `json:"level"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Source     string     `json:"source,omitempty"`
	Count      int        `json:"count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Active     bool       `json:"active"`
}

// AlertKey identifies the dedup slot of an alert
type AlertKey struct {
	Component string
	AlertType string
}

// Key returns the dedup slot of the alert
func (a *Alert) Key() AlertKey {
	return AlertKey{Component: a.Component, AlertType: a.AlertType}
}

// Clone returns a deep copy safe to hand to other goroutines
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// EventKind describes an alert transition
type EventKind string

const (
	EventRaised    EventKind = "raised"
	EventUpdated   EventKind = "updated"
	EventEscalated EventKind = "escalated"
	EventResolved  EventKind = "resolved"
)

// Event is emitted by the alert manager on every transition
type Event struct {
	Kind      EventKind `json:"kind"`
	Alert     *Alert    `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifiable reports whether the event should reach notification handlers.
// Plain updates of an already active alert are not re-sent.
func (e Event) Notifiable() bool {
	return e.Kind != EventUpdated
}

// Clone returns a copy of the event with its own alert
func (e Event) Clone() Event {
	e.Alert = e.Alert.Clone()
	return e
}
