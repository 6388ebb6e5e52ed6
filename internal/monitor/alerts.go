package monitor

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// Direction tells Evaluate which side of a threshold is the breach
type Direction int

const (
	// Above breaches when value > threshold
	Above Direction = iota
	// Below breaches when value < threshold
	Below
)

// Threshold is a two-level limit. A NaN level is disabled.
type Threshold struct {
	Warning   float64
	Critical  float64
	Direction Direction
	// WarningLevel overrides the level raised when only Warning is crossed
	WarningLevel types.Level
}

// WarnAbove returns a single-level threshold raising WARNING above limit
func WarnAbove(limit float64) Threshold {
	return Threshold{Warning: limit, Critical: math.NaN(), Direction: Above}
}

// ErrorAbove returns a single-level threshold raising ERROR above limit
func ErrorAbove(limit float64) Threshold {
	return Threshold{Warning: limit, Critical: math.NaN(), Direction: Above, WarningLevel: types.LevelError}
}

// CriticalAbove returns a single-level threshold raising CRITICAL above limit
func CriticalAbove(limit float64) Threshold {
	return Threshold{Warning: math.NaN(), Critical: limit, Direction: Above}
}

func (t Threshold) crossed(value, limit float64) bool {
	if math.IsNaN(limit) || math.IsNaN(value) {
		return false
	}
	if t.Direction == Below {
		return value < limit
	}
	return value > limit
}

// Level returns the breached level and its limit. CRITICAL wins when both
// levels are crossed.
func (t Threshold) Level(value float64) (types.Level, float64, bool) {
	if t.crossed(value, t.Critical) {
		return types.LevelCritical, t.Critical, true
	}
	if t.crossed(value, t.Warning) {
		if t.WarningLevel != "" {
			return t.WarningLevel, t.Warning, true
		}
		return types.LevelWarning, t.Warning, true
	}
	return "", 0, false
}

// Condition is one breached condition reported to Raise
type Condition struct {
	Component string
	AlertType string
	Level     types.Level
	Message   string
	Value     float64
	Threshold float64
	// Source names the loop that reports the condition and scopes AutoResolve
	Source string
}

// AlertSummary counts alerts
type AlertSummary struct {
	Total       int                 `json:"total"`
	Active      int                 `json:"active"`
	Resolved    int                 `json:"resolved"`
	ByLevel     map[types.Level]int `json:"by_level"`
	ByComponent map[string]int      `json:"by_component"`
}

// AlertManager keeps the alert table. At most one active alert exists per
// (component, alert type); repeated breaches update it in place.
type AlertManager struct {
	retention  time.Duration
	maxHistory int
	log        logger.Logger
	now        func() time.Time

	mu        sync.RWMutex
	alerts    map[string]*types.Alert
	active    map[types.AlertKey]string
	order     []string
	listeners []func(types.Event)
	pending   []types.Event
	flushing  bool
}

// NewAlertManager creates an alert manager keeping resolved alerts for
// retention and at most maxHistory alerts in total.
func NewAlertManager(retention time.Duration, maxHistory int, log logger.Logger) *AlertManager {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if maxHistory <= 0 {
		maxHistory = 10000
	}
	return &AlertManager{
		retention:  retention,
		maxHistory: maxHistory,
		log:        log.WithField("component", "alert_manager"),
		now:        time.Now,
		alerts:     make(map[string]*types.Alert),
		active:     make(map[types.AlertKey]string),
	}
}

// OnEvent subscribes fn to every alert transition. Events reach listeners
// one at a time in the order the transitions happened, outside the table
// lock. A transition made while another goroutine is delivering is handed
// to that goroutine.
func (am *AlertManager) OnEvent(fn func(types.Event)) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.listeners = append(am.listeners, fn)
}

// Evaluate compares value with t. A breach raises or updates the alert for
// (component, alertType); no breach resolves it.
func (am *AlertManager) Evaluate(component, alertType string, value float64, t Threshold, source string) *types.Alert {
	level, limit, breached := t.Level(value)
	if !breached {
		am.ResolveCondition(component, alertType)
		return nil
	}
	word := "above"
	if t.Direction == Below {
		word = "below"
	}
	return am.Raise(Condition{
		Component: component,
		AlertType: alertType,
		Level:     level,
		Message:   fmt.Sprintf("%s %s: %.4g is %s %s threshold %.4g", component, alertType, value, word, level, limit),
		Value:     value,
		Threshold: limit,
		Source:    source,
	})
}

// Raise creates the alert for the condition or folds it into the active one
func (am *AlertManager) Raise(c Condition) *types.Alert {
	if c.Level.Rank() == 0 {
		c.Level = types.LevelWarning
	}
	now := am.now()
	key := types.AlertKey{Component: c.Component, AlertType: c.AlertType}

	am.mu.Lock()
	var ev types.Event
	if id, ok := am.active[key]; ok {
		a := am.alerts[id]
		kind := types.EventUpdated
		if c.Level.Rank() > a.Level.Rank() {
			kind = types.EventEscalated
		}
		a.Level = c.Level
		a.Message = c.Message
		a.Value = c.Value
		a.Threshold = c.Threshold
		a.Count++
		a.UpdatedAt = now
		if c.Source != "" {
			a.Source = c.Source
		}
		ev = types.Event{Kind: kind, Alert: a.Clone(), Timestamp: now}
	} else {
		a := &types.Alert{
			ID:        uuid.NewString(),
			Component: c.Component,
			AlertType: c.AlertType,
			Level:     c.Level,
			Message:   c.Message,
			Value:     c.Value,
			Threshold: c.Threshold,
			Source:    c.Source,
			Count:     1,
			CreatedAt: now,
			UpdatedAt: now,
			Active:    true,
		}
		am.alerts[a.ID] = a
		am.active[key] = a.ID
		am.order = append(am.order, a.ID)
		am.trimLocked()
		ev = types.Event{Kind: types.EventRaised, Alert: a.Clone(), Timestamp: now}
	}
	am.pending = append(am.pending, ev)
	am.mu.Unlock()

	if ev.Kind != types.EventUpdated {
		am.log.Warn("Alert "+string(ev.Kind), "alert_id", ev.Alert.ID, "target", ev.Alert.Component,
			"alert_type", ev.Alert.AlertType, "level", ev.Alert.Level, "message", ev.Alert.Message)
	}
	am.flush()
	return ev.Alert
}

// Resolve closes the alert with id
func (am *AlertManager) Resolve(id string) error {
	am.mu.Lock()
	a, ok := am.alerts[id]
	if !ok {
		am.mu.Unlock()
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeAlertNotFound, "alert not found", id, nil)
	}
	if !a.Active {
		am.mu.Unlock()
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeAlertAlreadyResolved, "alert already resolved", id, nil)
	}
	am.pending = append(am.pending, am.resolveLocked(a))
	am.mu.Unlock()

	am.flush()
	return nil
}

// ResolveCondition closes the active alert for (component, alertType), if any
func (am *AlertManager) ResolveCondition(component, alertType string) bool {
	am.mu.Lock()
	id, ok := am.active[types.AlertKey{Component: component, AlertType: alertType}]
	if !ok {
		am.mu.Unlock()
		return false
	}
	am.pending = append(am.pending, am.resolveLocked(am.alerts[id]))
	am.mu.Unlock()

	am.flush()
	return true
}

// AutoResolve closes every active alert raised by source whose key is not
// in reported. It returns the number of alerts closed.
func (am *AlertManager) AutoResolve(source string, reported map[types.AlertKey]bool) int {
	return am.resolveWhere(func(a *types.Alert) bool {
		return a.Source == source && !reported[a.Key()]
	})
}

// ResolveAll closes every active alert
func (am *AlertManager) ResolveAll() int {
	return am.resolveWhere(func(*types.Alert) bool { return true })
}

func (am *AlertManager) resolveWhere(match func(*types.Alert) bool) int {
	am.mu.Lock()
	var events []types.Event
	for _, id := range am.active {
		a := am.alerts[id]
		if match(a) {
			events = append(events, am.resolveLocked(a))
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Alert.CreatedAt.Before(events[j].Alert.CreatedAt) })
	am.pending = append(am.pending, events...)
	am.mu.Unlock()

	am.flush()
	return len(events)
}

func (am *AlertManager) resolveLocked(a *types.Alert) types.Event {
	now := am.now()
	a.Active = false
	a.ResolvedAt = &now
	a.UpdatedAt = now
	delete(am.active, a.Key())
	am.log.Info("Alert resolved", "alert_id", a.ID, "target", a.Component, "alert_type", a.AlertType)
	return types.Event{Kind: types.EventResolved, Alert: a.Clone(), Timestamp: now}
}

// flush delivers queued events unless another goroutine is already doing so
func (am *AlertManager) flush() {
	am.mu.Lock()
	if am.flushing {
		am.mu.Unlock()
		return
	}
	am.flushing = true
	for len(am.pending) > 0 {
		batch := am.pending
		am.pending = nil
		listeners := am.listeners
		am.mu.Unlock()
		for _, ev := range batch {
			am.emit(listeners, ev)
		}
		am.mu.Lock()
	}
	am.flushing = false
	am.mu.Unlock()
}

func (am *AlertManager) emit(listeners []func(types.Event), ev types.Event) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					am.log.Error("Alert listener panicked", "panic", r, "alert_id", ev.Alert.ID)
				}
			}()
			fn(ev)
		}()
	}
}

// Get returns a copy of the alert with id
func (am *AlertManager) Get(id string) (*types.Alert, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	a, ok := am.alerts[id]
	if !ok {
		return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeAlertNotFound, "alert not found", id, nil)
	}
	return a.Clone(), nil
}

// ActiveAlerts returns active alerts for component ("" for all), oldest first
func (am *AlertManager) ActiveAlerts(component string) []*types.Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()
	out := make([]*types.Alert, 0, len(am.active))
	for _, id := range am.order {
		a := am.alerts[id]
		if a.Active && (component == "" || a.Component == component) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// History returns up to limit alerts, newest first. limit <= 0 returns all.
func (am *AlertManager) History(limit int) []*types.Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()
	n := len(am.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*types.Alert, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, am.alerts[am.order[i]].Clone())
	}
	return out
}

// Prune drops resolved alerts resolved before now minus retention
func (am *AlertManager) Prune(now time.Time) int {
	cutoff := now.Add(-am.retention)
	am.mu.Lock()
	defer am.mu.Unlock()

	kept := am.order[:0]
	dropped := 0
	for _, id := range am.order {
		a := am.alerts[id]
		if !a.Active && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			delete(am.alerts, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	am.order = kept
	if dropped > 0 {
		am.log.Debug("Pruned resolved alerts", "count", dropped)
	}
	return dropped
}

// trimLocked enforces maxHistory by dropping the oldest resolved alerts
func (am *AlertManager) trimLocked() {
	over := len(am.order) - am.maxHistory
	if over <= 0 {
		return
	}
	kept := am.order[:0]
	for _, id := range am.order {
		if over > 0 && !am.alerts[id].Active {
			delete(am.alerts, id)
			over--
			continue
		}
		kept = append(kept, id)
	}
	am.order = kept
}

// Load seeds the table with alerts read back from durable storage. Active
// alerts whose slot is already taken are ignored.
func (am *AlertManager) Load(alerts []*types.Alert) int {
	am.mu.Lock()
	defer am.mu.Unlock()

	sorted := make([]*types.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a != nil && a.ID != "" {
			sorted = append(sorted, a)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	loaded := 0
	for _, a := range sorted {
		if _, exists := am.alerts[a.ID]; exists {
			continue
		}
		if a.Active {
			if _, taken := am.active[a.Key()]; taken {
				continue
			}
			am.active[a.Key()] = a.ID
		}
		am.alerts[a.ID] = a.Clone()
		am.order = append(am.order, a.ID)
		loaded++
	}
	sort.SliceStable(am.order, func(i, j int) bool {
		return am.alerts[am.order[i]].CreatedAt.Before(am.alerts[am.order[j]].CreatedAt)
	})
	am.trimLocked()
	return loaded
}

// Summary counts alerts by state, level and component. Level and
// component counts cover active alerts only.
func (am *AlertManager) Summary() AlertSummary {
	am.mu.RLock()
	defer am.mu.RUnlock()
	s := AlertSummary{
		Total:       len(am.alerts),
		ByLevel:     make(map[types.Level]int),
		ByComponent: make(map[string]int),
	}
	for _, a := range am.alerts {
		if !a.Active {
			s.Resolved++
			continue
		}
		s.Active++
		s.ByLevel[a.Level]++
		s.ByComponent[a.Component]++
	}
	return s
}
